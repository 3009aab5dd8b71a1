package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
)

func main() {
	addr := flag.String("addr", ":8081", "listen address for the health probe")
	ver := flag.String("version", "dev", "version string to return")
	flag.Parse()

	h := func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case "/health", "/healthz":
			ctx.Response.Header.Set("Content-Type", "application/json")
			ctx.SetStatusCode(fasthttp.StatusOK)
			// keep the handler lean; this binary exists so probes never pay
			// for the full router
			_, _ = ctx.WriteString(fmt.Sprintf("{\"status\":\"ok\",\"version\":\"%s\"}", *ver))
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		}
	}

	fmt.Printf("health probe listening on %s\n", *addr)
	srv := &fasthttp.Server{
		Handler:            h,
		Name:               "threadloom-healthprobe",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       5 * time.Second,
		MaxRequestBodySize: 1 << 20,
	}
	if err := srv.ListenAndServe(*addr); err != nil {
		fmt.Printf("health probe exit: %v\n", err)
	}
}
