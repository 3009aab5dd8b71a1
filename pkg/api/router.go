// Package api wires the HTTP surface: the reconcile entry point, thread
// reads, streaming-state patches and the live chunk stream.
package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"threadloom/pkg/api/handlers"
	"threadloom/pkg/auth"
	"threadloom/pkg/stream"
)

// Handler builds the /v1 router. The stream registry is injected so tests
// can run the handlers against an isolated pub/sub. Signature verification
// wraps every route; the security middleware runs outside this handler.
func Handler(reg *stream.Registry) http.Handler {
	r := mux.NewRouter()
	r.Use(auth.RequireSignedAuthor)
	v1 := r.PathPrefix("/v1").Subrouter()
	handlers.RegisterReconcile(v1)
	handlers.RegisterThreads(v1)
	handlers.RegisterStreams(v1, reg)
	return r
}
