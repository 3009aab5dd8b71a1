package banner

import (
	"fmt"
)

const banner = `
▀█▀ █░█ █▀█ █▀▀ ▄▀█ █▀▄ █░░ █▀█ █▀█ █▀▄▀█
░█░ █▀█ █▀▄ ██▄ █▀█ █▄▀ █▄▄ █▄█ █▄█ █░▀░█
`

// Print writes the startup banner with the effective runtime settings.
func Print(addr, dbPath, sources, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("DB Path:  %s\n", dbPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	if sources != "" {
		fmt.Printf("Config sources: %s\n", sources)
	}
	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("POST  /v1/reconcile - Apply a user turn (new thread, append or edit)")
	fmt.Println("GET   /v1/threads - List the caller's threads, most recent first")
	fmt.Println("GET   /v1/threads/{id}/messages - Conversation history")
	fmt.Println("POST  /v1/threads/{id}/stream-state - Streaming state transitions")
	fmt.Println("PATCH /v1/threads/{id}/title - Rename a thread")
	fmt.Println("GET   /v1/streams/{id} - Attach or resume a live chunk stream")
	fmt.Println("\n== Examples ===================================================")
	fmt.Printf("curl -X POST 'http://localhost%s/v1/reconcile' -d '{\"user_message\":{\"parts\":[{\"type\":\"text\",\"text\":\"hello\"}]}}'\n", addr)
	fmt.Printf("curl 'http://localhost%s/v1/threads'\n", addr)
	fmt.Println()
}
