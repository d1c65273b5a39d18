// Command demoserver starts a local stand-in for the audit backend.
// Usage: go run ./cmd/demoserver [port]
// Default port: 9999
package main

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/raysh454/scanflow/internal/demoserver"
)

func main() {
	cfg := demoserver.DefaultConfig()

	// Optional: custom port from command line
	if len(os.Args) > 1 {
		port, err := strconv.Atoi(os.Args[1])
		if err != nil || port < 1 || port > 65535 {
			log.Fatalf("Invalid port: %s", os.Args[1])
		}
		cfg.Port = port
	}

	fmt.Println("===========================================")
	fmt.Println("   Scanflow Demo Backend")
	fmt.Println("===========================================")
	fmt.Println()
	fmt.Println("Tasks advance one module every", cfg.StepInterval)
	fmt.Println("Premium modules:")
	for code, cost := range cfg.Premium {
		fmt.Printf("  - %s (%d credits)\n", code, cost)
	}
	fmt.Println()
	fmt.Printf("Point scanflow at it with: backend_url: http://localhost:%d\n", cfg.Port)
	fmt.Println()

	server := demoserver.NewDemoServer(cfg)
	if err := server.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
