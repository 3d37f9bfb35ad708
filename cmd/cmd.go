// Package cmd provides the rexpro CLI commands.
//
// Commands:
//   - serve: HTTP API server with SSE streaming for the browser frontend
//   - migrate: apply pending database migrations and exit
//
// Signal handling and graceful shutdown are implemented via context
// cancellation.
package cmd

import (
	"fmt"
	"os"
)

// Execute is the main entry point for the rexpro CLI.
func Execute() error {
	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "serve":
		return runServe()
	case "migrate":
		return runMigrate()
	case "version", "--version", "-v":
		runVersion()
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

// runHelp displays the help message.
func runHelp() {
	fmt.Println("Rexpro - multimodal Gemini chat backend")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  rexpro serve [addr]  Start the HTTP API server (default: 127.0.0.1:3400)")
	fmt.Println("  rexpro migrate       Apply pending database migrations")
	fmt.Println("  rexpro --version     Show version information")
	fmt.Println("  rexpro --help        Show this help")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  GEMINI_API_KEY       Gemini API key (can also be set per user via the API)")
	fmt.Println("  DATABASE_URL         PostgreSQL URL, overrides postgres_* config keys")
	fmt.Println("  DEBUG                Enable debug logging")
	fmt.Println()
	fmt.Println("Configuration file: ~/.rexpro/config.yaml")
}
