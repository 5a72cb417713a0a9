// Package cmd provides the fixwise CLI commands.
//
// Commands:
//   - serve: HTTP JSON API server
//   - harvest: process queued harvest topics
//   - enrich: enrich a single error code from the terminal
//   - guides: fill or translate repair guides
//
// All commands load configuration the same way and shut down on
// SIGINT/SIGTERM via context cancellation.
package cmd

import (
	"fmt"
	"os"
)

// Execute is the main entry point for the fixwise CLI.
func Execute() error {
	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "serve":
		return runServe()
	case "harvest":
		return runHarvest(os.Args[2:])
	case "enrich":
		return runEnrich(os.Args[2:])
	case "guides":
		return runGuides(os.Args[2:])
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
	fmt.Println("FixWise - vehicle diagnostics knowledge service")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  fixwise serve                      Start the HTTP API server")
	fmt.Println("  fixwise harvest [n]                Process up to n queued topics (default 1)")
	fmt.Println("  fixwise harvest add TOPIC [PRIO]   Queue a topic for harvesting")
	fmt.Println("  fixwise harvest status             Show the queue backlog")
	fmt.Println("  fixwise enrich CODE [--quick]      Enrich one OBD2 error code")
	fmt.Println("  fixwise guides fill [CODE...]      Generate missing repair guides")
	fmt.Println("  fixwise guides translate [CODE...] Translate guides between languages")
	fmt.Println("  fixwise version                    Show version information")
	fmt.Println("  fixwise help                       Show this help")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  DATABASE_URL        Required: Postgres connection URL")
	fmt.Println("  OPENAI_API_KEY      Optional: enables structuring, guides, embeddings")
	fmt.Println("  PERPLEXITY_API_KEY  Optional: enables web research and harvesting")
	fmt.Println("  FIXWISE_API_TOKEN   Optional: bearer token for the HTTP API")
}
