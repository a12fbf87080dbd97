// Package main is the entry point for the safety gate load test binary.
// It provides subcommands for different load testing scenarios:
//
//   - evaluate: Evaluate throughput over NATS with a mixed message corpus
//   - ping:     Round-trip latency of the evaluate subject without evaluation
//
// Usage:
//
//	loadtest <command> [options]
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "evaluate":
		runEvaluate(os.Args[2:])
	case "ping":
		runPing(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: loadtest <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  evaluate    Evaluate throughput: concurrent workers send a mixed corpus of messages")
	fmt.Println("  ping        Transport latency: ping/pong over the evaluate subject")
	fmt.Println()
	fmt.Println("Run 'loadtest <command> -h' for command-specific options.")
}
