// Package main implements the gostm command line tool.
//
// The tool drives the transactional memory under contention and reports what the
// engine did: commits, aborts, conflicts and speculative upgrades.
//
// Usage:
//
//	gostm stress -mode commute -workers 8 -ops 10000
//	gostm stress -mode transfer -refs 16 -isolation serializable
//	gostm version
package main

import (
	"fmt"
	"os"

	"github.com/kolkov/gostm/stm"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "stress":
		stressCommand(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("gostm version %s\n", stm.Version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`gostm - Software Transactional Memory for Go

USAGE:
    gostm <command> [arguments]

COMMANDS:
    stress     Run a contended workload and print engine statistics
    version    Show version information
    help       Show this help message

EXAMPLES:
    # Plain read-modify-write increments of one counter
    gostm stress -mode plain -workers 8 -ops 10000

    # The same workload with commuting increments
    gostm stress -mode commute -workers 8 -ops 10000

    # Random transfers between accounts, audited concurrently
    gostm stress -mode transfer -refs 32 -isolation serializable

    # Debug logging of speculative upgrades as JSON
    gostm stress -log-level DEBUG -log-format json

ABOUT:
    Every reference carries an ownership record. Transactions read optimistically,
    lock what they write at commit and publish by bumping a version. Speculative
    factories start on the cheapest transaction variant and move up the first
    time a transaction needs more.

`)
}
