// Package cli provides the command-line interface for repertoire.
// It exports Run() and RunWithHooks() to allow extension by wrapper projects.
package cli

import (
	"fmt"
	"io"
	"os"
)

// Version is the program version reported by "version" and the MCP server.
const Version = "0.1.0"

// Output streams, replaced in tests.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
	stdin  io.Reader = os.Stdin
)

// Hooks allows extending the CLI with additional commands.
type Hooks struct {
	// BeforeDispatch is called before command dispatch.
	// Return (handled=true, exitCode) to skip normal dispatch.
	BeforeDispatch func(command string, args []string) (handled bool, exitCode int)

	// CustomHelp returns additional help text to append.
	CustomHelp func() string

	// CustomVersion returns version info to append (optional).
	CustomVersion func() string
}

// Run executes the CLI with the given arguments.
// Returns exit code (0 = success, non-zero = error).
func Run(args []string) int {
	return RunWithHooks(args, nil)
}

// RunWithHooks executes CLI with extension hooks.
func RunWithHooks(args []string, hooks *Hooks) int {
	if len(args) < 1 {
		return runServe(args)
	}

	command := args[0]
	cmdArgs := args[1:]

	// Let hooks intercept first
	if hooks != nil && hooks.BeforeDispatch != nil {
		if handled, code := hooks.BeforeDispatch(command, cmdArgs); handled {
			return code
		}
	}

	switch command {
	case "serve":
		return runServe(cmdArgs)
	case "mcp":
		return runMCP(cmdArgs)
	case "import":
		return runImport(cmdArgs)
	case "export":
		return runExport(cmdArgs)
	case "get", "refs", "delete":
		return runCodeCommand(command, cmdArgs)
	case "list":
		return runList(cmdArgs)
	case "create":
		return runCreate(cmdArgs)
	case "update":
		return runUpdate(cmdArgs)
	case "rename":
		return runRename(cmdArgs)
	case "help", "-h", "--help":
		printHelp(hooks)
		return 0
	case "version", "-v", "--version":
		printVersion(hooks)
		return 0
	default:
		// Check if it's a flag (starts with -)
		if len(command) > 0 && command[0] == '-' {
			return runServe(args)
		}
		fmt.Fprintf(stderr, "Unknown command: %s\n", command)
		printHelp(hooks)
		return 1
	}
}

func printHelp(hooks *Hooks) {
	fmt.Fprintln(stdout, `Repertoire glyph server

Usage: repertoire [command] [options]

Server Commands:
  serve           Start the HTTP and WebSocket server (default)
  mcp             Serve MCP tools on stdin/stdout

Data Commands:
  get <table> <code>                 Show one entry
  list <table>                       List entries (--offset, --limit)
  refs <table> <code>                List the entries referring to an entry
  create <table> <json|@file|->      Create an entry
  update <table> <code> <json|@file|->
                                     Replace an entry
  delete <table> <code>              Delete an unreferenced entry
  rename <table> <from> <to>         Move an entry and rewrite its references
  import <file>                      Load a snapshot (--transform script.lua)
  export <file>                      Write a snapshot of both tables

Tables are "form" (glyphs) and "repertoire" (characters). Codes may be
written as a decimal number, U+E000, 0xE000 or the character itself.
Snapshot files end in .json, .yaml, .yml or .cbor, optionally followed
by .zst for compression.

Options:
  --config           Configuration file (default: repertoire.toml)
  --host             HTTP listen address (default: 127.0.0.1)
  --port             HTTP listen port (default: 8080)
  --storage          Storage type: memory, sqlite, postgresql
  --storage-path     SQLite database path
  --storage-url      PostgreSQL connection URL
  --component-range  Component allocation range, e.g. U+E000:U+E800
  --compound-range   Compound allocation range, e.g. U+E800:U+F000
  --log-level        Log level: debug, info, warn, error
  --dev              Human-readable development logging

Examples:
  repertoire serve --port 9000
  repertoire import glyphs.yaml.zst --transform fix.lua
  repertoire rename form U+E010 U+E020
  repertoire list repertoire --limit 20`)

	if hooks != nil && hooks.CustomHelp != nil {
		fmt.Fprintln(stdout, hooks.CustomHelp())
	}
}

func printVersion(hooks *Hooks) {
	fmt.Fprintln(stdout, "Repertoire v"+Version)
	if hooks != nil && hooks.CustomVersion != nil {
		fmt.Fprintln(stdout, hooks.CustomVersion())
	}
}
