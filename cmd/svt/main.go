package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Mindburn-Labs/progression/pkg/config"
	"github.com/Mindburn-Labs/progression/pkg/progression"
)

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
//
// Exit codes:
//
//	0 = success
//	1 = the operation was refused or failed
//	2 = usage or setup error
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	case "catalog":
		return runCatalogCmd(args[2:], stdout, stderr)
	}

	cmd, ok := commands[args[1]]
	if !ok && args[1] != "stats" {
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args[1] == "stats" {
		return runStatsCmd(ctx, cfg, args[2:], stdout, stderr)
	}

	fs := flag.NewFlagSet(args[1], flag.ContinueOnError)
	fs.SetOutput(stderr)
	var opts cmdOptions
	if cmd.flags != nil {
		cmd.flags(fs, &opts)
	}
	positional, err := parseInterleaved(fs, args[2:])
	if err != nil {
		return 2
	}
	if len(positional) != len(cmd.args) {
		_, _ = fmt.Fprintf(stderr, "Usage: svt %s %s\n", args[1], cmd.usage())
		return 2
	}

	a, err := openApp(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer a.Close(context.Background())

	out, err := cmd.run(ctx, a, positional, opts)
	if err != nil {
		return fail(stdout, stderr, err)
	}
	return emit(stdout, stderr, out)
}

// parseInterleaved lets flags appear before or after positional arguments.
func parseInterleaved(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

func emit(stdout, stderr io.Writer, v any) int {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: encode output: %v\n", err)
		return 1
	}
	return 0
}

// fail reports err on stderr. Unmet requirements also print their progress
// on stdout so callers can show what is missing.
func fail(stdout, stderr io.Writer, err error) int {
	var unmet *progression.RequirementsNotMetError
	if errors.As(err, &unmet) {
		_ = emit(stdout, stderr, unmet.Progress)
	}
	_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}

// ANSI Colors
const (
	ColorReset = "\033[0m"
	ColorBold  = "\033[1m"
	ColorGreen = "\033[32m"
	ColorCyan  = "\033[36m"
	ColorGray  = "\033[37m"
)

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintf(w, "%sSVT Progression%s\n", ColorBold+ColorCyan, ColorReset)
	_, _ = fmt.Fprintf(w, "%sMissions, achievements and token rewards.%s\n", ColorGray, ColorReset)
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintf(w, "%sUSAGE:%s\n", ColorBold, ColorReset)
	_, _ = fmt.Fprintln(w, "  svt <command> [flags] <args>")
	_, _ = fmt.Fprintln(w, "")

	printSection(w, "CATALOG")
	printCommand(w, "catalog check", "<file>", "Validate a mission catalog")

	printSection(w, "MISSIONS")
	printCommand(w, "missions", "<customer>", "List visible missions with progress")
	printCommand(w, "status", "<customer> <mission>", "Show one mission's lifecycle status")
	printCommand(w, "start", "<customer> <mission>", "Start a mission")
	printCommand(w, "complete", "<customer> <mission>", "Complete a mission and pay its reward")

	printSection(w, "ACHIEVEMENTS")
	printCommand(w, "evaluate", "<customer>", "Unlock achievements earned by current stats")
	printCommand(w, "achievements", "<customer>", "List achievements and unlock state")

	printSection(w, "LEDGER")
	printCommand(w, "balance", "<customer>", "Show the SVT balance")
	printCommand(w, "history", "<customer>", "Show ledger entries (-limit, -cursor)")
	printCommand(w, "export", "<customer>", "Archive the ledger as verified JSONL")
	printCommand(w, "tier", "<customer>", "Show the customer's tier")

	printSection(w, "DATA")
	printCommand(w, "stats import", "<file>", "Load a YAML stats fixture into the database")
	printCommand(w, "help", "", "Show this help")
	_, _ = fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	_, _ = fmt.Fprintf(w, "%s%s:%s\n", ColorBold+ColorCyan, title, ColorReset)
}

func printCommand(w io.Writer, name, args, desc string) {
	_, _ = fmt.Fprintf(w, "  %s%-14s%s %-22s %s\n", ColorGreen, name, ColorReset, args, desc)
}
