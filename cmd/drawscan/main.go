// Package main provides the drawscan CLI entrypoint.
//
// Usage:
//
//	drawscan <command> [options]
//
// Exit codes for analyze and replay:
//   - 0: analysis completed
//   - 1: analysis completed with server-reported errors
//   - 2: transport or framing failure
//   - 3: canceled
//   - 64: usage error (flags, config, input file)
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/drawscan/cli/cmd"
	"github.com/justapithecus/drawscan/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	// A missing .env is fine; variables may come from the environment.
	_ = godotenv.Load()

	app := &cli.App{
		Name:           "drawscan",
		Usage:          "Stream engineering drawing analysis results",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.AnalyzeCommand(),
			cmd.ReplayCommand(),
			cmd.HistoryCommand(),
			cmd.VersionCommand(commit),
		},
	}

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already handled the exit for cli.ExitCoder errors.
		os.Exit(1)
	}
}

// exitErrHandler handles errors from the CLI, preserving exit codes from cli.Exit().
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()

		// cli.Exit("", N).Error() returns "exit status N"; skip those
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
