// Package cmd provides CLI commands for the drawscan binary.
package cmd

import "github.com/urfave/cli/v2"

// Exit codes outside the session outcome mapping.
const (
	exitUsage = 64 // bad flags, config or input file
)

// Shared output flags.
var (
	// FormatFlag selects output format: json, table, yaml, msgpack.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml, msgpack",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// FullImagesFlag keeps image payloads in rendered output.
	FullImagesFlag = &cli.BoolFlag{
		Name:  "full-images",
		Usage: "Include base64 image payloads in output",
	}

	// ConfigFlag points at a YAML config file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to YAML config file (default: ./drawscan.yaml if present)",
	}

	// LogLevelFlag sets the session log level.
	LogLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "Log level: debug, info, warn, error",
		Value: "info",
	}
)

// OutputFlags returns the shared flags for commands that render a result.
func OutputFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		FullImagesFlag,
	}
}
