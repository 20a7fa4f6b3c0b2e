package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/drawscan/cli/render"
	"github.com/justapithecus/drawscan/iox"
	"github.com/justapithecus/drawscan/log"
	"github.com/justapithecus/drawscan/metrics"
	"github.com/justapithecus/drawscan/runtime"
	"github.com/justapithecus/drawscan/types"
)

// ReplayCommand returns the replay command.
// It folds a captured NDJSON response through the same session pipeline
// as analyze, without contacting the server.
func ReplayCommand() *cli.Command {
	return &cli.Command{
		Name:      "replay",
		Usage:     "Rebuild the result from a captured NDJSON stream",
		ArgsUsage: "<capture.ndjson>",
		Flags: append([]cli.Flag{
			LogLevelFlag,
			&cli.BoolFlag{
				Name:  "strict",
				Usage: "Fail when the capture ends with an unterminated record",
			},
		}, OutputFlags()...),
		Action: replayAction,
	}
}

func replayAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("replay requires exactly one capture file", exitUsage)
	}
	path := c.Args().First()

	r, err := newOutputRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	f, err := os.Open(path)
	if err != nil {
		return cli.Exit(fmt.Sprintf("cannot open capture: %v", err), exitUsage)
	}
	defer iox.DiscardClose(f)

	meta := types.NewSessionMeta("replay://"+filepath.Base(path), filepath.Base(path))
	logger := log.NewLogger(meta)
	if err := logger.SetLevel(c.String("log-level")); err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	defer iox.DiscardErr(logger.Sync)

	session, err := runtime.NewSession(&runtime.SessionConfig{
		Meta:              meta,
		Source:            runtime.ReaderSource(f),
		Logger:            logger,
		Collector:         metrics.NewCollector(meta.SessionID, meta.Endpoint),
		StrictTermination: c.Bool("strict"),
	})
	if err != nil {
		return err
	}

	result, err := session.Execute(c.Context)
	if err != nil {
		return err
	}

	if err := r.Render(newReport(result, "", c.Bool("full-images") || r.Format() == render.FormatTable)); err != nil {
		return fmt.Errorf("render result: %w", err)
	}
	return cli.Exit("", runtime.ExitCode(result.Outcome))
}
