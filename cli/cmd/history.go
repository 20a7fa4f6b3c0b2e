package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/drawscan/adapter/redis"
	"github.com/justapithecus/drawscan/cli/config"
	"github.com/justapithecus/drawscan/iox"
)

// HistoryCommand returns the history command.
// It lists recent analysis_completed events kept by the Redis adapter.
func HistoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List recent completed analyses from the Redis history list",
		Flags: append([]cli.Flag{
			ConfigFlag,
			&cli.StringFlag{
				Name:  "adapter-url",
				Usage: "redis:// URL",
			},
			&cli.StringFlag{
				Name:  "adapter-history-key",
				Usage: "Redis list holding completion events",
			},
			&cli.Int64Flag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Number of events to show",
				Value:   20,
			},
		}, FormatFlag, NoColorFlag),
		Action: historyAction,
	}
}

func historyAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	url := resolveString(c, "adapter-url", configVal(cfg, func(c *config.Config) string { return c.Adapter.URL }))
	key := resolveString(c, "adapter-history-key", configVal(cfg, func(c *config.Config) string { return c.Adapter.HistoryKey }))
	if url == "" || key == "" {
		return cli.Exit("history requires --adapter-url and --adapter-history-key (or adapter.url and adapter.history_key in config)", exitUsage)
	}
	if c.Int64("limit") <= 0 {
		return cli.Exit("--limit must be > 0", exitUsage)
	}

	r, err := newOutputRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	a, err := redis.New(redis.Config{URL: url, HistoryKey: key})
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	defer iox.DiscardClose(a)

	events, err := a.History(c.Context, c.Int64("limit"))
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}
	return r.Render(events)
}
