package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/drawscan/cli/render"
	"github.com/justapithecus/drawscan/transport"
	"github.com/justapithecus/drawscan/types"
)

// VersionResponse is the response for the version command.
type VersionResponse struct {
	Version  string `json:"version"`
	Commit   string `json:"commit"`
	Endpoint string `json:"default_endpoint"`
}

// VersionCommand returns the version command.
// It must not contact the analysis server.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Show version information",
		Flags:  []cli.Flag{FormatFlag, NoColorFlag},
		Action: versionAction(commit),
	}
}

func versionAction(commit string) cli.ActionFunc {
	return func(c *cli.Context) error {
		r, err := newOutputRenderer(c)
		if err != nil {
			return cli.Exit(err.Error(), exitUsage)
		}

		return r.Render(VersionResponse{
			Version:  types.Version,
			Commit:   commit,
			Endpoint: transport.DefaultEndpoint,
		})
	}
}

// newOutputRenderer builds a renderer from --format alone.
func newOutputRenderer(c *cli.Context) (*render.Renderer, error) {
	return render.NewRenderer(c, "")
}
