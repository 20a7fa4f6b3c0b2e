package cmd

import (
	"maps"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/drawscan/cli/config"
)

// Precedence for every setting: explicit CLI flag, then config file, then
// the flag's own default.

// resolveString returns the CLI value when set, otherwise configValue when
// non-empty, otherwise the flag default.
func resolveString(c *cli.Context, name, configValue string) string {
	if c.IsSet(name) {
		return c.String(name)
	}
	if configValue != "" {
		return configValue
	}
	return c.String(name)
}

// resolveInt returns the CLI value when set, otherwise configValue.
func resolveInt(c *cli.Context, name string, configValue int) int {
	if c.IsSet(name) {
		return c.Int(name)
	}
	return configValue
}

// resolveIntPtr is resolveInt for optional config values; a nil pointer
// falls through to the flag default.
func resolveIntPtr(c *cli.Context, name string, configValue *int) int {
	if c.IsSet(name) || configValue == nil {
		return c.Int(name)
	}
	return *configValue
}

// resolveBool returns the CLI value when set, otherwise configValue.
func resolveBool(c *cli.Context, name string, configValue bool) bool {
	if c.IsSet(name) {
		return c.Bool(name)
	}
	return configValue
}

// resolveDuration returns the CLI value when set, otherwise configValue
// when positive, otherwise the flag default.
func resolveDuration(c *cli.Context, name string, configValue time.Duration) time.Duration {
	if c.IsSet(name) {
		return c.Duration(name)
	}
	if configValue > 0 {
		return configValue
	}
	return c.Duration(name)
}

// resolveHeaders merges config headers with repeated --header Key:Value
// flags. Flags win on key collisions.
func resolveHeaders(c *cli.Context, name string, configValue map[string]string) (map[string]string, error) {
	headers := make(map[string]string, len(configValue))
	maps.Copy(headers, configValue)
	for _, raw := range c.StringSlice(name) {
		k, v, err := parseHeader(raw)
		if err != nil {
			return nil, err
		}
		headers[k] = v
	}
	if len(headers) == 0 {
		return nil, nil
	}
	return headers, nil
}

// configVal safely extracts a value from a possibly-nil config.
func configVal[T any](cfg *config.Config, fn func(*config.Config) T) T {
	if cfg == nil {
		var zero T
		return zero
	}
	return fn(cfg)
}

// loadConfig loads --config, or drawscan.yaml from the working directory
// when present.
func loadConfig(c *cli.Context) (*config.Config, error) {
	if path := c.String("config"); path != "" {
		return config.Load(path)
	}
	return config.LoadOptional(config.DefaultPath, true)
}
