// Package config loads the card configuration from a TOML file.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/levenlabs/go-lflag"

	"github.com/wattflow/wattflow/pkg/log"
	"github.com/wattflow/wattflow/pkg/types"
)

// Configured registers the card-config flag and loads the file in lflag.Do.
func Configured() *types.Config {
	path := lflag.String("card-config", "wattflow.toml", "Path to the card configuration TOML file")

	cfg := new(types.Config)
	lflag.Do(func() {
		c, err := Load(context.Background(), *path)
		if err != nil {
			panic(fmt.Sprintf("failed to load card config: %v", err))
		}
		*cfg = c
	})
	return cfg
}

// Load reads the card configuration at path, migrates it to the current
// version and resolves it.
func Load(ctx context.Context, path string) (types.Config, error) {
	var cfg types.Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return types.Config{}, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		log.Ctx(ctx).WarnContext(ctx, "unknown keys in card config", slog.String("path", path), slog.String("keys", strings.Join(keys, ",")))
	}
	return finish(ctx, cfg)
}

// Parse is Load for a config that's already in memory.
func Parse(ctx context.Context, data string) (types.Config, error) {
	var cfg types.Config
	if _, err := toml.Decode(data, &cfg); err != nil {
		return types.Config{}, fmt.Errorf("failed to decode card config: %w", err)
	}
	return finish(ctx, cfg)
}

func finish(ctx context.Context, cfg types.Config) (types.Config, error) {
	from := cfg.Version
	cfg, migrated, err := types.MigrateConfig(cfg, from)
	if err != nil {
		return types.Config{}, err
	}
	if migrated {
		log.Ctx(ctx).InfoContext(ctx, "migrated card config", slog.Int("from", from), slog.Int("to", cfg.Version))
	}
	return cfg.Resolve()
}
