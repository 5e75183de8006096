// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/tessera-data/tessera/cmd/tessera/cli"
	"github.com/tessera-data/tessera/lib/config"
	"github.com/tessera-data/tessera/lib/format"
	"github.com/tessera-data/tessera/lib/repository"
)

type env struct {
	stdout io.Writer
	stderr io.Writer
}

// repoFlags are the flags every repository command accepts.
type repoFlags struct {
	ConfigPath string
	Path       string
	LogLevel   string
}

func (f *repoFlags) register(flagSet *pflag.FlagSet) {
	flagSet.StringVarP(&f.ConfigPath, "config", "c", "", "config file (default $TESSERA_CONFIG)")
	flagSet.StringVar(&f.Path, "path", "", "use a filesystem repository at this path")
	flagSet.StringVar(&f.LogLevel, "log-level", "", "override logging.level")
}

// newFlagSet returns a flag set with the repository flags registered.
func newFlagSet(name string, flags *repoFlags) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flags.register(flagSet)
	return flagSet
}

func (f *repoFlags) load() (*config.Config, error) {
	var cfg *config.Config
	var err error
	switch {
	case f.ConfigPath != "":
		cfg, err = config.LoadFile(f.ConfigPath)
	case f.Path != "":
		cfg = config.Default()
	default:
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if f.Path != "" {
		cfg.Storage.Backend = config.BackendFilesystem
		cfg.Storage.Path = f.Path
	}
	if f.LogLevel != "" {
		cfg.Logging.Level = f.LogLevel
	}
	return cfg, cfg.Validate()
}

// open opens (or, with create set, initializes) the repository the
// flags describe. The caller closes it.
func (e *env) open(ctx context.Context, flags *repoFlags, create bool) (*repository.Repository, *slog.Logger, error) {
	cfg, err := flags.load()
	if err != nil {
		return nil, nil, err
	}
	level, err := cfg.Logging.SlogLevel()
	if err != nil {
		return nil, nil, err
	}
	logger := cli.NewLogger(e.stderr, level)

	objects, err := repository.OpenStorage(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("opening storage: %w", err)
	}
	options := []repository.Option{repository.WithConfig(cfg), repository.WithLogger(logger)}
	var repo *repository.Repository
	if create {
		repo, err = repository.Create(ctx, objects, options...)
	} else {
		repo, err = repository.Open(ctx, objects, options...)
	}
	if err != nil {
		objects.Close()
		return nil, nil, err
	}
	if repo.Degraded() {
		logger.Warn("storage lacks atomic create; concurrent commits are best-effort",
			"backend", cfg.Storage.Backend)
	}
	return repo, logger, nil
}

// expectArgs checks the positional argument count.
func expectArgs(args []string, minimum, maximum int, usage string) error {
	if len(args) < minimum || len(args) > maximum {
		return fmt.Errorf("usage: %s", usage)
	}
	return nil
}

// shortID abbreviates snapshot identifiers in text output.
func shortID(id format.ObjectID) string {
	if id.IsZero() {
		return "-"
	}
	return id.Short()
}
