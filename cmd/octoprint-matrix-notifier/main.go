// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command octoprint-matrix-notifier sends OctoPrint print notifications,
// optionally with a webcam snapshot, to a Matrix room. It follows the
// OctoPrint push socket and accepts events on a local webhook API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/aiku/octoprint-matrix-notifier/pkg/notifier"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const name = "octoprint-matrix-notifier"

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	var (
		configPath     string
		generateConfig bool
		showVersion    bool
	)
	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&configPath, "config", "c", "config.yaml", "path to the config file")
	flagSet.BoolVarP(&generateConfig, "generate-config", "g", false, "write the example config to --config and exit")
	flagSet.BoolVar(&showVersion, "version", false, "print the version and exit")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Fprintf(stdout, "%s %s (commit %s, built %s)\n", name, Tag, Commit, BuildTime)
		return nil
	}
	if generateConfig {
		if err := os.WriteFile(configPath, []byte(notifier.ExampleConfig), 0o600); err != nil {
			return fmt.Errorf("failed to write example config: %w", err)
		}
		fmt.Fprintf(stdout, "Wrote example config to %s\n", configPath)
		return nil
	}

	cfg, err := notifier.LoadConfig(configPath)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.Logging, stderr)
	if err != nil {
		return err
	}
	log.Info().
		Str("version", Tag).
		Str("commit", Commit).
		Str("config", configPath).
		Msg("Starting " + name)

	svc, err := notifier.NewService(cfg, configPath, Tag, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := svc.Start(ctx); err != nil {
		return err
	}
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Debug().Err(err).Msg("Failed to notify systemd")
	}

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return svc.Stop(shutdownCtx)
}

// newLogger builds the process logger from the logging config: colored
// console output by default, JSON lines when requested.
func newLogger(cfg notifier.LoggingConfig, out io.Writer) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}
	if !cfg.JSON {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.DateTime}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}
