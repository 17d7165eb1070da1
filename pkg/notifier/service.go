// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package notifier

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/octoprint-matrix-notifier/pkg/octoprint"
)

// Service wires the notifier to its host: the OctoPrint client and push
// socket, the snapshot pipeline, the webhook API and the config watcher.
type Service struct {
	// ConfigPath is the file the config was loaded from. Empty disables
	// reloading.
	ConfigPath string
	Version    string

	Notifier    *Notifier
	Snapshotter *Snapshotter
	OctoPrint   *octoprint.Client

	log      zerolog.Logger
	listener *octoprint.Listener
	server   *http.Server
	addr     net.Addr

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a service for cfg. The OctoPrint client is only
// created when an OctoPrint URL is configured.
func NewService(cfg *Config, configPath, version string, log zerolog.Logger) (*Service, error) {
	s := &Service{
		ConfigPath: configPath,
		Version:    version,
		log:        log.With().Str("component", "service").Logger(),
		ctx:        context.Background(),
	}

	var (
		printer Printer
		webcam  WebcamSource
	)
	if cfg.OctoPrint.URL != "" {
		client, err := octoprint.NewClient(cfg.OctoPrint.URL, cfg.OctoPrint.APIKey, log)
		if err != nil {
			return nil, &ConfigError{Field: "octoprint.url", Message: "invalid OctoPrint URL", Err: err}
		}
		s.OctoPrint = client
		printer = client
		webcam = client
	}

	s.Notifier = NewNotifier(cfg, printer, log)
	s.Snapshotter = NewSnapshotter(s.Notifier.Config, webcam, log)
	return s, nil
}

// Start verifies the Matrix credentials, sends the startup notification and
// starts the background loops. A configuration error aborts the start;
// network errors are only logged since the homeserver may come up later.
func (s *Service) Start(ctx context.Context) error {
	cfg := s.Notifier.Config()
	if err := cfg.PostProcess(); err != nil {
		return fmt.Errorf("failed to post-process config: %w", err)
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.ctx = ctx
	s.Notifier.SetContext(ctx)
	s.Snapshotter.Attach(ctx, s.Notifier.Bus)

	if err := s.Notifier.OnAfterStartup(ctx); err != nil {
		if IsConfigError(err) {
			s.cancel()
			s.Snapshotter.Detach()
			return err
		}
		s.log.Warn().Err(err).Msg("Matrix homeserver not reachable at startup")
	}

	if cfg.API.Listen != "" {
		ln, err := net.Listen("tcp", cfg.API.Listen)
		if err != nil {
			s.cancel()
			s.Snapshotter.Detach()
			return fmt.Errorf("failed to listen on %s: %w", cfg.API.Listen, err)
		}
		s.addr = ln.Addr()
		s.server = &http.Server{
			Handler:      s.Handler(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.log.Info().Str("addr", s.addr.String()).Msg("Starting webhook API")
			if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error().Err(err).Msg("Webhook API error")
			}
		}()
	}

	if cfg.OctoPrint.ListenEvents && s.OctoPrint != nil {
		s.listener = octoprint.NewListener(s.OctoPrint, s.Notifier)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.listener.Run(ctx)
		}()
	}

	if s.ConfigPath != "" {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := watchConfig(ctx, s.ConfigPath, s.log, s.reloadFromWatcher); err != nil {
				s.log.Warn().Err(err).Str("path", s.ConfigPath).Msg("Config hot reload disabled")
			}
		}()
	}

	return nil
}

// Addr returns the address the webhook API listens on, or nil.
func (s *Service) Addr() net.Addr {
	return s.addr
}

// Stop shuts down the webhook API and waits for the background loops and
// running captures.
func (s *Service) Stop(ctx context.Context) error {
	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.Snapshotter.Detach()
	return err
}

// Reload re-reads the config file and swaps it in. The current config is
// kept when the new one fails to load.
func (s *Service) Reload() error {
	if s.ConfigPath == "" {
		return &ConfigError{Message: "no config file to reload"}
	}
	cfg, err := LoadConfig(s.ConfigPath)
	if err != nil {
		return err
	}
	old := s.Notifier.Config()
	if cfg.OctoPrint != old.OctoPrint || cfg.API != old.API {
		s.log.Warn().Msg("OctoPrint and API settings only apply after a restart")
	}
	s.Notifier.SetConfig(cfg)
	s.log.Info().Str("path", s.ConfigPath).Str("room", cfg.Room).Msg("Config reloaded")
	return nil
}

func (s *Service) reloadFromWatcher() {
	if err := s.Reload(); err != nil {
		s.log.Warn().Err(err).Str("path", s.ConfigPath).Msg("Failed to reload config, keeping the current one")
	}
}

// background runs fn on a tracked goroutine so Stop can wait for it.
func (s *Service) background(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}
