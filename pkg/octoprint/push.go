// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package octoprint

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// EventSink receives host lifecycle events and progress ticks.
type EventSink interface {
	OnEvent(ctx context.Context, name string, payload map[string]any)
	OnPrintProgress(ctx context.Context, storage, path string, progress int)
}

// Listener follows the OctoPrint push socket and forwards events and
// integer progress changes to an EventSink.
type Listener struct {
	client *Client
	sink   EventSink
	dialer *websocket.Dialer
	log    zerolog.Logger

	// ReconnectDelay is the pause between connection attempts.
	ReconnectDelay time.Duration

	lastPath     string
	lastProgress int
}

// NewListener creates a push socket listener for client.
func NewListener(client *Client, sink EventSink) *Listener {
	return &Listener{
		client:         client,
		sink:           sink,
		dialer:         &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:            client.log.With().Str("component", "octoprint_push").Logger(),
		ReconnectDelay: 15 * time.Second,
		lastProgress:   -1,
	}
}

// Run connects and reconnects until ctx is done.
func (l *Listener) Run(ctx context.Context) {
	for {
		err := l.runOnce(ctx)
		if ctx.Err() != nil {
			l.log.Info().Msg("Push listener stopped")
			return
		}
		l.log.Warn().Err(err).Dur("retry_in", l.ReconnectDelay).Msg("Push socket disconnected, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(l.ReconnectDelay):
		}
	}
}

func (l *Listener) runOnce(ctx context.Context) error {
	login, err := l.client.passiveLogin(ctx)
	if err != nil {
		return fmt.Errorf("passive login failed: %w", err)
	}

	wsURL := httpToWS(l.client.baseURL) + "/sockjs/websocket"
	conn, _, err := l.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect push socket: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	if err := conn.WriteJSON(map[string]string{"auth": login.Name + ":" + login.Session}); err != nil {
		return fmt.Errorf("failed to authenticate push socket: %w", err)
	}
	l.log.Info().Str("ws_url", wsURL).Str("user", login.Name).Msg("Push socket connected")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		l.handleMessage(ctx, data)
	}
}

func (l *Listener) handleMessage(ctx context.Context, data []byte) {
	var msg map[string]json.RawMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		l.log.Debug().Err(err).Msg("Ignoring malformed push message")
		return
	}

	if raw, ok := msg["event"]; ok {
		var evt pushEvent
		if err := json.Unmarshal(raw, &evt); err != nil || evt.Type == "" {
			l.log.Debug().Err(err).Msg("Ignoring malformed push event")
			return
		}
		l.log.Debug().Str("event", evt.Type).Msg("Received push event")
		l.sink.OnEvent(ctx, evt.Type, evt.Payload)
	}

	if raw, ok := msg["current"]; ok {
		var state pushState
		if err := json.Unmarshal(raw, &state); err != nil {
			return
		}
		l.handleProgress(ctx, &state)
	}
}

// handleProgress forwards a progress tick when the integer percentage of the
// running job changes.
func (l *Listener) handleProgress(ctx context.Context, state *pushState) {
	if !state.State.Flags.Printing || state.Progress.Completion == nil {
		return
	}
	pct := int(math.Floor(*state.Progress.Completion))
	path := state.Job.File.Path
	if path == l.lastPath && pct == l.lastProgress {
		return
	}
	l.lastPath = path
	l.lastProgress = pct
	l.sink.OnPrintProgress(ctx, state.Job.File.Origin, path, pct)
}

// httpToWS converts an HTTP(S) URL to a WS(S) URL.
func httpToWS(url string) string {
	if strings.HasPrefix(url, "https://") {
		return "wss://" + strings.TrimPrefix(url, "https://")
	}
	if strings.HasPrefix(url, "http://") {
		return "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url
}
