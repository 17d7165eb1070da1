// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package notifier

import (
	"context"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"

	"github.com/aiku/octoprint-matrix-notifier/pkg/notifier/msgfmt"
	"github.com/aiku/octoprint-matrix-notifier/pkg/octoprint"
)

// Printer provides the host's printer telemetry.
type Printer interface {
	CurrentTemperatures(ctx context.Context) (map[string]octoprint.Temperature, error)
	CurrentData(ctx context.Context) (*octoprint.CurrentData, error)
}

// queuedMessage is the rendered body waiting for delivery.
type queuedMessage struct {
	event string
	body  string
}

// pendingCapture tracks the capture subscriptions of the queued message.
type pendingCapture struct {
	requestID string
	done      Subscription
	failed    Subscription
	once      sync.Once
}

func (p *pendingCapture) unsubscribe(bus *Bus) {
	p.once.Do(func() {
		bus.Unsubscribe(p.done)
		bus.Unsubscribe(p.failed)
	})
}

// Notifier turns host events into Matrix messages. At most one message is
// queued at a time; with snapshots enabled it waits for the capture result
// on the bus before it is delivered.
type Notifier struct {
	Bus   *Bus
	Rooms RoomCache

	cfgMu  sync.RWMutex
	config *Config

	printer      Printer
	newTransport TransportFactory
	log          zerolog.Logger
	now          func() time.Time
	ctx          context.Context

	mu      sync.Mutex
	queued  *queuedMessage
	pending *pendingCapture
}

// NewNotifier creates a notifier. printer may be nil, in which case only the
// event payload is used for the message keys.
func NewNotifier(cfg *Config, printer Printer, log zerolog.Logger) *Notifier {
	return &Notifier{
		Bus:          NewBus(),
		config:       cfg,
		printer:      printer,
		newTransport: BuildTransport,
		log:          log.With().Str("component", "dispatcher").Logger(),
		now:          time.Now,
		ctx:          context.Background(),
	}
}

// SetContext sets the context used for deliveries that continue after a
// snapshot capture.
func (n *Notifier) SetContext(ctx context.Context) {
	n.ctx = ctx
}

// Config returns the current config.
func (n *Notifier) Config() *Config {
	n.cfgMu.RLock()
	defer n.cfgMu.RUnlock()
	return n.config
}

// SetConfig replaces the config. The next send builds its transport and
// resolves the room from the new values.
func (n *Notifier) SetConfig(cfg *Config) {
	n.cfgMu.Lock()
	defer n.cfgMu.Unlock()
	n.config = cfg
}

// OnEvent handles a host lifecycle event.
func (n *Notifier) OnEvent(ctx context.Context, name string, payload map[string]any) {
	log := n.log.With().Str("event", name).Logger()
	cfg := n.Config()
	if _, ok := cfg.Event(name); !ok {
		log.Trace().Msg("Event not enabled, ignoring")
		return
	}
	if payload == nil {
		payload = map[string]any{}
	}
	log.Info().Interface("payload", payload).Msg("Got event")

	keys := n.messageKeys(ctx, payload)
	n.notify(ctx, cfg, name, keys)
}

// OnPrintProgress handles a progress tick. Only percentages that are a
// multiple of the configured interval are reported, and 100% is left to the
// PrintDone event.
func (n *Notifier) OnPrintProgress(ctx context.Context, storage, filePath string, progress int) {
	cfg := n.Config()
	if _, ok := cfg.Event(EventProgress); !ok {
		return
	}
	interval := cfg.ProgressInterval()
	if progress <= 0 || progress%interval != 0 || progress == 100 {
		return
	}
	n.log.Debug().
		Str("storage", storage).
		Str("path", filePath).
		Int("progress", progress).
		Msg("Reporting print progress")

	keys := n.messageKeys(ctx, nil)
	keys[KeyPctCompleted] = strconv.Itoa(progress)
	if keys[KeyFilename] == "" && filePath != "" {
		keys[KeyFilename] = path.Base(filePath)
	}
	n.notify(ctx, cfg, EventProgress, keys)
}

func (n *Notifier) messageKeys(ctx context.Context, payload map[string]any) MessageKeys {
	keys := NewMessageKeys()
	if n.printer != nil {
		temps, err := n.printer.CurrentTemperatures(ctx)
		if err != nil {
			n.log.Debug().Err(err).Msg("Failed to get printer temperatures")
		} else {
			keys[KeyTemperature] = temperatureStatus(temps)
		}
		data, err := n.printer.CurrentData(ctx)
		if err != nil {
			n.log.Debug().Err(err).Msg("Failed to get job state")
		} else {
			keys.applyJob(data, n.now())
		}
	}
	keys.applyPayload(payload)
	return keys
}

func (n *Notifier) notify(ctx context.Context, cfg *Config, name string, keys MessageKeys) {
	body, err := cfg.Render(name, keys)
	if err != nil {
		n.log.Error().Err(err).Str("event", name).Msg("Failed to render message")
		return
	}
	n.enqueue(ctx, cfg, &queuedMessage{event: name, body: body})
}

func (n *Notifier) enqueue(ctx context.Context, cfg *Config, msg *queuedMessage) {
	n.mu.Lock()
	superseded := n.cancelPendingLocked()

	if !cfg.SendSnapshot {
		n.mu.Unlock()
		n.flushSuperseded(ctx, superseded)
		n.deliver(ctx, msg, nil)
		return
	}

	n.queued = msg
	pending := &pendingCapture{requestID: uuid.NewString()}
	handler := func(signal string, payload any) {
		n.handleCapture(pending, signal, payload)
	}
	pending.done = n.Bus.Subscribe(SignalCaptureDone, handler)
	pending.failed = n.Bus.Subscribe(SignalCaptureFailed, handler)
	n.pending = pending
	n.mu.Unlock()

	n.flushSuperseded(ctx, superseded)
	n.log.Debug().Str("request_id", pending.requestID).Str("event", msg.event).Msg("Requesting snapshot")
	n.Bus.Fire(SignalCaptureRequested, CaptureRequest{RequestID: pending.requestID})
}

// cancelPendingLocked tears down the subscriptions of a capture that is
// still pending and returns its queued message.
func (n *Notifier) cancelPendingLocked() *queuedMessage {
	pending := n.pending
	if pending == nil {
		return nil
	}
	n.pending = nil
	pending.unsubscribe(n.Bus)
	superseded := n.queued
	n.queued = nil
	return superseded
}

func (n *Notifier) flushSuperseded(ctx context.Context, msg *queuedMessage) {
	if msg == nil {
		return
	}
	n.log.Warn().Str("event", msg.event).Msg("Snapshot still pending for previous message, sending it without image")
	n.deliver(ctx, msg, nil)
}

// handleCapture consumes the first capture result for pending. Results
// without a request ID come from host-side captures and are accepted too.
func (n *Notifier) handleCapture(pending *pendingCapture, signal string, payload any) {
	result, ok := payload.(CaptureResult)
	if !ok || (result.RequestID != "" && result.RequestID != pending.requestID) {
		return
	}

	n.mu.Lock()
	if n.pending != pending {
		// Already consumed or superseded.
		n.mu.Unlock()
		return
	}
	n.pending = nil
	msg := n.queued
	n.queued = nil
	n.mu.Unlock()
	pending.unsubscribe(n.Bus)

	if signal == SignalCaptureDone && len(result.Snapshots) > 0 {
		n.deliver(n.ctx, msg, result.Snapshots)
		return
	}
	n.log.Warn().
		Err(result.Err).
		Str("signal", signal).
		Str("request_id", pending.requestID).
		Msg("No snapshot available, sending message without image")
	n.deliver(n.ctx, msg, nil)
}

// deliver sends msg to the configured room with the snapshots that could be
// uploaded. Errors are logged and the message is dropped.
func (n *Notifier) deliver(ctx context.Context, msg *queuedMessage, snapshots []Snapshot) {
	if msg == nil {
		return
	}
	cfg := n.Config()
	log := n.log.With().Str("event", msg.event).Logger()

	transport, err := n.newTransport(cfg, n.log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create Matrix client, dropping message")
		return
	}
	roomID, err := n.Rooms.Resolve(ctx, transport, cfg.Room)
	if err != nil {
		log.Error().Err(err).Str("room", cfg.Room).Msg("Failed to resolve room, dropping message")
		return
	}

	content := msgfmt.Parse(msg.body)
	var images []*event.MessageEventContent
	uploaded := 0
	for _, snapshot := range snapshots {
		uri, ok := uploadSnapshot(ctx, transport, snapshot.Data, snapshot.Filename, log)
		if !ok {
			continue
		}
		uploaded++
		if cfg.SnapshotAsImage {
			images = append(images, msgfmt.ImageContent(uri, snapshot.Filename, snapshot.Data))
		} else {
			msgfmt.WithImage(content, uri, snapshot.Filename)
		}
	}

	eventID, err := transport.SendEvent(ctx, roomID, event.EventMessage, content)
	if err != nil {
		log.Error().Err(err).Str("body", msg.body).Msg("Failed to send message")
		return
	}
	log.Info().
		Str("room_id", string(roomID)).
		Str("event_id", string(eventID)).
		Int("snapshots", uploaded).
		Bool("inline_snapshot", uploaded > 0 && !cfg.SnapshotAsImage).
		Msg("Sent notification")

	for _, image := range images {
		imageID, err := transport.SendEvent(ctx, roomID, event.EventMessage, image)
		if err != nil {
			log.Error().Err(err).Str("filename", image.Body).Msg("Failed to send snapshot")
			continue
		}
		log.Info().Str("event_id", string(imageID)).Str("filename", image.Body).Msg("Sent snapshot")
	}
}
