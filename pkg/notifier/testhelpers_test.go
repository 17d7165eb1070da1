// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/octoprint-matrix-notifier/pkg/octoprint"
)

const (
	testToken  = "syt_secret_token"
	testRoomID = "!printer:example.org"
	testAlias  = "#printer:example.org"
	testMXC    = "mxc://example.org/snapshot"
)

// endpointCall records which API endpoints were hit during a test.
type endpointCall struct {
	Method string
	Path   string
	Query  string
	Auth   string
	Body   string
}

// fakeHomeserver is a test helper that wraps an httptest.Server simulating
// the Matrix client-server API. It records calls and provides canned
// responses.
type fakeHomeserver struct {
	Server *httptest.Server

	mu    sync.Mutex
	calls []endpointCall

	// Aliases maps room aliases to room IDs for directory lookups.
	Aliases map[string]string
	// ContentURI is returned by uploads. Empty omits content_uri.
	ContentURI string
	// UserID is returned by whoami.
	UserID string
	// FailEndpoints makes path prefixes return the given status.
	FailEndpoints map[string]int
}

func newFakeHomeserver() *fakeHomeserver {
	f := &fakeHomeserver{
		Aliases:       map[string]string{testAlias: testRoomID},
		ContentURI:    testMXC,
		UserID:        "@printer-bot:example.org",
		FailEndpoints: make(map[string]int),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	return f
}

func (f *fakeHomeserver) Close() {
	f.Server.Close()
}

func (f *fakeHomeserver) URL() string {
	return f.Server.URL
}

func (f *fakeHomeserver) Fail(prefix string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FailEndpoints[prefix] = status
}

func (f *fakeHomeserver) SetContentURI(uri string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ContentURI = uri
}

func (f *fakeHomeserver) AddAlias(alias, roomID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Aliases[alias] = roomID
}

func (f *fakeHomeserver) Calls() []endpointCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]endpointCall, len(f.calls))
	copy(cp, f.calls)
	return cp
}

// CallsTo returns the calls whose path contains part.
func (f *fakeHomeserver) CallsTo(part string) []endpointCall {
	var out []endpointCall
	for _, c := range f.Calls() {
		if strings.Contains(c.Path, part) {
			out = append(out, c)
		}
	}
	return out
}

// SentEvents returns the decoded bodies of all sent room events.
func (f *fakeHomeserver) SentEvents(t *testing.T) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, c := range f.CallsTo("/send/") {
		var body map[string]any
		if err := json.Unmarshal([]byte(c.Body), &body); err != nil {
			t.Fatalf("send body is not JSON: %v", err)
		}
		out = append(out, body)
	}
	return out
}

func (f *fakeHomeserver) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	path := r.URL.Path

	f.mu.Lock()
	f.calls = append(f.calls, endpointCall{
		Method: r.Method,
		Path:   path,
		Query:  r.URL.RawQuery,
		Auth:   r.Header.Get("Authorization"),
		Body:   string(body),
	})
	var failStatus int
	for prefix, status := range f.FailEndpoints {
		if strings.HasPrefix(path, prefix) {
			failStatus = status
		}
	}
	contentURI := f.ContentURI
	f.mu.Unlock()

	if failStatus != 0 {
		writeMatrixError(w, failStatus, "M_UNKNOWN", "injected failure")
		return
	}

	switch {
	case strings.HasPrefix(path, "/_matrix/client/v3/directory/room/"):
		alias := strings.TrimPrefix(path, "/_matrix/client/v3/directory/room/")
		f.mu.Lock()
		roomID, ok := f.Aliases[alias]
		f.mu.Unlock()
		if !ok {
			writeMatrixError(w, http.StatusNotFound, "M_NOT_FOUND", "Room alias not found")
			return
		}
		writeJSONResponse(w, map[string]any{"room_id": roomID, "servers": []string{"example.org"}})

	case strings.HasPrefix(path, "/_matrix/client/v3/rooms/") && strings.Contains(path, "/send/"):
		writeJSONResponse(w, map[string]string{"event_id": "$event" + time.Now().Format("150405.000000")})

	case strings.HasSuffix(path, "/upload"):
		if contentURI == "" {
			writeJSONResponse(w, map[string]string{})
			return
		}
		writeJSONResponse(w, map[string]string{"content_uri": contentURI})

	case path == "/_matrix/client/v3/account/whoami":
		f.mu.Lock()
		userID := f.UserID
		f.mu.Unlock()
		writeJSONResponse(w, map[string]string{"user_id": userID})

	default:
		writeMatrixError(w, http.StatusNotFound, "M_UNRECOGNIZED", "Unrecognized request")
	}
}

func writeJSONResponse(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeMatrixError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"errcode": code, "error": msg})
}

// testConfig returns the default config pointed at hs with snapshots off.
func testConfig(t *testing.T, hs *fakeHomeserver) *Config {
	t.Helper()
	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatalf("DefaultConfig: %v", err)
	}
	if hs != nil {
		cfg.Homeserver = hs.URL()
	}
	cfg.AccessToken = testToken
	cfg.Room = testRoomID
	cfg.SendSnapshot = false
	cfg.OctoPrint.URL = ""
	cfg.API.Listen = ""
	return cfg
}

// newTestNotifier creates a Notifier with a silent logger and a fixed clock.
func newTestNotifier(cfg *Config, printer Printer) *Notifier {
	n := NewNotifier(cfg, printer, zerolog.Nop())
	n.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return n
}

// fakePrinter returns canned telemetry.
type fakePrinter struct {
	temps   map[string]octoprint.Temperature
	data    *octoprint.CurrentData
	tempErr error
	dataErr error
}

func (p *fakePrinter) CurrentTemperatures(context.Context) (map[string]octoprint.Temperature, error) {
	return p.temps, p.tempErr
}

func (p *fakePrinter) CurrentData(context.Context) (*octoprint.CurrentData, error) {
	return p.data, p.dataErr
}

// captureResponder answers capture requests on a bus synchronously.
type captureResponder struct {
	mu       sync.Mutex
	requests []CaptureRequest
	respond  func(bus *Bus, req CaptureRequest)
}

func attachResponder(bus *Bus, respond func(bus *Bus, req CaptureRequest)) *captureResponder {
	r := &captureResponder{respond: respond}
	bus.Subscribe(SignalCaptureRequested, func(_ string, payload any) {
		req := payload.(CaptureRequest)
		r.mu.Lock()
		r.requests = append(r.requests, req)
		r.mu.Unlock()
		if r.respond != nil {
			r.respond(bus, req)
		}
	})
	return r
}

func (r *captureResponder) Requests() []CaptureRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]CaptureRequest(nil), r.requests...)
}

func ptr[T any](v T) *T {
	return &v
}

// testJPEG encodes a w x h JPEG with a red top-left pixel.
func testJPEG(t testing.TB, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.White)
		}
	}
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 100}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
