// Copyright 2024-2026 Aiku AI

package octoprint

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

const testAPIKey = "octo-key"

// newFakeOctoPrint serves a small subset of the OctoPrint REST API and
// rejects requests without the expected API key.
func newFakeOctoPrint(t *testing.T, extra map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	routes := map[string]http.HandlerFunc{
		"/api/printer": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"temperature":{"tool0":{"actual":210.5,"target":210},"bed":{"actual":60,"target":null}}}`))
		},
		"/api/job": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"job":{"file":{"name":"benchy.gcode","path":"parts/benchy.gcode","origin":"local"},"user":"alice"},"progress":{"completion":42.5,"printTime":120,"printTimeLeft":3600},"state":"Printing"}`))
		},
		"/api/settings": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"webcam":{"snapshotUrl":"http://cam/snap","flipH":true,"rotate90":true,"snapshotTimeout":5,"snapshotSslValidation":false}}`))
		},
		"/api/login": func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
				http.Error(w, "bad login", http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(`{"name":"alice","session":"sess-1"}`))
		},
	}
	for path, h := range extra {
		routes[path] = h
	}
	for path, h := range routes {
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-Api-Key") != testAPIKey && r.URL.Path != "/sockjs/websocket" {
				http.Error(w, "invalid api key", http.StatusForbidden)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			h(w, r)
		})
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, baseURL, apiKey string) *Client {
	t.Helper()
	client, err := NewClient(baseURL+"/", apiKey, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return client
}

func TestNewClientRequiresURL(t *testing.T) {
	t.Parallel()
	if _, err := NewClient("", "key", zerolog.Nop()); err == nil {
		t.Fatal("expected an error for an empty base URL")
	}
}

func TestBaseURLTrimsSlash(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, "http://octopi.local", "")
	if got := client.BaseURL(); got != "http://octopi.local" {
		t.Errorf("BaseURL: got %q", got)
	}
}

func TestCurrentTemperatures(t *testing.T) {
	t.Parallel()
	srv := newFakeOctoPrint(t, nil)
	temps, err := newTestClient(t, srv.URL, testAPIKey).CurrentTemperatures(context.Background())
	if err != nil {
		t.Fatalf("CurrentTemperatures: %v", err)
	}
	tool, ok := temps["tool0"]
	if !ok || tool.Actual == nil || *tool.Actual != 210.5 {
		t.Errorf("tool0: got %+v", tool)
	}
	if bed := temps["bed"]; bed.Target != nil {
		t.Errorf("bed target should be nil, got %v", *bed.Target)
	}
}

func TestCurrentData(t *testing.T) {
	t.Parallel()
	srv := newFakeOctoPrint(t, nil)
	data, err := newTestClient(t, srv.URL, testAPIKey).CurrentData(context.Background())
	if err != nil {
		t.Fatalf("CurrentData: %v", err)
	}
	if data.Job.File.Path != "parts/benchy.gcode" || data.Job.File.Origin != "local" {
		t.Errorf("file: %+v", data.Job.File)
	}
	if data.Job.User == nil || *data.Job.User != "alice" {
		t.Errorf("user: %v", data.Job.User)
	}
	if data.Progress.PrintTimeLeft == nil || *data.Progress.PrintTimeLeft != 3600 {
		t.Errorf("printTimeLeft: %v", data.Progress.PrintTimeLeft)
	}
	if data.State != "Printing" {
		t.Errorf("state: %q", data.State)
	}
}

func TestWebcamSettings(t *testing.T) {
	t.Parallel()
	srv := newFakeOctoPrint(t, nil)
	settings, err := newTestClient(t, srv.URL, testAPIKey).WebcamSettings(context.Background())
	if err != nil {
		t.Fatalf("WebcamSettings: %v", err)
	}
	if settings.SnapshotURL != "http://cam/snap" || !settings.FlipH || !settings.Rotate90 || settings.SnapshotTimeout != 5 {
		t.Errorf("got %+v", *settings)
	}
	if settings.SnapshotSSLValidation == nil || *settings.SnapshotSSLValidation {
		t.Errorf("SnapshotSSLValidation: got %v, want false", settings.SnapshotSSLValidation)
	}
	if len(settings.Profiles) != 0 {
		t.Errorf("Profiles: got %+v", settings.Profiles)
	}
}

func TestWebcamSettingsMultiCam(t *testing.T) {
	t.Parallel()
	srv := newFakeOctoPrint(t, map[string]http.HandlerFunc{
		"/api/settings": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"webcam":{"snapshotUrl":"/webcam/?action=snapshot"},"plugins":{"multicam":{"multicam_profiles":[` +
				`{"name":"Default","snapshot":"http://cam1/snap","flipH":true},` +
				`{"name":"Nozzle","snapshot":"http://cam2/snap","rotate90":true}]}}}`))
		},
	})
	settings, err := newTestClient(t, srv.URL, testAPIKey).WebcamSettings(context.Background())
	if err != nil {
		t.Fatalf("WebcamSettings: %v", err)
	}
	if settings.SnapshotSSLValidation != nil {
		t.Errorf("absent snapshotSslValidation should stay nil, got %v", *settings.SnapshotSSLValidation)
	}
	want := []CameraProfile{
		{Name: "Default", Snapshot: "http://cam1/snap", FlipH: true},
		{Name: "Nozzle", Snapshot: "http://cam2/snap", Rotate90: true},
	}
	if len(settings.Profiles) != len(want) {
		t.Fatalf("Profiles: got %+v", settings.Profiles)
	}
	for i := range want {
		if settings.Profiles[i] != want[i] {
			t.Errorf("profile %d: got %+v, want %+v", i, settings.Profiles[i], want[i])
		}
	}
}

func TestAPIError(t *testing.T) {
	t.Parallel()
	srv := newFakeOctoPrint(t, map[string]http.HandlerFunc{
		"/api/printer": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "Printer is not operational", http.StatusConflict)
		},
	})

	tests := []struct {
		name   string
		apiKey string
		call   func(*Client) error
		status int
	}{
		{
			name:   "printer not operational",
			apiKey: testAPIKey,
			call: func(c *Client) error {
				_, err := c.CurrentTemperatures(context.Background())
				return err
			},
			status: http.StatusConflict,
		},
		{
			name:   "wrong api key",
			apiKey: "wrong",
			call: func(c *Client) error {
				_, err := c.CurrentData(context.Background())
				return err
			},
			status: http.StatusForbidden,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.call(newTestClient(t, srv.URL, tt.apiKey))
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected APIError, got %v", err)
			}
			if apiErr.StatusCode != tt.status {
				t.Errorf("StatusCode: got %d, want %d", apiErr.StatusCode, tt.status)
			}
			if apiErr.Method != http.MethodGet {
				t.Errorf("Method: got %q", apiErr.Method)
			}
		})
	}
}

func TestMalformedResponse(t *testing.T) {
	t.Parallel()
	srv := newFakeOctoPrint(t, map[string]http.HandlerFunc{
		"/api/job": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"job":`))
		},
	})
	_, err := newTestClient(t, srv.URL, testAPIKey).CurrentData(context.Background())
	if err == nil {
		t.Fatal("expected a parse error")
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		t.Errorf("parse errors should not be APIErrors: %v", err)
	}
}

func TestPassiveLogin(t *testing.T) {
	t.Parallel()
	srv := newFakeOctoPrint(t, nil)
	login, err := newTestClient(t, srv.URL, testAPIKey).passiveLogin(context.Background())
	if err != nil {
		t.Fatalf("passiveLogin: %v", err)
	}
	if login.Name != "alice" || login.Session != "sess-1" {
		t.Errorf("got %+v", login)
	}
}

func TestPassiveLoginWithoutSession(t *testing.T) {
	t.Parallel()
	srv := newFakeOctoPrint(t, map[string]http.HandlerFunc{
		"/api/login": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"name":"alice"}`))
		},
	})
	if _, err := newTestClient(t, srv.URL, testAPIKey).passiveLogin(context.Background()); err == nil {
		t.Fatal("expected an error for a login without session")
	}
}
