// Copyright 2024-2026 Aiku AI

package notifier

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/octoprint-matrix-notifier/pkg/octoprint"
)

// maxSnapshotSize bounds the size of a single camera frame (20 MB).
const maxSnapshotSize = 20 << 20

// ErrNoSnapshotURL is returned when neither the config nor the host provide
// a snapshot URL.
var ErrNoSnapshotURL = errors.New("no webcam snapshot URL configured")

// defaultCameraName names the single webcam when no cameras are listed.
const defaultCameraName = "webcam"

// Snapshot is one captured and transformed camera frame.
type Snapshot struct {
	Camera   string
	Filename string
	Data     []byte
}

// WebcamSource provides the host's global webcam settings.
type WebcamSource interface {
	BaseURL() string
	WebcamSettings(ctx context.Context) (*octoprint.WebcamSettings, error)
}

// Snapshotter captures camera frames. Attached to a Bus, it answers
// SignalCaptureRequested with SignalCaptureDone or SignalCaptureFailed from
// its own goroutine.
type Snapshotter struct {
	config func() *Config
	webcam WebcamSource
	log    zerolog.Logger
	now    func() time.Time

	bus *Bus
	sub Subscription
	ctx context.Context
	wg  sync.WaitGroup
}

// NewSnapshotter creates a Snapshotter reading the current config through
// config. webcam may be nil.
func NewSnapshotter(config func() *Config, webcam WebcamSource, log zerolog.Logger) *Snapshotter {
	return &Snapshotter{
		config: config,
		webcam: webcam,
		log:    log.With().Str("component", "snapshot").Logger(),
		now:    time.Now,
	}
}

// Attach subscribes the snapshotter to capture requests on bus.
func (s *Snapshotter) Attach(ctx context.Context, bus *Bus) {
	s.ctx = ctx
	s.bus = bus
	s.sub = bus.Subscribe(SignalCaptureRequested, s.handleRequest)
}

// Detach unsubscribes from the bus and waits for running captures.
func (s *Snapshotter) Detach() {
	if s.bus != nil {
		s.bus.Unsubscribe(s.sub)
	}
	s.wg.Wait()
}

func (s *Snapshotter) handleRequest(_ string, payload any) {
	req, ok := payload.(CaptureRequest)
	if !ok {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		snapshots, err := s.Capture(s.ctx)
		if err != nil {
			s.log.Warn().Err(err).Str("request_id", req.RequestID).Msg("Snapshot capture failed")
			s.bus.Fire(SignalCaptureFailed, CaptureResult{RequestID: req.RequestID, Err: err})
			return
		}
		s.bus.Fire(SignalCaptureDone, CaptureResult{RequestID: req.RequestID, Snapshots: snapshots})
	}()
}

// Capture fetches one frame from every configured camera in parallel and
// applies each camera's flips and rotation, in that order. Cameras that
// fail are logged and left out; an error is returned only when no camera
// produced a frame.
func (s *Snapshotter) Capture(ctx context.Context) ([]Snapshot, error) {
	cfg := s.config()
	opts, cameras := s.resolveCameras(ctx, cfg.Webcam)
	if len(cameras) == 0 {
		s.log.Info().Msg("Please configure the webcam snapshot settings before enabling sending snapshots")
		return nil, ErrNoSnapshotURL
	}

	timeout := time.Duration(opts.Timeout) * time.Second
	if timeout <= 0 {
		timeout = cfg.SnapshotTimeout()
	}
	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:           proxyFunc(opts.HTTPProxy, opts.HTTPSProxy),
			TLSClientConfig: &tls.Config{InsecureSkipVerify: !opts.SSLValidation},
		},
	}
	defer client.CloseIdleConnections()

	stamp := s.now().Format("2006_01_02-15_04_05")
	frames := make([][]byte, len(cameras))
	errs := make([]error, len(cameras))
	var wg sync.WaitGroup
	for i, cam := range cameras {
		wg.Add(1)
		go func() {
			defer wg.Done()
			frames[i], errs[i] = s.captureCamera(ctx, client, cam)
		}()
	}
	wg.Wait()

	snapshots := make([]Snapshot, 0, len(cameras))
	for i, cam := range cameras {
		if errs[i] != nil {
			s.log.Warn().Err(errs[i]).Str("camera", cam.Name).Msg("Failed to capture camera")
			continue
		}
		snapshot := Snapshot{Camera: cam.Name, Filename: cam.Name + "_" + stamp + ".jpg", Data: frames[i]}
		s.log.Debug().
			Str("camera", cam.Name).
			Str("filename", snapshot.Filename).
			Int("size", len(snapshot.Data)).
			Msg("Snapshot captured")
		snapshots = append(snapshots, snapshot)
	}
	if len(snapshots) == 0 {
		return nil, errors.Join(errs...)
	}
	return snapshots, nil
}

func (s *Snapshotter) captureCamera(ctx context.Context, client *http.Client, cam CameraConfig) ([]byte, error) {
	s.log.Debug().Str("camera", cam.Name).Str("snapshot_url", cam.SnapshotURL).Msg("Fetching snapshot")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cam.SnapshotURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid snapshot URL: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch snapshot: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch snapshot: HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("snapshot endpoint returned no data")
	}

	s.log.Debug().
		Str("camera", cam.Name).
		Bool("flip_h", cam.FlipH).
		Bool("flip_v", cam.FlipV).
		Int("rotate", cam.Rotate).
		Msg("Image transformations")
	return transformImage(data, cam.FlipH, cam.FlipV, cam.Rotate)
}

// resolveCameras returns the request options and the cameras to capture.
// Locally configured cameras win, then the local snapshot URL, then the
// host's MultiCam profiles and finally the host's global webcam.
func (s *Snapshotter) resolveCameras(ctx context.Context, settings WebcamConfig) (WebcamConfig, []CameraConfig) {
	if len(settings.Cameras) > 0 {
		return settings, settings.Cameras
	}
	if settings.SnapshotURL != "" {
		return settings, []CameraConfig{{
			Name:        defaultCameraName,
			SnapshotURL: settings.SnapshotURL,
			FlipH:       settings.FlipH,
			FlipV:       settings.FlipV,
			Rotate:      settings.Rotate,
		}}
	}
	if s.webcam == nil {
		return settings, nil
	}
	global, err := s.webcam.WebcamSettings(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to read webcam settings from OctoPrint")
		return settings, nil
	}
	if global.SnapshotTimeout > 0 {
		settings.Timeout = global.SnapshotTimeout
	}
	if global.SnapshotSSLValidation != nil {
		settings.SSLValidation = *global.SnapshotSSLValidation
	}

	var cameras []CameraConfig
	if len(global.Profiles) > 0 {
		for i, profile := range global.Profiles {
			if profile.Snapshot == "" {
				continue
			}
			name := profile.Name
			if name == "" {
				name = fmt.Sprintf("camera%d", i+1)
			}
			cameras = append(cameras, CameraConfig{
				Name:        name,
				SnapshotURL: s.hostURL(profile.Snapshot),
				FlipH:       profile.FlipH,
				FlipV:       profile.FlipV,
				Rotate:      hostRotation(profile.Rotate90, settings.InvertRotation),
			})
		}
	} else if global.SnapshotURL != "" {
		cameras = append(cameras, CameraConfig{
			Name:        defaultCameraName,
			SnapshotURL: s.hostURL(global.SnapshotURL),
			FlipH:       global.FlipH,
			FlipV:       global.FlipV,
			Rotate:      hostRotation(global.Rotate90, settings.InvertRotation),
		})
	}
	return settings, cameras
}

// hostURL resolves snapshot URLs relative to the OctoPrint base URL.
func (s *Snapshotter) hostURL(raw string) string {
	if strings.HasPrefix(raw, "/") {
		return s.webcam.BaseURL() + raw
	}
	return raw
}

// hostRotation maps OctoPrint's rotate90 flag to clockwise degrees.
func hostRotation(rotate90, invert bool) int {
	switch {
	case !rotate90:
		return 0
	case invert:
		return 270
	default:
		return 90
	}
}

func proxyFunc(httpProxy, httpsProxy string) func(*http.Request) (*url.URL, error) {
	if httpProxy == "" && httpsProxy == "" {
		return nil
	}
	return func(req *http.Request) (*url.URL, error) {
		raw := httpProxy
		if req.URL.Scheme == "https" {
			raw = httpsProxy
		}
		if raw == "" {
			return nil, nil
		}
		return url.Parse(raw)
	}
}

// transformImage flips horizontally, flips vertically, then rotates
// clockwise by rotate degrees. Untouched frames are returned as is.
func transformImage(data []byte, flipH, flipV bool, rotate int) ([]byte, error) {
	rotate = ((rotate % 360) + 360) % 360
	if !flipH && !flipV && rotate == 0 {
		return data, nil
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	var out image.Image = img
	if flipH {
		out = imaging.FlipH(out)
	}
	if flipV {
		out = imaging.FlipV(out)
	}
	// imaging rotates counter-clockwise.
	switch rotate {
	case 90:
		out = imaging.Rotate270(out)
	case 180:
		out = imaging.Rotate180(out)
	case 270:
		out = imaging.Rotate90(out)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// uploadSnapshot uploads a captured frame. Failures are logged and reported
// as ok=false so the message is sent without the image.
func uploadSnapshot(ctx context.Context, transport Transport, data []byte, filename string, log zerolog.Logger) (id.ContentURI, bool) {
	if len(data) == 0 {
		return id.ContentURI{}, false
	}
	uri, err := transport.UploadMedia(ctx, data, filename, http.DetectContentType(data))
	if err != nil {
		log.Warn().Err(err).Str("filename", filename).Msg("Unable to upload snapshot")
		return id.ContentURI{}, false
	}
	log.Debug().Str("mxc_url", uri.String()).Msg("Uploaded snapshot")
	return uri, true
}
