// Copyright 2024-2026 Aiku AI

package octoprint

// Temperature is a single heater reading from /api/printer.
type Temperature struct {
	Actual *float64 `json:"actual"`
	Target *float64 `json:"target"`
	Offset *float64 `json:"offset,omitempty"`
}

type JobFile struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Origin string `json:"origin"`
}

type Job struct {
	File               JobFile  `json:"file"`
	EstimatedPrintTime *float64 `json:"estimatedPrintTime"`
	User               *string  `json:"user"`
}

type Progress struct {
	Completion    *float64 `json:"completion"`
	PrintTime     *float64 `json:"printTime"`
	PrintTimeLeft *float64 `json:"printTimeLeft"`
}

// CurrentData is the job and progress state reported by /api/job and in the
// "current" push messages.
type CurrentData struct {
	Job      Job      `json:"job"`
	Progress Progress `json:"progress"`
	State    string   `json:"state"`
}

// WebcamSettings is the subset of the global webcam settings used for
// snapshots. Profiles lists the MultiCam plugin cameras, if installed.
type WebcamSettings struct {
	SnapshotURL     string `json:"snapshotUrl"`
	FlipH           bool   `json:"flipH"`
	FlipV           bool   `json:"flipV"`
	Rotate90        bool   `json:"rotate90"`
	SnapshotTimeout int    `json:"snapshotTimeout"`
	// SnapshotSSLValidation is nil when the host does not report it.
	SnapshotSSLValidation *bool `json:"snapshotSslValidation"`

	Profiles []CameraProfile `json:"-"`
}

// CameraProfile is a MultiCam plugin camera.
type CameraProfile struct {
	Name     string `json:"name"`
	Snapshot string `json:"snapshot"`
	FlipH    bool   `json:"flipH"`
	FlipV    bool   `json:"flipV"`
	Rotate90 bool   `json:"rotate90"`
}

type printerResponse struct {
	Temperature map[string]Temperature `json:"temperature"`
}

type settingsResponse struct {
	Webcam  WebcamSettings `json:"webcam"`
	Plugins struct {
		MultiCam struct {
			Profiles []CameraProfile `json:"multicam_profiles"`
		} `json:"multicam"`
	} `json:"plugins"`
}

type loginResponse struct {
	Name    string `json:"name"`
	Session string `json:"session"`
}

// pushState mirrors the "current" push message.
type pushState struct {
	Job      Job      `json:"job"`
	Progress Progress `json:"progress"`
	State    struct {
		Text  string `json:"text"`
		Flags struct {
			Printing bool `json:"printing"`
		} `json:"flags"`
	} `json:"state"`
}

type pushEvent struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}
