// Copyright 2024-2026 Aiku AI

package notifier

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aiku/octoprint-matrix-notifier/pkg/octoprint"
)

// Message keys available to templates.
const (
	KeyTemperature        = "temperature"
	KeyElapsedTime        = "elapsed_time"
	KeyRemainingTime      = "remaining_time"
	KeyTotalEstimatedTime = "total_estimated_time"
	KeyCompletion         = "completion"
	KeyUser               = "user"
	KeyFilename           = "filename"
	KeyReason             = "reason"
	KeyPctCompleted       = "pct_completed"
)

var allKeys = []string{
	KeyTemperature,
	KeyElapsedTime,
	KeyRemainingTime,
	KeyTotalEstimatedTime,
	KeyCompletion,
	KeyUser,
	KeyFilename,
	KeyReason,
	KeyPctCompleted,
}

// MessageKeys maps placeholder names to rendered values. Unknown values are
// empty strings.
type MessageKeys map[string]string

// NewMessageKeys returns a key set with every key present and empty.
func NewMessageKeys() MessageKeys {
	keys := make(MessageKeys, len(allKeys))
	for _, k := range allKeys {
		keys[k] = ""
	}
	return keys
}

// completionLayout is used for the estimated wall clock completion time.
const completionLayout = "2006-01-02 15:04"

// applyJob fills the job and progress derived keys.
func (k MessageKeys) applyJob(data *octoprint.CurrentData, now time.Time) {
	if data == nil {
		return
	}
	k[KeyFilename] = data.Job.File.Name
	if data.Job.User != nil {
		k[KeyUser] = *data.Job.User
	}
	k[KeyTotalEstimatedTime] = formatSeconds(data.Job.EstimatedPrintTime)
	k[KeyElapsedTime] = formatSeconds(data.Progress.PrintTime)
	k[KeyRemainingTime] = formatSeconds(data.Progress.PrintTimeLeft)
	if left := data.Progress.PrintTimeLeft; left != nil && *left >= 0 {
		k[KeyCompletion] = now.Add(time.Duration(*left * float64(time.Second))).Format(completionLayout)
	}
	if pct := data.Progress.Completion; pct != nil {
		k[KeyPctCompleted] = strconv.Itoa(int(math.Floor(*pct)))
	}
}

// applyPayload fills the keys carried by the event payload. A payload time
// overrides the elapsed time from the job state.
func (k MessageKeys) applyPayload(payload map[string]any) {
	if reason, ok := payload["reason"]; ok && reason != nil {
		k[KeyReason] = fmt.Sprint(reason)
	}
	if seconds, ok := toFloat(payload["time"]); ok {
		k[KeyElapsedTime] = formatDuration(time.Duration(seconds * float64(time.Second)))
	}
	if k[KeyFilename] == "" {
		if name, ok := payload["name"].(string); ok {
			k[KeyFilename] = name
		}
	}
	if k[KeyUser] == "" {
		if user, ok := payload["user"].(string); ok {
			k[KeyUser] = user
		}
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func formatSeconds(seconds *float64) string {
	if seconds == nil {
		return ""
	}
	return formatDuration(time.Duration(*seconds * float64(time.Second)))
}

// formatDuration renders d as HH:MM:SS with hours not wrapping at a day.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

var toolKeyRe = regexp.MustCompile(`^tool(\d+)$`)

// temperatureStatus renders the bed and nozzle temperatures. It returns an
// empty string when no bed is reported.
func temperatureStatus(temps map[string]octoprint.Temperature) string {
	bed, ok := temps["bed"]
	if !ok {
		return ""
	}

	type tool struct {
		index int
		temp  octoprint.Temperature
	}
	var tools []tool
	for key, temp := range temps {
		m := toolKeyRe.FindStringSubmatch(key)
		if m == nil {
			continue
		}
		idx, _ := strconv.Atoi(m[1])
		tools = append(tools, tool{index: idx, temp: temp})
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].index < tools[j].index })

	parts := []string{"Bed: " + formatTemperature(bed)}
	for i, t := range tools {
		name := "Nozzle " + strconv.Itoa(t.index)
		// A single nozzle is not numbered.
		if i == 0 && len(tools) == 1 {
			name = "Nozzle"
		}
		parts = append(parts, name+": "+formatTemperature(t.temp))
	}
	return strings.Join(parts, " ")
}

func formatTemperature(t octoprint.Temperature) string {
	return formatCelsius(t.Actual) + " / " + formatCelsius(t.Target)
}

func formatCelsius(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 1, 64) + "°C"
}
