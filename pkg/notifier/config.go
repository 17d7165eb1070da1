// Copyright 2024-2026 Aiku AI

package notifier

import (
	_ "embed"
	"fmt"
	"os"
	"text/template"
	"time"

	up "go.mau.fi/util/configupgrade"
	"gopkg.in/yaml.v3"
)

//go:embed example-config.yaml
var ExampleConfig string

// Event names with a default template.
const (
	EventStartup      = "Startup"
	EventPrintStarted = "PrintStarted"
	EventPrintDone    = "PrintDone"
	EventPrintFailed  = "PrintFailed"
	EventPrintPaused  = "PrintPaused"
	// EventProgress is the pseudo event used for progress ticks.
	EventProgress = "progress"
)

// DefaultEventNames lists the events configured in the example config.
var DefaultEventNames = []string{
	EventStartup,
	EventPrintStarted,
	EventPrintDone,
	EventPrintFailed,
	EventPrintPaused,
	EventProgress,
}

// Config holds the notifier configuration.
type Config struct {
	Homeserver  string `yaml:"homeserver"`
	Username    string `yaml:"username"`
	AccessToken string `yaml:"access_token"`
	// Room is either a room ID (!...) or an alias (#...).
	Room string `yaml:"room"`

	SendSnapshot    bool `yaml:"send_snapshot"`
	SnapshotAsImage bool `yaml:"snapshot_as_image"`

	OctoPrint OctoPrintConfig `yaml:"octoprint"`
	Webcam    WebcamConfig    `yaml:"webcam"`
	API       APIConfig       `yaml:"api"`
	Logging   LoggingConfig   `yaml:"logging"`

	Events map[string]*EventConfig `yaml:"events"`

	templates map[string]*template.Template `yaml:"-"`
}

// EventConfig is the per-event template record.
type EventConfig struct {
	Template string `yaml:"template" json:"template"`
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	// Interval only applies to the progress event.
	Interval int `yaml:"interval,omitempty" json:"interval,omitempty"`
}

type OctoPrintConfig struct {
	URL          string `yaml:"url"`
	APIKey       string `yaml:"api_key"`
	ListenEvents bool   `yaml:"listen_events"`
}

// WebcamConfig configures the snapshot sources. Cameras take precedence
// over SnapshotURL; with neither set, the MultiCam profiles or the global
// webcam settings of OctoPrint are used.
type WebcamConfig struct {
	SnapshotURL string         `yaml:"snapshot_url"`
	FlipH       bool           `yaml:"flip_h"`
	FlipV       bool           `yaml:"flip_v"`
	Rotate      int            `yaml:"rotate"`
	Cameras     []CameraConfig `yaml:"cameras"`
	// InvertRotation turns OctoPrint's rotate90 flag into a 90 degree
	// counter-clockwise rotation instead of a clockwise one.
	InvertRotation bool `yaml:"invert_rotation"`

	Timeout       int    `yaml:"timeout"`
	SSLValidation bool   `yaml:"ssl_validation"`
	HTTPProxy     string `yaml:"http_proxy"`
	HTTPSProxy    string `yaml:"https_proxy"`
}

// CameraConfig is a single snapshot source. The name prefixes the snapshot
// file name.
type CameraConfig struct {
	Name        string `yaml:"name"`
	SnapshotURL string `yaml:"snapshot_url"`
	FlipH       bool   `yaml:"flip_h"`
	FlipV       bool   `yaml:"flip_v"`
	Rotate      int    `yaml:"rotate"`
}

type APIConfig struct {
	Listen string `yaml:"listen"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// PostProcess validates the config and compiles the event templates.
func (c *Config) PostProcess() error {
	if c.Webcam.Rotate%90 != 0 {
		return &ConfigError{Field: "webcam.rotate", Message: fmt.Sprintf("%d is not a multiple of 90", c.Webcam.Rotate)}
	}
	for i := range c.Webcam.Cameras {
		cam := &c.Webcam.Cameras[i]
		field := fmt.Sprintf("webcam.cameras[%d]", i)
		if cam.SnapshotURL == "" {
			return &ConfigError{Field: field + ".snapshot_url", Message: "camera without snapshot URL"}
		}
		if cam.Rotate%90 != 0 {
			return &ConfigError{Field: field + ".rotate", Message: fmt.Sprintf("%d is not a multiple of 90", cam.Rotate)}
		}
		if cam.Name == "" {
			cam.Name = fmt.Sprintf("camera%d", i+1)
		}
	}
	c.templates = make(map[string]*template.Template, len(c.Events))
	for name, evt := range c.Events {
		if evt == nil {
			continue
		}
		tmpl, err := parseTemplate(name, evt.Template)
		if err != nil {
			return &ConfigError{Field: "events." + name + ".template", Message: "invalid template", Err: err}
		}
		c.templates[name] = tmpl
	}
	return nil
}

func parseTemplate(name, text string) (*template.Template, error) {
	return template.New(name).Option("missingkey=error").Parse(text)
}

// Event returns the event config if the event is configured and enabled.
func (c *Config) Event(name string) (*EventConfig, bool) {
	evt, ok := c.Events[name]
	if !ok || evt == nil || !evt.Enabled {
		return nil, false
	}
	return evt, true
}

// ProgressInterval returns the configured progress interval, at least 1.
func (c *Config) ProgressInterval() int {
	evt, ok := c.Events[EventProgress]
	if !ok || evt == nil || evt.Interval <= 0 {
		return 1
	}
	return evt.Interval
}

// SnapshotTimeout returns the webcam timeout, defaulting to 10 seconds.
func (c *Config) SnapshotTimeout() time.Duration {
	if c.Webcam.Timeout <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Webcam.Timeout) * time.Second
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "homeserver")
	helper.Copy(up.Str, "username")
	helper.Copy(up.Str, "access_token")
	helper.Copy(up.Str, "room")
	helper.Copy(up.Bool, "send_snapshot")
	helper.Copy(up.Bool, "snapshot_as_image")

	helper.Copy(up.Str, "octoprint", "url")
	helper.Copy(up.Str, "octoprint", "api_key")
	helper.Copy(up.Bool, "octoprint", "listen_events")

	helper.Copy(up.Str, "webcam", "snapshot_url")
	helper.Copy(up.Bool, "webcam", "flip_h")
	helper.Copy(up.Bool, "webcam", "flip_v")
	helper.Copy(up.Int, "webcam", "rotate")
	helper.Copy(up.List, "webcam", "cameras")
	helper.Copy(up.Bool, "webcam", "invert_rotation")
	helper.Copy(up.Int, "webcam", "timeout")
	helper.Copy(up.Bool, "webcam", "ssl_validation")
	helper.Copy(up.Str, "webcam", "http_proxy")
	helper.Copy(up.Str, "webcam", "https_proxy")

	helper.Copy(up.Str, "api", "listen")
	helper.Copy(up.Str, "logging", "level")
	helper.Copy(up.Bool, "logging", "json")
}

// DefaultConfig returns the post-processed example config.
func DefaultConfig() (*Config, error) {
	return ParseConfig(nil)
}

// LoadConfig reads the config file at path and merges it over the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig merges the YAML document in data over the example config.
// Scalar settings go through upgradeConfig; events are overlaid one by
// one so partially specified events keep their default template and
// unknown event names can be added.
func ParseConfig(data []byte) (*Config, error) {
	var baseNode yaml.Node
	if err := yaml.Unmarshal([]byte(ExampleConfig), &baseNode); err != nil {
		return nil, fmt.Errorf("failed to parse example config: %w", err)
	}

	var userNode yaml.Node
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &userNode); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if len(userNode.Content) > 0 {
		if userNode.Content[0].Kind != yaml.MappingNode {
			return nil, &ConfigError{Message: "config document must be a mapping"}
		}
		upgradeConfig(up.NewHelper(&baseNode, &userNode))
	}

	var cfg Config
	if err := baseNode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := overlayEvents(&cfg, mappingValue(&userNode, "events")); err != nil {
		return nil, err
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func overlayEvents(cfg *Config, events *yaml.Node) error {
	if events == nil || events.Kind != yaml.MappingNode {
		return nil
	}
	if cfg.Events == nil {
		cfg.Events = make(map[string]*EventConfig)
	}
	for i := 0; i+1 < len(events.Content); i += 2 {
		name := events.Content[i].Value
		evt := &EventConfig{}
		if existing, ok := cfg.Events[name]; ok && existing != nil {
			copied := *existing
			evt = &copied
		}
		if err := events.Content[i+1].Decode(evt); err != nil {
			return fmt.Errorf("failed to decode event %s: %w", name, err)
		}
		cfg.Events[name] = evt
	}
	return nil
}

// mappingValue returns the value node for key in a document or mapping node.
func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil {
		return nil
	}
	if node.Kind == yaml.DocumentNode {
		if len(node.Content) == 0 {
			return nil
		}
		node = node.Content[0]
	}
	if node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}
