// Copyright 2024-2026 Aiku AI

package notifier

import (
	"context"
	"slices"
	"sort"

	"github.com/aiku/octoprint-matrix-notifier/pkg/octoprint"
)

// PluginIdentifier is the key the host uses for this plugin.
const PluginIdentifier = "matrix_notifier"

// EventHandler receives host lifecycle events.
type EventHandler interface {
	OnEvent(ctx context.Context, name string, payload map[string]any)
}

// ProgressHandler receives print progress ticks.
type ProgressHandler interface {
	OnPrintProgress(ctx context.Context, storage, path string, progress int)
}

// SettingsProvider supplies the default settings shown by the host.
type SettingsProvider interface {
	SettingsDefaults() (*Config, error)
}

// TemplateProvider describes the settings UI registered with the host.
type TemplateProvider interface {
	TemplateConfigs() []TemplateConfig
}

// StartupHandler runs once the host finished starting.
type StartupHandler interface {
	OnAfterStartup(ctx context.Context) error
}

var (
	_ EventHandler        = (*Notifier)(nil)
	_ ProgressHandler     = (*Notifier)(nil)
	_ SettingsProvider    = (*Notifier)(nil)
	_ TemplateProvider    = (*Notifier)(nil)
	_ StartupHandler      = (*Notifier)(nil)
	_ octoprint.EventSink = (*Notifier)(nil)
)

// TemplateConfig is a host UI template registration.
type TemplateConfig struct {
	Type           string `json:"type"`
	Name           string `json:"name"`
	CustomBindings bool   `json:"custom_bindings"`
}

// UpdateInfo is the software update descriptor of the plugin.
type UpdateInfo struct {
	DisplayName    string `json:"displayName"`
	DisplayVersion string `json:"displayVersion"`
	Type           string `json:"type"`
	User           string `json:"user"`
	Repo           string `json:"repo"`
	Current        string `json:"current"`
	PIP            string `json:"pip"`
}

// SettingsDefaults returns the default configuration.
func (n *Notifier) SettingsDefaults() (*Config, error) {
	return DefaultConfig()
}

func (n *Notifier) TemplateConfigs() []TemplateConfig {
	return []TemplateConfig{{Type: "settings", Name: "Matrix Notifier", CustomBindings: false}}
}

// OnAfterStartup checks the configured credentials and announces the
// startup. A missing token or rejected credentials are returned after
// being logged; the startup message is attempted either way.
func (n *Notifier) OnAfterStartup(ctx context.Context) error {
	cfg := n.Config()
	transport, err := n.newTransport(cfg, n.log)
	if err != nil {
		n.log.Error().Err(err).Msg("Failed to create Matrix client")
		return err
	}
	userID, err := transport.WhoAmI(ctx)
	if err != nil {
		n.log.Error().Err(err).Msg("Failed to verify Matrix credentials")
	} else {
		n.log.Info().Str("user_id", userID.String()).Msg("Logged into Matrix")
	}
	n.OnEvent(ctx, EventStartup, nil)
	return err
}

// UpdateInformation returns the update descriptor keyed by the plugin
// identifier.
func UpdateInformation(version string) map[string]UpdateInfo {
	return map[string]UpdateInfo{
		PluginIdentifier: {
			DisplayName:    "Matrix Notifier",
			DisplayVersion: version,
			Type:           "github_release",
			User:           "aiku",
			Repo:           "octoprint-matrix-notifier",
			Current:        version,
			PIP:            "https://github.com/aiku/octoprint-matrix-notifier/archive/{target_version}.zip",
		},
	}
}

// PluginInfo is the document served on GET /api/plugin.
type PluginInfo struct {
	Identifier string                `json:"identifier"`
	Version    string                `json:"version"`
	Update     map[string]UpdateInfo `json:"update_information"`
	Templates  []TemplateConfig      `json:"template_configs"`
	Events     []string              `json:"events"`
	// Defaults holds the default event templates.
	Defaults map[string]*EventConfig `json:"settings_defaults,omitempty"`
}

func (n *Notifier) pluginInfo(version string) PluginInfo {
	cfg := n.Config()
	events := make([]string, 0, len(cfg.Events))
	for _, name := range DefaultEventNames {
		if _, ok := cfg.Event(name); ok {
			events = append(events, name)
		}
	}
	var custom []string
	for name := range cfg.Events {
		if slices.Contains(DefaultEventNames, name) {
			continue
		}
		if _, ok := cfg.Event(name); ok {
			custom = append(custom, name)
		}
	}
	sort.Strings(custom)
	events = append(events, custom...)
	info := PluginInfo{
		Identifier: PluginIdentifier,
		Version:    version,
		Update:     UpdateInformation(version),
		Templates:  n.TemplateConfigs(),
		Events:     events,
	}
	if defaults, err := n.SettingsDefaults(); err != nil {
		n.log.Warn().Err(err).Msg("Failed to load default settings")
	} else {
		info.Defaults = defaults.Events
	}
	return info
}
