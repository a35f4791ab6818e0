// Package settings provides installation-level configuration loading.
// This package is separate from cli so hook handlers and governor packages
// can import it without creating an import cycle.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/relgate/cli/cmd/relgate/cli/jsonutil"
	"github.com/relgate/cli/cmd/relgate/cli/paths"
)

const (
	// SettingsFile is the path to the settings file.
	SettingsFile = ".relgate/settings.json"
	// SettingsLocalFile is the path to the local settings override file (not committed).
	SettingsLocalFile = ".relgate/settings.local.json"
)

// Settings represents the .relgate/settings.json configuration.
type Settings struct {
	// Enabled indicates whether the governor is active. When false, CLI
	// commands show a disabled message and hooks exit silently. Defaults
	// to true.
	Enabled bool `json:"enabled"`

	// LogLevel sets the logging verbosity (debug, info, warn, error).
	// Can be overridden by the RELGATE_LOG_LEVEL environment variable.
	// Defaults to "info".
	LogLevel string `json:"log_level,omitempty"`

	// Telemetry controls anonymous usage analytics.
	// nil = not asked yet (show prompt), true = opted in, false = opted out
	Telemetry *bool `json:"telemetry,omitempty"`
}

// Load loads the settings from .relgate/settings.json, then applies any
// overrides from .relgate/settings.local.json if it exists.
// Returns default settings if neither file exists.
// Works correctly from any subdirectory within the repository.
func Load() (*Settings, error) {
	settingsFileAbs, err := paths.AbsPath(SettingsFile)
	if err != nil {
		settingsFileAbs = SettingsFile
	}
	localSettingsFileAbs, err := paths.AbsPath(SettingsLocalFile)
	if err != nil {
		localSettingsFileAbs = SettingsLocalFile
	}

	settings, err := loadFromFile(settingsFileAbs)
	if err != nil {
		return nil, fmt.Errorf("reading settings file: %w", err)
	}

	localData, err := os.ReadFile(localSettingsFileAbs) //nolint:gosec // path is from AbsPath or constant
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading local settings file: %w", err)
		}
	} else {
		if err := mergeJSON(settings, localData); err != nil {
			return nil, fmt.Errorf("merging local settings: %w", err)
		}
	}

	return settings, nil
}

// loadFromFile loads settings from a specific file path.
// Returns default settings if the file doesn't exist.
func loadFromFile(filePath string) (*Settings, error) {
	settings := &Settings{
		Enabled: true,
	}

	data, err := os.ReadFile(filePath) //nolint:gosec // path is from caller
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return nil, fmt.Errorf("%w", err)
	}

	if err := json.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("parsing settings file: %w", err)
	}

	return settings, nil
}

// mergeJSON merges JSON data into existing settings.
// Only fields present in the JSON override existing settings.
func mergeJSON(settings *Settings, data []byte) error {
	// Parse into a map to check which fields are present
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing JSON: %w", err)
	}

	if enabledRaw, ok := raw["enabled"]; ok {
		var e bool
		if err := json.Unmarshal(enabledRaw, &e); err != nil {
			return fmt.Errorf("parsing enabled field: %w", err)
		}
		settings.Enabled = e
	}

	if logLevelRaw, ok := raw["log_level"]; ok {
		var ll string
		if err := json.Unmarshal(logLevelRaw, &ll); err != nil {
			return fmt.Errorf("parsing log_level field: %w", err)
		}
		if ll != "" {
			settings.LogLevel = ll
		}
	}

	if telemetryRaw, ok := raw["telemetry"]; ok {
		var tel bool
		if err := json.Unmarshal(telemetryRaw, &tel); err != nil {
			return fmt.Errorf("parsing telemetry field: %w", err)
		}
		settings.Telemetry = &tel
	}

	return nil
}

// Save writes the settings to .relgate/settings.json at the repository
// root, creating the .relgate directory if needed.
func Save(settings *Settings) error {
	return saveToFile(settings, SettingsFile)
}

// SaveLocal writes the settings to .relgate/settings.local.json.
func SaveLocal(settings *Settings) error {
	return saveToFile(settings, SettingsLocalFile)
}

func saveToFile(settings *Settings, relPath string) error {
	filePath, err := paths.AbsPath(relPath)
	if err != nil {
		filePath = relPath
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}

	data, err := jsonutil.MarshalIndentWithNewline(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0o644); err != nil { //nolint:gosec // settings are not sensitive
		return fmt.Errorf("writing settings file: %w", err)
	}

	return nil
}

// IsEnabled checks whether the governor is active. Returns true by default
// if settings cannot be loaded: a broken settings file should not switch
// the governor off silently.
func IsEnabled() bool {
	settings, err := Load()
	if err != nil {
		return true
	}
	return settings.Enabled
}
