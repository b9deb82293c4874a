package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func TestInit(t *testing.T) {
	t.Run("initializes with defaults when no config exists", func(t *testing.T) {
		viper.Reset()
		cfg = nil

		if err := Init(); err != nil {
			t.Errorf("Init() failed: %v", err)
		}

		config := Get()
		if config == nil {
			t.Fatal("Get() returned nil after Init()")
		}
		if config.Device.Card != "/dev/dri/card0" {
			t.Errorf("Expected default card /dev/dri/card0, got %s", config.Device.Card)
		}
		if !config.Device.RestoreOnExit {
			t.Error("Expected restore_on_exit to default to true")
		}
	})

	t.Run("reads values from a config file", func(t *testing.T) {
		tmpDir := t.TempDir()
		content := `[device]
card = "/dev/dri/card1"
restore_on_exit = false
preferred_connector = "HDMI-A-1"

[logging]
log_level = "debug"
`
		path := filepath.Join(tmpDir, "modeset.toml")
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}

		viper.Reset()
		cfg = nil
		SetConfigPath(path)
		defer SetConfigPath("")

		if err := Init(); err != nil {
			t.Fatalf("Init() failed: %v", err)
		}

		config := Get()
		if config.Device.Card != "/dev/dri/card1" {
			t.Errorf("Expected card /dev/dri/card1, got %s", config.Device.Card)
		}
		if config.Device.RestoreOnExit {
			t.Error("Expected restore_on_exit false")
		}
		if config.Device.PreferredConnector != "HDMI-A-1" {
			t.Errorf("Expected preferred connector HDMI-A-1, got %s", config.Device.PreferredConnector)
		}
		if config.Logging.LogLevel != "debug" {
			t.Errorf("Expected log level debug, got %s", config.Logging.LogLevel)
		}
	})
}
