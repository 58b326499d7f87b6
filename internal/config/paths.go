package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const DefaultDevice = "default"

// DevicePaths contains all filesystem paths for a Lumio device instance.
type DevicePaths struct {
	Home     string // Device home directory
	Config   string // YAML daemon configuration file path
	ConfigDB string // SQLite settings store path
	Logs     string // Logs directory
	Lock     string // Daemon lock file path
}

// GetDevicePaths returns all paths for a given device name.
// An empty name defaults to "default".
func GetDevicePaths(device string) DevicePaths {
	if device == "" {
		device = DefaultDevice
	}

	deviceDir := filepath.Join(GetLumioHome(), "devices", device)

	return DevicePaths{
		Home:     deviceDir,
		Config:   filepath.Join(deviceDir, "lumiod.yaml"),
		ConfigDB: filepath.Join(deviceDir, "settings.db"),
		Logs:     filepath.Join(deviceDir, "logs"),
		Lock:     filepath.Join(deviceDir, "daemon.lock"),
	}
}

// EnsureDeviceDirs creates the directory layout for a device and returns its paths.
func EnsureDeviceDirs(device string) (DevicePaths, error) {
	paths := GetDevicePaths(device)

	for _, dir := range []string{paths.Home, paths.Logs} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return DevicePaths{}, fmt.Errorf("config: create directory %s: %w", dir, err)
		}
	}

	return paths, nil
}

// GetLumioHome returns the Lumio home directory (~/.lumio), honouring the
// LUMIO_HOME override used by tests and packaging.
func GetLumioHome() string {
	if custom := os.Getenv("LUMIO_HOME"); custom != "" {
		return custom
	}
	userHome, _ := os.UserHomeDir()
	return filepath.Join(userHome, ".lumio")
}
