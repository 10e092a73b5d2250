// Package platform resolves per-OS filesystem locations for the config file
// and the database.
package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const defaultAppName = "lastkoll"

// Paths holds the resolved config file, data directory, and database
// locations.
type Paths struct {
	ConfigPath string
	DataDir    string
	DBPath     string
}

// Options selects the application directory name. DevMode keeps development
// state apart from the real install by suffixing the name.
type Options struct {
	AppName string
	DevMode bool
}

// Per-OS environment variables that replace the detected base directories
// when set. Platforms without an entry use the detected bases as-is.
var (
	configOverride = map[string]string{
		"linux":   "XDG_CONFIG_HOME",
		"windows": "APPDATA",
	}
	dataOverride = map[string]string{
		"linux":   "XDG_DATA_HOME",
		"windows": "LOCALAPPDATA",
	}
)

// DefaultPaths resolves the running platform's directories, honoring the
// usual per-OS environment overrides.
func DefaultPaths(opts Options) (Paths, error) {
	name := strings.TrimSpace(opts.AppName)
	if name == "" {
		name = defaultAppName
	}
	if opts.DevMode {
		name += "-dev"
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		return Paths{}, fmt.Errorf("user config dir: %w", err)
	}
	dataDir, err := defaultDataDir(configDir)
	if err != nil {
		return Paths{}, err
	}
	return Resolve(runtime.GOOS, os.Getenv, configDir, dataDir, name)
}

// defaultDataDir picks the platform's conventional data root. Linux keeps
// data apart from config; elsewhere the config root doubles as the data
// root.
func defaultDataDir(configDir string) (string, error) {
	if runtime.GOOS == "linux" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("user home dir: %w", err)
		}
		return filepath.Join(home, ".local", "share"), nil
	}
	return configDir, nil
}

// Resolve computes the application paths from explicit base directories.
// env supplies environment lookups so tests can pin them.
func Resolve(goos string, env func(string) string, configBase, dataBase, name string) (Paths, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Paths{}, fmt.Errorf("empty app name")
	}
	if configBase == "" || dataBase == "" {
		return Paths{}, fmt.Errorf("empty base dirs")
	}
	if env == nil {
		env = func(string) string { return "" }
	}
	if key := configOverride[goos]; key != "" {
		if v := env(key); v != "" {
			configBase = v
		}
	}
	if key := dataOverride[goos]; key != "" {
		if v := env(key); v != "" {
			dataBase = v
		}
	}

	dataDir := filepath.Join(dataBase, name)
	return Paths{
		ConfigPath: filepath.Join(configBase, name, "config.toml"),
		DataDir:    dataDir,
		DBPath:     filepath.Join(dataDir, name+".db"),
	}, nil
}
