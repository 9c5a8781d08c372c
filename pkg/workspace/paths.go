// Package workspace resolves the on-disk layout under the cellgate home
// directory (~/.cellgate unless CELLGATE_HOME is set).
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	ConfigFile  = "config.yaml"
	PolicyFile  = "policy.yaml"
	HistoryFile = "history.db"
	SessionsDir = "sessions"
	LogsDir     = "logs"
)

func HomeDir() string {
	if home := os.Getenv("CELLGATE_HOME"); home != "" {
		return home
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".cellgate")
}

// Resolve returns the directory cells run in by default: CELLGATE_WORKDIR
// when set, else the process working directory.
func Resolve() string {
	if ws := os.Getenv("CELLGATE_WORKDIR"); ws != "" {
		return ws
	}
	pwd, _ := os.Getwd()
	return pwd
}

func ConfigPath() string {
	return filepath.Join(HomeDir(), ConfigFile)
}

func HistoryPath() string {
	return filepath.Join(HomeDir(), HistoryFile)
}

func SessionsPath() string {
	return filepath.Join(HomeDir(), SessionsDir)
}

func LogsPath() string {
	return filepath.Join(HomeDir(), LogsDir)
}

// Ensure creates the home directory and its fixed subdirectories.
func Ensure() error {
	for _, dir := range []string{HomeDir(), SessionsPath(), LogsPath()} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
