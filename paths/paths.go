// Package paths provides centralized path resolution for claudebridge's data
// directories.
//
// claudebridge supports the XDG Base Directory Specification for organizing
// files:
//
//   - Config (XDG_CONFIG_HOME): config.json, gate.yaml — user settings
//   - Data (XDG_DATA_HOME): sessions/*.json — local session records
//   - State (XDG_STATE_HOME): logs/ — transient log files
//
// Resolution order:
//  1. If ~/.claudebridge/ exists → use legacy flat layout (all paths under ~/.claudebridge/)
//  2. If XDG env vars are set → use XDG layout with proper separation
//  3. Fresh install, no XDG vars → default to ~/.claudebridge/
//
// Separately from its own directories, the package knows how to locate the
// Claude CLI's persisted session transcripts (~/.claude/projects), which the
// history package reads when resolving rewind targets.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	mu       sync.Mutex
	resolved *resolvedPaths
)

type resolvedPaths struct {
	configDir string
	dataDir   string
	stateDir  string
	legacy    bool
}

// resolve computes the path layout once and caches it.
func resolve() (*resolvedPaths, error) {
	mu.Lock()
	defer mu.Unlock()

	if resolved != nil {
		return resolved, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	legacyDir := filepath.Join(home, ".claudebridge")

	// 1. If ~/.claudebridge/ exists, use legacy layout
	if info, err := os.Stat(legacyDir); err == nil && info.IsDir() {
		resolved = &resolvedPaths{
			configDir: legacyDir,
			dataDir:   legacyDir,
			stateDir:  legacyDir,
			legacy:    true,
		}
		return resolved, nil
	}

	// 2. Check XDG env vars
	xdgConfig := os.Getenv("XDG_CONFIG_HOME")
	xdgData := os.Getenv("XDG_DATA_HOME")
	xdgState := os.Getenv("XDG_STATE_HOME")

	if xdgConfig != "" || xdgData != "" || xdgState != "" {
		// Use XDG layout — fill in defaults for unset vars
		if xdgConfig == "" {
			xdgConfig = filepath.Join(home, ".config")
		}
		if xdgData == "" {
			xdgData = filepath.Join(home, ".local", "share")
		}
		if xdgState == "" {
			xdgState = filepath.Join(home, ".local", "state")
		}
		resolved = &resolvedPaths{
			configDir: filepath.Join(xdgConfig, "claudebridge"),
			dataDir:   filepath.Join(xdgData, "claudebridge"),
			stateDir:  filepath.Join(xdgState, "claudebridge"),
			legacy:    false,
		}
		return resolved, nil
	}

	// 3. Fresh install, no XDG — default to legacy
	resolved = &resolvedPaths{
		configDir: legacyDir,
		dataDir:   legacyDir,
		stateDir:  legacyDir,
		legacy:    true,
	}
	return resolved, nil
}

// ConfigDir returns the directory for configuration files (config.json, gate.yaml).
func ConfigDir() (string, error) {
	r, err := resolve()
	if err != nil {
		return "", err
	}
	return r.configDir, nil
}

// DataDir returns the directory for persistent data files.
func DataDir() (string, error) {
	r, err := resolve()
	if err != nil {
		return "", err
	}
	return r.dataDir, nil
}

// StateDir returns the directory for runtime state and logs.
func StateDir() (string, error) {
	r, err := resolve()
	if err != nil {
		return "", err
	}
	return r.stateDir, nil
}

// ConfigFilePath returns the full path to config.json.
func ConfigFilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// GatePolicyPath returns the full path to gate.yaml.
func GatePolicyPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "gate.yaml"), nil
}

// SessionsDir returns the directory for session record files.
func SessionsDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "sessions"), nil
}

// LogsDir returns the directory for log files.
func LogsDir() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "logs"), nil
}

// ClaudeProjectsDir returns the Claude CLI's transcript root (~/.claude/projects).
func ClaudeProjectsDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".claude", "projects"), nil
}

// ProjectDirName converts an absolute working directory into the directory
// name the Claude CLI uses under ~/.claude/projects. The CLI replaces every
// path separator and dot with a dash: /Users/me/src/app → -Users-me-src-app.
func ProjectDirName(workingDir string) string {
	name := strings.ReplaceAll(workingDir, string(filepath.Separator), "-")
	return strings.ReplaceAll(name, ".", "-")
}

// SessionLogPath returns the path to the persisted JSONL transcript for a
// session run in the given working directory.
func SessionLogPath(workingDir, sessionID string) (string, error) {
	root, err := ClaudeProjectsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, ProjectDirName(workingDir), fmt.Sprintf("%s.jsonl", sessionID)), nil
}

// IsLegacyLayout returns true if using the ~/.claudebridge/ flat layout.
func IsLegacyLayout() bool {
	r, err := resolve()
	if err != nil {
		return true // assume legacy on error
	}
	return r.legacy
}

// Reset clears the cached path resolution. This is intended for testing only.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	resolved = nil
}
