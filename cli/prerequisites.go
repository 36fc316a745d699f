// Package cli validates the external command-line tools the bridge depends on.
package cli

import (
	"fmt"
	"os/exec"
	"strings"
)

// Prerequisite is one external tool the bridge may invoke.
type Prerequisite struct {
	Name        string
	Required    bool
	Description string
	InstallURL  string
}

// DefaultPrerequisites returns the tools needed to run the bridge. Only the
// engine CLI is hard-required; ripgrep speeds up the engine's search tools
// when present but the engine falls back without it.
func DefaultPrerequisites() []Prerequisite {
	return []Prerequisite{
		{
			Name:        "claude",
			Required:    true,
			Description: "Claude Code CLI",
			InstallURL:  "https://claude.ai/code",
		},
		{
			Name:        "rg",
			Required:    false,
			Description: "ripgrep (optional, faster engine search)",
			InstallURL:  "https://github.com/BurntSushi/ripgrep",
		},
	}
}

// CheckResult reports one prerequisite lookup.
type CheckResult struct {
	Prerequisite Prerequisite
	Found        bool
	Path         string
	Version      string
	Error        error
}

// Check looks the tool up in PATH and probes its version.
func Check(prereq Prerequisite) CheckResult {
	result := CheckResult{Prerequisite: prereq}

	path, err := exec.LookPath(prereq.Name)
	if err != nil {
		result.Error = fmt.Errorf("%s not found in PATH", prereq.Name)
		return result
	}

	result.Found = true
	result.Path = path
	result.Version = getVersion(prereq.Name)
	return result
}

// CheckAll checks every prerequisite.
func CheckAll(prereqs []Prerequisite) []CheckResult {
	results := make([]CheckResult, len(prereqs))
	for i, prereq := range prereqs {
		results[i] = Check(prereq)
	}
	return results
}

// ValidateRequired returns an error naming every missing required tool, or
// nil when the bridge can start.
func ValidateRequired(prereqs []Prerequisite) error {
	var missing []string

	for _, prereq := range prereqs {
		if !prereq.Required {
			continue
		}
		if result := Check(prereq); !result.Found {
			missing = append(missing, fmt.Sprintf("  - %s (%s)\n    Install: %s",
				prereq.Name, prereq.Description, prereq.InstallURL))
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required CLI tools:\n%s", strings.Join(missing, "\n"))
	}
	return nil
}

// getVersion probes the tool's version string, trying the common flags.
func getVersion(name string) string {
	for _, flag := range []string{"--version", "-v", "version"} {
		output, err := exec.Command(name, flag).Output()
		if err != nil {
			continue
		}
		lines := strings.Split(string(output), "\n")
		if len(lines) == 0 {
			continue
		}
		version := strings.TrimSpace(lines[0])
		if len(version) > 100 {
			version = version[:100] + "..."
		}
		return version
	}
	return ""
}

// FormatCheckResults renders results for a diagnostics surface.
func FormatCheckResults(results []CheckResult) string {
	var sb strings.Builder
	sb.WriteString("CLI Prerequisites:\n")
	for _, r := range results {
		status := "✓"
		if !r.Found {
			if r.Prerequisite.Required {
				status = "✗"
			} else {
				status = "○"
			}
		}

		sb.WriteString(fmt.Sprintf("  %s %s", status, r.Prerequisite.Name))
		if r.Found && r.Version != "" {
			sb.WriteString(fmt.Sprintf(" (%s)", r.Version))
		} else if !r.Found {
			if r.Prerequisite.Required {
				sb.WriteString(" [REQUIRED]")
			} else {
				sb.WriteString(" [optional]")
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
