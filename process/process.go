// Package process finds and reaps engine CLI processes left behind after a
// crash. A bridge restart can otherwise strand `claude` processes that keep
// holding their session locks.
package process

import (
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"claudebridge/logger"
)

// EngineProcess is one running engine CLI process.
type EngineProcess struct {
	PID     int
	Command string
}

// SessionID extracts the session id from the process command line, or ""
// when the process carries none.
func (p EngineProcess) SessionID() string {
	return extractSessionID(p.Command)
}

// FindEngineProcesses lists running engine CLI processes that belong to a
// session (started with --session-id or --resume).
func FindEngineProcesses() ([]EngineProcess, error) {
	var processes []EngineProcess
	log := logger.WithComponent("process")

	switch runtime.GOOS {
	case "darwin", "linux":
		output, err := exec.Command("pgrep", "-f", "claude.*--(session-id|resume)").Output()
		if err != nil {
			// pgrep exits 1 when nothing matches.
			if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
				return processes, nil
			}
			return nil, err
		}

		for _, pidStr := range strings.Fields(string(output)) {
			pid, err := strconv.Atoi(strings.TrimSpace(pidStr))
			if err != nil {
				continue
			}
			psOutput, err := exec.Command("ps", "-p", pidStr, "-o", "args=").Output()
			if err != nil {
				continue
			}
			processes = append(processes, EngineProcess{
				PID:     pid,
				Command: strings.TrimSpace(string(psOutput)),
			})
		}

	case "windows":
		output, err := exec.Command("tasklist", "/FI", "IMAGENAME eq claude*", "/FO", "CSV", "/NH").Output()
		if err != nil {
			return nil, err
		}
		for _, line := range strings.Split(string(output), "\n") {
			fields := strings.Split(line, ",")
			if len(fields) < 2 {
				continue
			}
			pid, err := strconv.Atoi(strings.Trim(strings.TrimSpace(fields[1]), "\""))
			if err != nil {
				continue
			}
			processes = append(processes, EngineProcess{
				PID:     pid,
				Command: strings.Trim(fields[0], "\""),
			})
		}
	}

	log.Debug("found engine processes", "count", len(processes))
	return processes, nil
}

// Kill force-kills a process by PID.
func Kill(pid int) error {
	switch runtime.GOOS {
	case "darwin", "linux":
		return exec.Command("kill", "-9", strconv.Itoa(pid)).Run()
	case "windows":
		return exec.Command("taskkill", "/F", "/PID", strconv.Itoa(pid)).Run()
	}
	return nil
}

// FindOrphans returns engine processes whose session id is not in
// knownSessionIDs.
func FindOrphans(knownSessionIDs map[string]bool) ([]EngineProcess, error) {
	all, err := FindEngineProcesses()
	if err != nil {
		return nil, err
	}

	log := logger.WithComponent("process")
	var orphans []EngineProcess
	for _, proc := range all {
		if id := proc.SessionID(); id != "" && !knownSessionIDs[id] {
			orphans = append(orphans, proc)
			log.Info("found orphaned engine process", "pid", proc.PID, "sessionID", id)
		}
	}
	return orphans, nil
}

// CleanupOrphans kills every orphaned engine process and returns how many
// were killed.
func CleanupOrphans(knownSessionIDs map[string]bool) (int, error) {
	orphans, err := FindOrphans(knownSessionIDs)
	if err != nil {
		return 0, err
	}

	log := logger.WithComponent("process")
	killed := 0
	for _, proc := range orphans {
		log.Info("killing orphaned engine process", "pid", proc.PID)
		if err := Kill(proc.PID); err != nil {
			log.Error("failed to kill process", "pid", proc.PID, "error", err)
			continue
		}
		killed++
	}
	return killed, nil
}

// extractSessionID pulls the session id out of an engine command line by
// locating the --session-id or --resume flag.
func extractSessionID(cmdLine string) string {
	for _, flag := range []string{"--session-id", "--resume"} {
		_, after, ok := strings.Cut(cmdLine, flag)
		if !ok {
			continue
		}
		fields := strings.Fields(strings.TrimLeft(after, " ="))
		if len(fields) > 0 {
			return fields[0]
		}
	}
	return ""
}
