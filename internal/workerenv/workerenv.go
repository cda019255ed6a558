// Package workerenv builds the environment variable contract every worker
// container is launched with, kept separate from the orchestrator driver so
// it can be unit tested without a Docker daemon.
package workerenv

import "strconv"

const (
	defaultInstallCmd = "npm install"
	// TTYDPort is the fixed port the worker's terminal server listens on.
	// Duplicated from internal/orchestrator (rather than imported) to keep
	// this package dependency-free and independently testable.
	TTYDPort = 7681
)

// Spec is the subset of a worker's launch parameters that determine its
// environment contract.
type Spec struct {
	CodeURL    string
	Command    string
	InstallCmd string
	Prompt     string
	ExitOnJob  bool
}

// Build returns the KEY=VALUE environment entries for spec, in the fixed
// order CODE_URL, COMMAND, INSTALL_CMD, CLAUDE_PROMPT (if set), TTYD_PORT,
// EXIT_ON_JOB.
func Build(spec Spec) []string {
	installCmd := spec.InstallCmd
	if installCmd == "" {
		installCmd = defaultInstallCmd
	}

	env := []string{
		"CODE_URL=" + spec.CodeURL,
		"COMMAND=" + spec.Command,
		"INSTALL_CMD=" + installCmd,
	}
	if spec.Prompt != "" {
		env = append(env, "CLAUDE_PROMPT="+spec.Prompt)
	}
	env = append(env,
		"TTYD_PORT="+strconv.Itoa(TTYDPort),
		"EXIT_ON_JOB="+strconv.FormatBool(spec.ExitOnJob),
	)
	return env
}
