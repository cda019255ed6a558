// Package validate checks the shape of session-creation input before it
// reaches the orchestrator: code source locators and the shell strings that
// will run inside the worker.
package validate

import (
	"fmt"
	"regexp"
	"strings"
)

const maxCommandBytes = 500

var (
	githubTreePattern = regexp.MustCompile(`^https://github\.com/[\w.-]+/[\w.-]+/tree/[\w.\-/]+$`)
	zipURLPattern     = regexp.MustCompile(`^https://\S+\.zip$`)
	tarballURLPattern = regexp.MustCompile(`^https://\S+\.(tar\.gz|tgz)$`)
	gitURLPattern     = regexp.MustCompile(`^(https://\S+\.git|git@[\w.-]+:[\w./\-]+\.git)$`)

	shellInjectionSubstrings = []string{"$(", "`", "${"}
)

// CodeURL reports whether url matches one of the accepted code source
// shapes: a GitHub tree URL, a .zip/.tar.gz/.tgz archive URL, or a .git URL.
func CodeURL(url string) error {
	if url == "" {
		return fmt.Errorf("code_url is required")
	}
	switch {
	case githubTreePattern.MatchString(url),
		zipURLPattern.MatchString(url),
		tarballURLPattern.MatchString(url),
		gitURLPattern.MatchString(url):
		return nil
	default:
		return fmt.Errorf("code_url must be a github.com tree URL, a .zip/.tar.gz/.tgz archive URL, or a .git URL")
	}
}

// ShellString checks a command or install_cmd value: it must not exceed the
// byte cap and must not contain any of the command-substitution forms that
// would let the caller break out of the worker's intended program.
func ShellString(field, value string) error {
	if len(value) > maxCommandBytes {
		return fmt.Errorf("%s must not exceed %d bytes", field, maxCommandBytes)
	}
	for _, bad := range shellInjectionSubstrings {
		if strings.Contains(value, bad) {
			return fmt.Errorf("%s must not contain %q", field, bad)
		}
	}
	return nil
}

// CreateSessionRequest validates the full admitted body of POST /api/sessions.
func CreateSessionRequest(codeURL, command, installCmd string) error {
	if codeURL == "" {
		return fmt.Errorf("code_url is required")
	}
	if command == "" {
		return fmt.Errorf("command is required")
	}
	if err := CodeURL(codeURL); err != nil {
		return err
	}
	if err := ShellString("command", command); err != nil {
		return err
	}
	if installCmd != "" {
		if err := ShellString("install_cmd", installCmd); err != nil {
			return err
		}
	}
	return nil
}
