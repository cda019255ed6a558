package workerenv

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildDefaultsInstallCmd(t *testing.T) {
	env := Build(Spec{CodeURL: "https://github.com/x/y/tree/main/p", Command: "node index.js"})
	assert.Contains(t, env, "INSTALL_CMD=npm install")
	assert.Contains(t, env, "CODE_URL=https://github.com/x/y/tree/main/p")
	assert.Contains(t, env, "COMMAND=node index.js")
	assert.Contains(t, env, "TTYD_PORT=7681")
	assert.Contains(t, env, "EXIT_ON_JOB=false")
}

func TestBuildHonorsExplicitInstallCmd(t *testing.T) {
	env := Build(Spec{InstallCmd: "pip install -r requirements.txt"})
	assert.Contains(t, env, "INSTALL_CMD=pip install -r requirements.txt")
}

func TestBuildOmitsPromptWhenEmpty(t *testing.T) {
	env := Build(Spec{})
	for _, e := range env {
		assert.NotContains(t, e, "CLAUDE_PROMPT")
	}
}

func TestBuildIncludesPromptWhenSet(t *testing.T) {
	env := Build(Spec{Prompt: "write a snake game"})
	assert.Contains(t, env, "CLAUDE_PROMPT=write a snake game")
}
