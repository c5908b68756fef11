package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	b := bytes.NewBufferString("")
	rootCmd.SetOut(b)
	rootCmd.SetErr(b)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return b.String(), err
}

func TestRootCommandHelp(t *testing.T) {
	output, err := execute(t, "--help")
	assert.NoError(t, err)

	assert.Contains(t, output, "farmkpi")
	assert.Contains(t, output, "Available Commands:")
	assert.Contains(t, output, "run")
	assert.Contains(t, output, "setup")
	assert.Contains(t, output, "jobs")
	assert.Contains(t, output, "version")
}

func TestInvalidCommand(t *testing.T) {
	_, err := execute(t, "no-such-command")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestVersionCommand(t *testing.T) {
	output, err := execute(t, "version")
	assert.NoError(t, err)
	assert.Contains(t, output, "farmkpi version dev")
}
