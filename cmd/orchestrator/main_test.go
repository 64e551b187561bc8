package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunWithoutArgsPrintsUsage(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Run([]string{"orchestrator"}, &out, &errOut)
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut.String(), "Usage:")
}

func TestRunUnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Run([]string{"orchestrator", "frobnicate"}, &out, &errOut)
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut.String(), "Unknown command")
}

func TestRunHelp(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Run([]string{"orchestrator", "help"}, &out, &errOut)
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "selftest")
}

func TestSelfTest(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Run([]string{"orchestrator", "selftest"}, &out, &errOut)
	assert.Equal(t, 0, code, "stderr: %s", errOut.String())
	for _, probe := range []string{"static", "echo", "fail", "sleep"} {
		assert.True(t, strings.Contains(out.String(), "selftest "+probe+": ok"),
			"missing probe %s in output: %s", probe, out.String())
	}
}
