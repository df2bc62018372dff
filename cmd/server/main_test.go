package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_InvalidConfigReturnsFailure(t *testing.T) {
	t.Setenv("MH_URL", "https://bossan.musikhjalpen.se/insamlingar/test")
	t.Setenv("SPRINT_THRESHOLD", "0")

	assert.Equal(t, 1, run())
}

func TestRun_CorruptStateReturnsFailure(t *testing.T) {
	state := filepath.Join(t.TempDir(), "current_value.txt")
	require.NoError(t, os.WriteFile(state, []byte("not a total"), 0o600))

	t.Setenv("MH_URL", "https://bossan.musikhjalpen.se/insamlingar/test")
	t.Setenv("STATE_FILE", state)
	t.Setenv("STATE_BACKEND", "file")

	assert.Equal(t, 1, run())
}
