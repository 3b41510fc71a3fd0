package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/mmate-bus/contracts"
)

const testConfig = `
timeoutMillis: 2000
destinations:
  - name: orders
    type: parallel
    maxQueueSize: 50
  - name: audit
    type: serial
`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	t.Run("valid file", func(t *testing.T) {
		out, err := execute(t, "validate", "-c", writeConfig(t))
		require.NoError(t, err)
		assert.Contains(t, out, "is valid")
		assert.Contains(t, out, "orders")
		assert.Contains(t, out, "audit")
	})

	t.Run("requires a config file", func(t *testing.T) {
		_, err := execute(t, "validate")
		assert.Error(t, err)
	})

	t.Run("invalid file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.toml")
		require.NoError(t, os.WriteFile(path, []byte("[[destinations]]\nname = \"x\"\ntype = \"topic\"\n"), 0o600))

		_, err := execute(t, "validate", "-c", path)
		assert.ErrorIs(t, err, contracts.ErrInvalidConfiguration)
	})
}

func TestStatsCommand(t *testing.T) {
	out, err := execute(t, "stats", "-c", writeConfig(t))
	require.NoError(t, err)

	var stats map[string]contracts.DestinationStatistics
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Contains(t, stats, "orders")
	assert.Contains(t, stats, contracts.MessageStatusDestinationName)
	assert.Equal(t, 1, stats["audit"].MaxThreadPoolSize)
}

func TestRequestCommand(t *testing.T) {
	for _, mode := range []string{"DEFAULT", "DIRECT"} {
		t.Run(mode, func(t *testing.T) {
			out, err := execute(t, "request", "hello", "--mode", mode, "--timeout", "2s")
			require.NoError(t, err)
			assert.Contains(t, out, "Reply: HELLO")
		})
	}

	t.Run("without responder", func(t *testing.T) {
		out, err := execute(t, "request", "hello", "--echo=false")
		require.NoError(t, err)
		assert.Contains(t, out, "No reply")
	})
}

func TestBenchCommand(t *testing.T) {
	out, err := execute(t, "bench", "-c", writeConfig(t), "-d", "audit", "-n", "20", "-l", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Delivered:    40")
	assert.Contains(t, out, "Rejected:     0")
}

func TestHealthCommand(t *testing.T) {
	out, err := execute(t, "health")
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "healthy"`)
}
