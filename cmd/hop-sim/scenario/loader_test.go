package scenario

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoadFromFile_ValidYAML(t *testing.T) {
	path := writeScenario(t, `
name: test-scenario
description: A test scenario
baggage:
  tenant: acme
root:
  name: "POST /send"
  service: sender
  kind: SERVER
  duration: "10ms"
  attributes:
    http.request.method: POST
  children:
    - name: ReceiveMessage
      service: receiver
      destination: hello
      duration: "5ms"
      maxAttempts: 3
      errorRate: 0.1
      errorStatus: "simulated failure"
      logs:
        - level: INFO
          message: "Message received"
          attributes:
            message.size: "12"
`)

	s, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "test-scenario", s.Name)
	assert.Equal(t, map[string]string{"tenant": "acme"}, s.Baggage)
	assert.Equal(t, "POST /send", s.Root.Name)
	assert.Equal(t, SpanKindServer, s.Root.Kind)
	assert.Equal(t, "POST", s.Root.Attributes["http.request.method"])

	require.Len(t, s.Root.Children, 1)
	hop := s.Root.Children[0]
	assert.True(t, hop.IsHop())
	assert.Equal(t, "hello", hop.Destination)
	assert.Equal(t, 3, hop.Attempts())
	assert.Equal(t, 0.1, hop.ErrorRate)
	assert.Equal(t, "simulated failure", hop.ErrorStatus)
	require.Len(t, hop.Logs, 1)
	assert.Equal(t, "12", hop.Logs[0].Attributes["message.size"])
}

func TestLoadFromFile_Errors(t *testing.T) {
	t.Run("file not found", func(t *testing.T) {
		s, err := LoadFromFile("/non/existent/path.yaml")
		assert.Nil(t, s)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to load scenario file")
	})

	t.Run("invalid yaml", func(t *testing.T) {
		s, err := LoadFromFile(writeScenario(t, "name: broken\ndescription: [invalid yaml\n"))
		assert.Nil(t, s)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to load scenario file")
	})

	t.Run("missing name", func(t *testing.T) {
		s, err := LoadFromFile(writeScenario(t, "root:\n  name: test\n  duration: \"1ms\"\n"))
		assert.Nil(t, s)
		require.ErrorIs(t, err, ErrInvalidScenario)
	})
}
