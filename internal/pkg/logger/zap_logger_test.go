package logger

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsolatedLoggerWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.log")
	l := NewIsolatedLogger(path)

	l.Info("SessionSync", "session created", map[string]interface{}{"session_id": "abc", "version": 1})
	l.Error("SessionSync", "update failed", map[string]interface{}{"error": errors.New("boom")})
	require.NoError(t, l.Sync())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]interface{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		lines = append(lines, entry)
	}
	require.Len(t, lines, 2)

	assert.Equal(t, "INFO", lines[0]["level"])
	assert.Equal(t, "session created", lines[0]["message"])
	assert.Equal(t, "SessionSync", lines[0]["module"])
	details := lines[0]["details"].(map[string]interface{})
	assert.Equal(t, "abc", details["session_id"])

	assert.Equal(t, "ERROR", lines[1]["level"])
	assert.Equal(t, "boom", lines[1]["error"])
}

func TestNopLoggerAcceptsNilDetails(t *testing.T) {
	l := NewNopLogger()
	l.Debug("x", "y", nil)
	l.Warn("x", "y", nil)
	assert.NoError(t, l.Sync())
}
