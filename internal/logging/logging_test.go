package logging_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abuss/syncpair/internal/logging"
)

func TestNew_WritesToLogFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "syncpair.log")
	logger, closer, err := logging.New(logging.Options{Level: "debug", LogFile: logPath})
	require.NoError(t, err)
	defer closer()

	logger.Info("hello from test", "key", "value")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from test")
}

func TestNew_UnknownLevelErrors(t *testing.T) {
	_, _, err := logging.New(logging.Options{Level: "not-a-level"})
	assert.Error(t, err)
}

func TestNew_TraceLevelRendersAsTrace(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "syncpair.log")
	logger, closer, err := logging.New(logging.Options{Level: "trace", LogFile: logPath})
	require.NoError(t, err)
	defer closer()

	logger.Log(context.Background(), logging.LevelTrace, "tracing something")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "TRACE")
}
