package geosync

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHTTPClient(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	cfg := NewConfig(WithRetries(5, 10*time.Millisecond, 2*time.Second))

	client := NewHTTPClient(cfg, logger)
	assert.Equal(t, 5, client.RetryMax)
	assert.Equal(t, 10*time.Millisecond, client.RetryWaitMin)
	assert.Equal(t, 2*time.Second, client.RetryWaitMax)

	l, ok := client.Logger.(retryLogger)
	require.True(t, ok, "client logs through %T", client.Logger)
	l.Warn("retrying", "url", "http://example.com", "attempt")

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "retrying", entry.Message)
	assert.Equal(t, "http", entry.Data["component"])
	assert.Equal(t, "http://example.com", entry.Data["url"])
	assert.Equal(t, "(missing)", entry.Data["attempt"])
}

func TestRetryLoggerDemotesInfo(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	l := retryLogger{log: logger}

	l.Info("performing request")
	l.Error("giving up")

	entries := hook.AllEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, logrus.DebugLevel, entries[0].Level)
	assert.Equal(t, logrus.ErrorLevel, entries[1].Level)
}
