package geosync

import (
	"fmt"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

// retryLogger routes go-retryablehttp's leveled logs to logrus. Request
// chatter goes to Debug so that only retries and failures show up at the
// default level.
type retryLogger struct {
	log logrus.FieldLogger
}

var _ retryablehttp.LeveledLogger = retryLogger{}

func (l retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Error(msg)
}

func (l retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Warn(msg)
}

func (l retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Debug(msg)
}

func (l retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Debug(msg)
}

func (l retryLogger) with(keysAndValues []interface{}) logrus.FieldLogger {
	if len(keysAndValues) == 0 {
		return l.log
	}
	fields := make(logrus.Fields, len(keysAndValues)/2+1)
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprint(keysAndValues[i])
		if i+1 < len(keysAndValues) {
			fields[key] = keysAndValues[i+1]
		} else {
			fields[key] = "(missing)"
		}
	}
	return l.log.WithFields(fields)
}

// NewHTTPClient returns a retrying client configured from cfg that logs
// through log. Refreshers build one unless WithHTTPClient is given.
func NewHTTPClient(cfg Config, log logrus.FieldLogger) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = cfg.MaxRetries
	client.RetryWaitMin = cfg.RetryWaitMin
	client.RetryWaitMax = cfg.RetryWaitMax
	client.Logger = retryLogger{log: log.WithField("component", "http")}
	return client
}
