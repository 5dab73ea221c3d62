// Package obslog constructs the single *logrus.Logger threaded through
// every component constructor, grounded on internal/app.New's logger
// setup (parse level, choose a formatter, fall back to Info on a bad
// level string).
package obslog

import "github.com/sirupsen/logrus"

// New builds a logger at the given level ("debug", "info", "warn", …)
// rendering as JSON when format == "json", text otherwise.
func New(level, format string) *logrus.Logger {
	logger := logrus.New()

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{})
	}
	return logger
}
