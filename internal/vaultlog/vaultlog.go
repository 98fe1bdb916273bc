// Package vaultlog provides the single structured logger used by the
// engine layers (Config Store, Recipient Engine, Merge Engine). CLI-facing
// command output goes straight to the command's own writers; this logger is
// for operational diagnostics only (sweep progress, key resolution, partition
// validation) the way the wider corpus wires logrus behind a package-level
// singleton.
package vaultlog

import (
	"os"

	"github.com/sirupsen/logrus"
)

var logger = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	l.SetOutput(os.Stderr)
	l.SetLevel(levelFromEnv())
	return l
}

func levelFromEnv() logrus.Level {
	if lvl, err := logrus.ParseLevel(os.Getenv("SYVAULT_LOG_LEVEL")); err == nil {
		return lvl
	}
	return logrus.WarnLevel
}

// Log returns the shared logger.
func Log() *logrus.Logger {
	return logger
}
