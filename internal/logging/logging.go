// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package logging builds the process logger from the configured verbosity.
package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// verbosity maps the .env verbosity names onto logrus levels.
var verbosity = map[string]logrus.Level{
	"low":    logrus.WarnLevel,
	"medium": logrus.InfoLevel,
	"high":   logrus.DebugLevel,
}

// ParseLevel accepts low, medium or high, or any logrus level name. An
// empty string means low.
func ParseLevel(s string) (logrus.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return logrus.WarnLevel, nil
	}
	if lvl, ok := verbosity[s]; ok {
		return lvl, nil
	}
	lvl, err := logrus.ParseLevel(s)
	if err != nil {
		return logrus.WarnLevel, fmt.Errorf("unknown log level %q (want low, medium, high or a logrus level)", s)
	}
	return lvl, nil
}

// New returns a text logger writing to w at the given verbosity.
func New(w io.Writer, level string) (*logrus.Logger, error) {
	lvl, err := ParseLevel(level)
	log := logrus.New()
	log.SetOutput(w)
	log.SetLevel(lvl)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return log, err
}
