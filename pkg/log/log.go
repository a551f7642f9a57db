// Copyright 2026 The CascadeOS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log provides the kernel's component logging, backed by logrus.
//
// Each subsystem obtains an entry once at startup via Component and logs
// through it; the boot harness sets the level before the first executor
// comes up.
package log

import (
	"io"

	"github.com/sirupsen/logrus"
)

var logger = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
		DisableQuote:     true,
	})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// Component returns the log entry for the named kernel component.
func Component(name string) *logrus.Entry {
	return logger.WithField("component", name)
}

// SetOutput redirects all kernel logging to w.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

// SetLevel sets the global log level from its string form. Unknown names
// leave the level unchanged and report an error.
func SetLevel(name string) error {
	level, err := logrus.ParseLevel(name)
	if err != nil {
		return err
	}
	logger.SetLevel(level)
	return nil
}

// SetDebug toggles debug-level logging.
func SetDebug(enable bool) {
	if enable {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
}
