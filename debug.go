// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
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

package actuator

import (
	"fmt"
	"os"
	"time"

	"github.com/golang/glog"
)

// debugEnabled controls whether debug logging is printed to the console
var debugEnabled = false

func init() {
	// Enable debug logging if DEBUG environment variable is set
	if os.Getenv("ACTUATOR_DEBUG") != "" || os.Getenv("DEBUG") != "" {
		debugEnabled = true
	}
}

// writeSession appends a timestamped line to the session log, if one is open.
func writeSession(level, message string) {
	sessionLogMu.Lock()
	defer sessionLogMu.Unlock()
	if sessionLogWriter != nil {
		timestamp := time.Now().Format("15:04:05.000")
		_, _ = fmt.Fprintf(sessionLogWriter, "%s %s: %s\n", timestamp, level, message)
	}
}

// Debugf prints debug information.
// Always writes to session log file (if initialized) with timestamp.
// Only reaches the console when debug mode is enabled or glog runs with -v=2.
func Debugf(format string, args ...any) {
	message := fmt.Sprintf(format, args...)
	writeSession("DEBUG", message)

	if debugEnabled {
		glog.InfoDepth(1, "DEBUG: "+message)
	} else if glog.V(2) {
		glog.InfoDepth(1, message)
	}
}

// Debugln prints debug information.
// Always writes to session log file (if initialized) with timestamp.
// Only reaches the console when debug mode is enabled or glog runs with -v=2.
func Debugln(args ...any) {
	message := fmt.Sprint(args...)
	writeSession("DEBUG", message)

	if debugEnabled {
		glog.InfoDepth(1, "DEBUG: "+message)
	} else if glog.V(2) {
		glog.InfoDepth(1, message)
	}
}

// SetDebugEnabled allows programmatic control of debug logging
// Useful for testing or application-controlled debug modes
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

func logInfof(format string, args ...any) {
	message := fmt.Sprintf(format, args...)
	writeSession("INFO", message)
	glog.InfoDepth(1, message)
}

func logWarnf(format string, args ...any) {
	message := fmt.Sprintf(format, args...)
	writeSession("WARN", message)
	glog.WarningDepth(1, message)
}

func logErrorf(format string, args ...any) {
	message := fmt.Sprintf(format, args...)
	writeSession("ERROR", message)
	glog.ErrorDepth(1, message)
}
