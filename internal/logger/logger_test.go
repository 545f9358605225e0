// Copyright 2025 Google LLC
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

package logger

import (
	"bytes"
	"regexp"
	"testing"

	"github.com/stretchr/testify/suite"
)

type LoggerTest struct {
	suite.Suite
}

func TestLoggerSuite(t *testing.T) {
	suite.Run(t, new(LoggerTest))
}

func (t *LoggerTest) logAtEachSeverity() {
	Tracef("trace %s", "msg")
	Debugf("debug %s", "msg")
	Infof("info %s", "msg")
	Warnf("warning %s", "msg")
	Errorf("error %s", "msg")
}

func (t *LoggerTest) TestTextFormat_LevelWarning_SuppressesTraceDebugInfo() {
	var buf bytes.Buffer
	Init("text", WARNING, &buf)

	t.logAtEachSeverity()

	out := buf.String()
	t.NotContains(out, "TRACE")
	t.NotContains(out, "DEBUG")
	t.NotContains(out, "INFO")
	t.Regexp(regexp.MustCompile(`severity=WARNING`), out)
	t.Regexp(regexp.MustCompile(`severity=ERROR`), out)
}

func (t *LoggerTest) TestJSONFormat_LevelTrace_EmitsEverything() {
	var buf bytes.Buffer
	Init("json", TRACE, &buf)

	t.logAtEachSeverity()

	out := buf.String()
	for _, sev := range []string{"TRACE", "DEBUG", "INFO", "WARNING", "ERROR"} {
		t.Contains(out, `"severity":"`+sev+`"`)
	}
}

func (t *LoggerTest) TestOff_SuppressesEverything() {
	var buf bytes.Buffer
	Init("text", OFF, &buf)

	t.logAtEachSeverity()

	t.Empty(buf.String())
}
