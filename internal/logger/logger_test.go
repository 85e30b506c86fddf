/*
 * Copyright 2026 Shmchan Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"
)

type LoggerTestSuite struct {
	suite.Suite
}

func (s *LoggerTestSuite) TestLogColor() {
	SetLevel(LevelTrace)
	defer SetLevel(LevelWarn)

	Internal.Tracef("this is tracef %s", "hello world")
	Internal.Infof("this is infof %s", "hello world")
	Internal.Debugf("this is debugf %s", "hello world")
	Internal.Warnf("this is warnf %s", "hello world")
	Internal.Errorf("this is errorf %s", "hello world")
}

func (s *LoggerTestSuite) TestLevelFilter() {
	var buf bytes.Buffer
	l := New("filter", &buf)

	SetLevel(LevelError)
	defer SetLevel(LevelWarn)

	l.Infof("should not appear")
	s.Require().Equal(0, buf.Len())

	l.Errorf("boom %d", 42)
	s.Require().True(strings.Contains(buf.String(), "boom 42"))
	s.Require().True(strings.Contains(buf.String(), "Error"))
}

func (s *LoggerTestSuite) TestNamedLogger() {
	var buf bytes.Buffer
	l := New("ring trace", &buf)

	SetLevel(LevelTrace)
	defer SetLevel(LevelWarn)

	l.Warnf("drained %d", 7)
	s.Require().True(strings.Contains(buf.String(), "ring trace"))
}

func TestLoggerTestSuite(t *testing.T) {
	suite.Run(t, new(LoggerTestSuite))
}
