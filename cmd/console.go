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

package cmd

import (
	"bufio"
	"io"
	"os"

	"github.com/kernellab/diskfs/internal/logger"
	"gopkg.in/natefinch/lumberjack.v2"
)

// stdioConsole backs FD 0/1 with the process's own stdin/stdout, the way
// a real kernel's console device would be the serial port or terminal
// underneath the syscalls that write(1, ...) and read(0, ...) reach.
type stdioConsole struct {
	out io.Writer
	in  *bufio.Reader
}

func newStdioConsole() *stdioConsole {
	return &stdioConsole{out: os.Stdout, in: bufio.NewReader(os.Stdin)}
}

func (c *stdioConsole) Write(p []byte) (int, error) { return c.out.Write(p) }

func (c *stdioConsole) ReadByte() (byte, error) { return c.in.ReadByte() }

// logOutput resolves the configured log file into a writer. A configured
// path is rotated through lumberjack and wrapped in an AsyncLogger so log
// rotation never blocks a kernel thread; an empty path logs to stderr.
func logOutput() io.Writer {
	if Cfg.Logging.File == "" {
		return os.Stderr
	}
	rotated := &lumberjack.Logger{
		Filename:   Cfg.Logging.File,
		MaxSize:    100, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}
	return logger.NewAsyncLogger(rotated, 256)
}

