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
	"path/filepath"
	"testing"

	"github.com/kernellab/diskfs/cfg"
	"github.com/stretchr/testify/require"
)

func defaultTestConfig(imagePath string) cfg.Config {
	var c cfg.Config
	c.Disk.ImagePath = imagePath
	c.Disk.TotalSectors = 256
	c.Cache.Capacity = 16
	c.Cache.WriteBehindMillis = 500
	c.Syscalls.EnableDirectories = true
	c.Logging.Severity = "off"
	c.Logging.Format = "text"
	return c
}

func resetConfig(t *testing.T, imagePath string) {
	t.Helper()
	bindErr, configFileErr, unmarshalErr = nil, nil, nil
	Cfg = defaultTestConfig(imagePath)
}

func TestMkfsThenInspectRoundTrips(t *testing.T) {
	imagePath := filepath.Join(t.TempDir(), "disk.img")
	resetConfig(t, imagePath)

	require.NoError(t, mkfsCmd.RunE(mkfsCmd, nil))

	resetConfig(t, imagePath)
	require.NoError(t, inspectCmd.RunE(inspectCmd, nil))
}

func TestMkfsRejectsUnwritablePath(t *testing.T) {
	resetConfig(t, filepath.Join(t.TempDir(), "missing-dir", "disk.img"))
	require.Error(t, mkfsCmd.RunE(mkfsCmd, nil))
}
