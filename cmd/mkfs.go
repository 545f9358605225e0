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
	"fmt"

	"github.com/kernellab/diskfs/internal/block"
	"github.com/kernellab/diskfs/internal/kernel"
	"github.com/kernellab/diskfs/internal/logger"
	"github.com/spf13/cobra"
)

var mkfsCmd = &cobra.Command{
	Use:   "mkfs",
	Short: "Format a fresh disk image with an empty root directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkConfigErrors(); err != nil {
			return err
		}
		logger.Init(Cfg.Logging.Format, Cfg.Logging.Severity, logOutput())

		dev, err := block.OpenFileDevice(Cfg.Disk.ImagePath, block.SectorNum(Cfg.Disk.TotalSectors), true)
		if err != nil {
			return fmt.Errorf("mkfs: %w", err)
		}

		k, err := kernel.Format(dev, kernel.Options{
			CacheCapacity:       Cfg.Cache.Capacity,
			WriteBehindInterval: Cfg.Cache.WriteBehindMillis,
			TotalSectors:        Cfg.Disk.TotalSectors,
			EnableDirectories:   Cfg.Syscalls.EnableDirectories,
			EnableVM:            Cfg.Syscalls.EnableVM,
			FrameCount:          Cfg.Syscalls.FrameCount,
			Console:             newStdioConsole(),
		})
		if err != nil {
			return fmt.Errorf("mkfs: %w", err)
		}

		logger.Infof("mkfs: formatted %s (%d sectors)", Cfg.Disk.ImagePath, Cfg.Disk.TotalSectors)
		return k.Close()
	},
}
