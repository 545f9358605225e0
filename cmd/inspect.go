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
	"github.com/kernellab/diskfs/internal/bufcache"
	"github.com/kernellab/diskfs/internal/directory"
	"github.com/kernellab/diskfs/internal/filehandle"
	"github.com/kernellab/diskfs/internal/freemap"
	"github.com/kernellab/diskfs/internal/inode"
	"github.com/kernellab/diskfs/internal/kernel"
	"github.com/kernellab/diskfs/internal/metrics"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type entryManifest struct {
	Name   string `yaml:"name"`
	Sector uint32 `yaml:"sector"`
	Length int64  `yaml:"length"`
	IsDir  bool   `yaml:"is_dir"`
}

type manifest struct {
	DiskImage    string          `yaml:"disk_image"`
	TotalSectors int             `yaml:"total_sectors"`
	UsedSectors  int             `yaml:"used_sectors"`
	RootEntries  []entryManifest `yaml:"root_entries"`
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print a human-readable manifest of an existing disk image",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkConfigErrors(); err != nil {
			return err
		}

		dev, err := block.OpenFileDevice(Cfg.Disk.ImagePath, block.SectorNum(Cfg.Disk.TotalSectors), false)
		if err != nil {
			return fmt.Errorf("inspect: %w", err)
		}
		defer dev.Close()

		cache := bufcache.New(dev, Cfg.Cache.Capacity, 0, metrics.NewNoopHandle())
		free, err := freemap.Load(cache, kernel.BitmapSector, Cfg.Disk.TotalSectors, kernel.ReservedSectors)
		if err != nil {
			return fmt.Errorf("inspect: %w", err)
		}
		table := inode.NewTable(cache, free, metrics.NewNoopHandle())

		rootHandle := filehandle.New(table, table.Open(kernel.RootSector))
		defer rootHandle.Close()

		entries, err := directory.Open(table, rootHandle, kernel.RootSector).List()
		if err != nil {
			return fmt.Errorf("inspect: %w", err)
		}

		m := manifest{
			DiskImage:    Cfg.Disk.ImagePath,
			TotalSectors: free.TotalCount(),
			UsedSectors:  free.UsedCount(),
			RootEntries:  make([]entryManifest, 0, len(entries)),
		}
		for _, e := range entries {
			h := filehandle.New(table, table.Open(e.Sector))
			length, err := h.Length()
			if err != nil {
				h.Close()
				return fmt.Errorf("inspect: %w", err)
			}
			isDir, err := h.IsDir()
			h.Close()
			if err != nil {
				return fmt.Errorf("inspect: %w", err)
			}
			m.RootEntries = append(m.RootEntries, entryManifest{
				Name:   e.Name,
				Sector: uint32(e.Sector),
				Length: length,
				IsDir:  isDir,
			})
		}

		out, err := yaml.Marshal(m)
		if err != nil {
			return fmt.Errorf("inspect: %w", err)
		}
		fmt.Print(string(out))
		return nil
	},
}
