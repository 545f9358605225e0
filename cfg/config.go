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

// Package cfg declares the kernel's configuration surface and binds it
// to command-line flags and an optional YAML config file via pflag and
// viper.
package cfg

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved kernel configuration, populated by
// viper.Unmarshal after flags and any config file have been read.
type Config struct {
	Disk     DiskConfig     `mapstructure:"disk"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Syscalls SyscallsConfig `mapstructure:"syscalls"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type DiskConfig struct {
	ImagePath    string `mapstructure:"image-path"`
	TotalSectors int    `mapstructure:"total-sectors"`
}

type CacheConfig struct {
	Capacity          int `mapstructure:"capacity"`
	WriteBehindMillis int `mapstructure:"write-behind-ms"`
}

type SyscallsConfig struct {
	EnableDirectories bool `mapstructure:"enable-directories"`
	EnableVM          bool `mapstructure:"enable-vm"`
	FrameCount        int  `mapstructure:"frame-count"`
}

type LoggingConfig struct {
	Severity string `mapstructure:"severity"`
	Format   string `mapstructure:"format"`
	File     string `mapstructure:"file"`
}

type MetricsConfig struct {
	Port int `mapstructure:"port"`
}

// BindFlags registers every Config field as a pflag and binds each one
// into viper, so a value can come from a flag, a config file, or
// viper's own default, in that priority order.
func BindFlags(flagSet *pflag.FlagSet) error {
	var err error

	flagSet.StringP("disk-image", "", "disk.img", "Path to the backing disk image file.")
	err = viper.BindPFlag("disk.image-path", flagSet.Lookup("disk-image"))
	if err != nil {
		return err
	}

	flagSet.IntP("total-sectors", "", 8192, "Number of sectors the disk image holds.")
	err = viper.BindPFlag("disk.total-sectors", flagSet.Lookup("total-sectors"))
	if err != nil {
		return err
	}

	flagSet.IntP("cache-capacity", "", 64, "Number of sectors the buffer cache holds.")
	err = viper.BindPFlag("cache.capacity", flagSet.Lookup("cache-capacity"))
	if err != nil {
		return err
	}

	flagSet.IntP("write-behind-ms", "", 500, "Milliseconds between write-behind flushes.")
	err = viper.BindPFlag("cache.write-behind-ms", flagSet.Lookup("write-behind-ms"))
	if err != nil {
		return err
	}

	flagSet.BoolP("enable-directories", "", true, "Enable CHDIR/MKDIR and directory syscalls.")
	err = viper.BindPFlag("syscalls.enable-directories", flagSet.Lookup("enable-directories"))
	if err != nil {
		return err
	}

	flagSet.BoolP("enable-vm", "", false, "Enable the mmap bridge and frame allocator.")
	err = viper.BindPFlag("syscalls.enable-vm", flagSet.Lookup("enable-vm"))
	if err != nil {
		return err
	}

	flagSet.IntP("frame-count", "", 256, "Number of physical frames available to the frame allocator.")
	err = viper.BindPFlag("syscalls.frame-count", flagSet.Lookup("frame-count"))
	if err != nil {
		return err
	}

	flagSet.StringP("log-severity", "", "info", "off|error|warning|info|debug|trace")
	err = viper.BindPFlag("logging.severity", flagSet.Lookup("log-severity"))
	if err != nil {
		return err
	}

	flagSet.StringP("log-format", "", "text", "text|json")
	err = viper.BindPFlag("logging.format", flagSet.Lookup("log-format"))
	if err != nil {
		return err
	}

	flagSet.StringP("log-file", "", "", "Path to the log file; empty logs to stderr.")
	err = viper.BindPFlag("logging.file", flagSet.Lookup("log-file"))
	if err != nil {
		return err
	}

	flagSet.IntP("metrics-port", "", 0, "Port to serve Prometheus metrics on; 0 disables the endpoint.")
	err = viper.BindPFlag("metrics.port", flagSet.Lookup("metrics-port"))
	if err != nil {
		return err
	}

	return nil
}
