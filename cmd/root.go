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

// Package cmd is the diskfs command-line entry point: a cobra root
// command with run, mkfs, and inspect subcommands, all reading their
// configuration through cfg.Config via viper and pflag.
package cmd

import (
	"fmt"
	"os"

	"github.com/kernellab/diskfs/cfg"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile       string
	bindErr       error
	configFileErr error
	unmarshalErr  error
	// Cfg is the fully resolved configuration, populated once cobra
	// finishes flag parsing and viper.Unmarshal runs in initConfig.
	Cfg cfg.Config
)

var rootCmd = &cobra.Command{
	Use:   "diskfs",
	Short: "A buffer-cached, indexed-inode disk image and the syscalls over it",
	Long: `diskfs formats and serves a disk image backed by a bounded
write-back buffer cache and a multi-level indexed inode layer, and
dispatches the syscalls a user process would trap into to manipulate it.`,
}

// Execute runs the root command; any returned error is printed and the
// process exits non-zero.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a YAML config file.")
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(runCmd, mkfsCmd, inspectCmd)
}

func initConfig() {
	if cfgFile == "" {
		unmarshalErr = viper.Unmarshal(&Cfg)
		return
	}
	viper.SetConfigFile(cfgFile)
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		configFileErr = fmt.Errorf("reading config file: %w", err)
		return
	}
	unmarshalErr = viper.Unmarshal(&Cfg)
}

func checkConfigErrors() error {
	if bindErr != nil {
		return bindErr
	}
	if configFileErr != nil {
		return configFileErr
	}
	if unmarshalErr != nil {
		return unmarshalErr
	}
	return nil
}
