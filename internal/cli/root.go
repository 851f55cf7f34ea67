/*
 *
 * Copyright 2025 windfeed authors.
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
 *
 */

// Package cli implements the regutil command, the operator's view onto
// the shared upstream-process registry.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/windfeed/windfeed/internal/config"
	"github.com/windfeed/windfeed/internal/ipc/rwlock"
)

var (
	cfgFile      string
	registryPath string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "regutil",
	Short:         "Inspect and manage the windfeed upstream-process registry",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup()
	},
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if logger != nil {
		logger.Sync()
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (defaults apply without one)")
	rootCmd.PersistentFlags().StringVarP(&registryPath, "registry-path", "r", "",
		"registry path, overriding the config file")
}

func setup() error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return err
	}
	if registryPath != "" {
		cfg.RegistryPath = registryPath
	}

	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = level
	logger, err = zc.Build()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	rwlock.SetLogger(logger)
	return nil
}
