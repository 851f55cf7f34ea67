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

package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/windfeed/windfeed/internal/registry"
)

var createCapacity uint64

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create the shared registry",
	RunE:  runCreate,
}

func init() {
	createCmd.Flags().Uint64Var(&createCapacity, "capacity", 0,
		"initial entry area in bytes (0 for the default)")
	rootCmd.AddCommand(createCmd)
}

func runCreate(cmd *cobra.Command, args []string) error {
	if createCapacity == 0 {
		createCapacity = cfg.RegistryCapacity
	}
	r, err := registry.Create(cfg.RegistryPath, createCapacity,
		registry.WithAntiDoS(cfg.AntiDoS), registry.WithLogger(logger))
	if err != nil {
		return err
	}
	logger.Info("created registry", zap.String("path", cfg.RegistryPath))
	return r.Close()
}
