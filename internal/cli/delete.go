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

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the shared registry",
	Long: `Delete removes the registry's shared objects unconditionally.
Processes with the registry open keep their attachments until they
detach; new opens fail until the registry is created again.`,
	RunE: runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
	if err := registry.Delete(cfg.RegistryPath); err != nil {
		return err
	}
	logger.Info("deleted registry", zap.String("path", cfg.RegistryPath))
	return nil
}
