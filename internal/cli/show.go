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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/windfeed/windfeed/internal/registry"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "List the registered upstream processes",
	RunE:  runShow,
}

func init() {
	rootCmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	r, err := registry.Open(cfg.RegistryPath,
		registry.WithAntiDoS(cfg.AntiDoS), registry.WithLogger(logger))
	if err != nil {
		return err
	}
	defer r.Close()

	it, err := r.Snapshot()
	if err != nil {
		return err
	}
	return printSnapshot(it)
}

func printSnapshot(it *registry.Iterator) error {
	fmt.Printf("%d upstream process(es)\n", it.Len())
	for e, ok := it.First(); ok; e, ok = it.Next() {
		fmt.Println("  " + e.String())
	}
	return it.Err()
}
