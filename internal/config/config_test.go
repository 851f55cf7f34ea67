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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "windfeed.yaml")
	require.NoError(t, os.WriteFile(file, []byte(content), 0644))
	return file
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "/var/run/windfeed", c.RegistryPath)
	require.Zero(t, c.RegistryCapacity)
	require.True(t, c.AntiDoS)
	require.Equal(t, "info", c.LogLevel)
}

func TestLoadFile(t *testing.T) {
	file := writeConfig(t, `
registry-path: /tmp/feedtest
registry-capacity: 8192
anti-dos: false
log-level: debug
`)
	c, err := Load(file)
	require.NoError(t, err)
	require.Equal(t, "/tmp/feedtest", c.RegistryPath)
	require.Equal(t, uint64(8192), c.RegistryCapacity)
	require.False(t, c.AntiDoS)
	require.Equal(t, "debug", c.LogLevel)
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("WINDFEED_LOG_LEVEL", "warn")
	c, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "warn", c.LogLevel)
}

func TestLoadRejectsBadValues(t *testing.T) {
	_, err := Load(writeConfig(t, `log-level: loud`))
	require.Error(t, err)

	_, err = Load(writeConfig(t, `registry-path: ""`))
	require.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
