// Copyright 2024 The Impala-Go Authors.
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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Valid())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "join.toml")
	content := `
partition-bits = 3
max-partition-depth = 4
mem-quota = 1048576
enable-prefetch = false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 3, cfg.PartitionBits)
	require.Equal(t, 4, cfg.MaxPartitionDepth)
	require.Equal(t, int64(1048576), cfg.MemQuota)
	require.False(t, cfg.EnablePrefetch)
	// Untouched keys keep their defaults.
	require.Equal(t, DefaultConfig().MaxChunkSize, cfg.MaxChunkSize)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "join.toml")
	require.NoError(t, os.WriteFile(path, []byte("no-such-option = 1\n"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PartitionBits = 0
	require.Error(t, cfg.Valid())

	cfg = DefaultConfig()
	cfg.PartitionBits = 9
	require.Error(t, cfg.Valid())

	cfg = DefaultConfig()
	cfg.MaxChunkSize = 0
	require.Error(t, cfg.Valid())

	cfg = DefaultConfig()
	cfg.MemQuota = -1
	require.Error(t, cfg.Valid())
}
