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

	"github.com/BurntSushi/toml"
	"github.com/pingcap/errors"
)

// Config holds the tunables of the join executor.
type Config struct {
	// PartitionBits is the number of hash bits used to pick a partition;
	// the fanout is 2^PartitionBits.
	PartitionBits int `toml:"partition-bits"`
	// MaxPartitionDepth bounds recursive repartitioning. A partition at this
	// level that still does not fit fails the query instead of recursing.
	MaxPartitionDepth int `toml:"max-partition-depth"`
	// MaxChunkSize is the row-count capacity of a batch.
	MaxChunkSize int `toml:"max-chunk-size"`
	// ProbeCacheSize is the size of the evaluate-and-hash window used for
	// prefetch pipelining during probe.
	ProbeCacheSize int `toml:"probe-cache-size"`
	// MemQuota is the memory budget of one operator instance in bytes.
	// 0 means unlimited.
	MemQuota int64 `toml:"mem-quota"`
	// SpillDir is where spill files are created. Empty means the OS temp dir.
	SpillDir string `toml:"spill-dir"`
	// EnablePrefetch turns on bucket prefetching during probe.
	EnablePrefetch bool `toml:"enable-prefetch"`
}

// DefaultConfig returns the default operator configuration.
func DefaultConfig() *Config {
	return &Config{
		PartitionBits:     4,
		MaxPartitionDepth: 16,
		MaxChunkSize:      1024,
		ProbeCacheSize:    64,
		MemQuota:          0,
		SpillDir:          os.TempDir(),
		EnablePrefetch:    true,
	}
}

// Load reads a TOML config file over the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, errors.Errorf("unknown configuration item %q", undecoded[0].String())
	}
	if err := cfg.Valid(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Valid checks the configuration values.
func (c *Config) Valid() error {
	if c.PartitionBits < 1 || c.PartitionBits > 8 {
		return errors.Errorf("partition-bits %d out of range [1, 8]", c.PartitionBits)
	}
	if c.MaxPartitionDepth < 1 {
		return errors.Errorf("max-partition-depth %d must be at least 1", c.MaxPartitionDepth)
	}
	if c.MaxChunkSize < 1 {
		return errors.Errorf("max-chunk-size %d must be at least 1", c.MaxChunkSize)
	}
	if c.ProbeCacheSize < 1 {
		return errors.Errorf("probe-cache-size %d must be at least 1", c.ProbeCacheSize)
	}
	if c.MemQuota < 0 {
		return errors.Errorf("mem-quota must not be negative")
	}
	return nil
}
