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

package codec

import (
	"github.com/dgryski/go-farm"
	"github.com/twmb/murmur3"
)

// Seed base for the level >= 1 hash. Each recursion level gets an independent
// seed so keys that collide at one level redistribute at the next.
const murmurSeedBase uint64 = 0x9747b28c2b3e0f1d

// HashKey hashes a serialized key for the given partition level. Level 0 uses
// farmhash (the fast fingerprint); deeper levels use seeded murmur3 so that
// recursive repartitioning cannot inherit the parent level's distribution.
func HashKey(level int, key []byte) uint64 {
	if level == 0 {
		return farm.Fingerprint64(key)
	}
	return murmur3.SeedSum64(murmurSeedBase+uint64(level)*0x87c37b91114253d5, key)
}
