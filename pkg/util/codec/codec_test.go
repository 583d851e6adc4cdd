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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ggy8784/Impala/pkg/types"
)

func TestDatumRoundTrip(t *testing.T) {
	datums := types.MakeDatums(nil, int64(-7), uint64(42), 3.5, "hello", []byte{0x00, 0x01})
	var buf []byte
	for _, d := range datums {
		buf = EncodeDatum(buf, d)
	}
	rest := buf
	for i := range datums {
		var got types.Datum
		var err error
		got, rest, err = DecodeDatum(rest)
		require.NoError(t, err)
		require.Equal(t, datums[i].Kind(), got.Kind())
		if !datums[i].IsNull() {
			cmp, err := datums[i].Compare(got)
			require.NoError(t, err)
			require.Zero(t, cmp)
		}
	}
	require.Empty(t, rest)
}

func TestKeyEncodingIsPrefixFree(t *testing.T) {
	// ("ab", "c") and ("a", "bc") must serialize differently.
	key1 := EncodeDatum(EncodeDatum(nil, types.NewStringDatum("ab")), types.NewStringDatum("c"))
	key2 := EncodeDatum(EncodeDatum(nil, types.NewStringDatum("a")), types.NewStringDatum("bc"))
	require.NotEqual(t, key1, key2)
}

func TestRowRoundTrip(t *testing.T) {
	row := types.MakeDatums(int64(1), "x", nil)
	buf := EncodeRow(nil, row)
	out := make([]types.Datum, len(row))
	rest, err := DecodeRow(buf, len(row), out)
	require.NoError(t, err)
	require.Empty(t, rest)
	require.Equal(t, int64(1), out[0].GetInt64())
	require.Equal(t, "x", out[1].GetString())
	require.True(t, out[2].IsNull())
}

func TestDecodeTruncatedInput(t *testing.T) {
	buf := EncodeDatum(nil, types.NewStringDatum("hello"))
	_, _, err := DecodeDatum(buf[:3])
	require.Error(t, err)
	_, _, err = DecodeDatum(nil)
	require.Error(t, err)
}

func TestHashLevelsAreIndependent(t *testing.T) {
	key := EncodeDatum(nil, types.NewIntDatum(12345))
	h0 := HashKey(0, key)
	h1 := HashKey(1, key)
	h2 := HashKey(2, key)
	require.NotEqual(t, h0, h1)
	require.NotEqual(t, h1, h2)

	// Deterministic per level.
	require.Equal(t, h0, HashKey(0, key))
	require.Equal(t, h1, HashKey(1, key))
}

func TestHashDistributesTopBits(t *testing.T) {
	// The partition index comes from the top bits of the hash; make sure a
	// contiguous key range does not collapse into one bucket.
	seen := make(map[uint64]struct{})
	for i := 0; i < 1024; i++ {
		key := EncodeDatum(nil, types.NewIntDatum(int64(i)))
		seen[HashKey(0, key)>>60] = struct{}{}
	}
	require.Greater(t, len(seen), 8)
}
