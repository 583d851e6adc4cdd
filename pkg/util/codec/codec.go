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
	"encoding/binary"
	"math"

	"github.com/pingcap/errors"

	"github.com/ggy8784/Impala/pkg/types"
)

// Datum encoding flags. The encoding is prefix-free: fixed width for the
// numeric kinds, length-framed for the byte kinds, so concatenated key
// vectors never alias.
const (
	nilFlag    byte = 0
	intFlag    byte = 1
	uintFlag   byte = 2
	floatFlag  byte = 3
	bytesFlag  byte = 4
	stringFlag byte = 5
)

// EncodeDatum appends the encoded form of d to b and returns the new slice.
func EncodeDatum(b []byte, d types.Datum) []byte {
	switch d.Kind() {
	case types.KindNull:
		return append(b, nilFlag)
	case types.KindInt64:
		b = append(b, intFlag)
		return appendUint64(b, uint64(d.GetInt64()))
	case types.KindUint64:
		b = append(b, uintFlag)
		return appendUint64(b, d.GetUint64())
	case types.KindFloat64:
		b = append(b, floatFlag)
		return appendUint64(b, math.Float64bits(d.GetFloat64()))
	case types.KindBytes:
		b = append(b, bytesFlag)
		return appendBytes(b, d.GetBytes())
	case types.KindString:
		b = append(b, stringFlag)
		return appendBytes(b, d.GetBytes())
	}
	panic("unknown datum kind")
}

// DecodeDatum decodes one datum from b, returning it and the remaining bytes.
func DecodeDatum(b []byte) (types.Datum, []byte, error) {
	var d types.Datum
	if len(b) == 0 {
		return d, nil, errors.New("insufficient bytes to decode datum")
	}
	flag := b[0]
	b = b[1:]
	switch flag {
	case nilFlag:
		return d, b, nil
	case intFlag:
		v, rest, err := cutUint64(b)
		if err != nil {
			return d, nil, err
		}
		d.SetInt64(int64(v))
		return d, rest, nil
	case uintFlag:
		v, rest, err := cutUint64(b)
		if err != nil {
			return d, nil, err
		}
		d.SetUint64(v)
		return d, rest, nil
	case floatFlag:
		v, rest, err := cutUint64(b)
		if err != nil {
			return d, nil, err
		}
		d.SetFloat64(math.Float64frombits(v))
		return d, rest, nil
	case bytesFlag, stringFlag:
		raw, rest, err := cutBytes(b)
		if err != nil {
			return d, nil, err
		}
		if flag == bytesFlag {
			d.SetBytes(raw)
		} else {
			d.SetString(string(raw))
		}
		return d, rest, nil
	}
	return d, nil, errors.Errorf("invalid datum flag %d", flag)
}

// EncodeRow appends the encoded form of every datum in row to b.
func EncodeRow(b []byte, row []types.Datum) []byte {
	for i := range row {
		b = EncodeDatum(b, row[i])
	}
	return b
}

// DecodeRow decodes numCols datums from b into out. out must have numCols
// capacity. Returns the remaining bytes.
func DecodeRow(b []byte, numCols int, out []types.Datum) ([]byte, error) {
	var err error
	for i := 0; i < numCols; i++ {
		out[i], b, err = DecodeDatum(b)
		if err != nil {
			return nil, errors.Trace(err)
		}
	}
	return b, nil
}

func appendUint64(b []byte, v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return append(b, buf[:]...)
}

func cutUint64(b []byte) (uint64, []byte, error) {
	if len(b) < 8 {
		return 0, nil, errors.New("insufficient bytes to decode value")
	}
	return binary.BigEndian.Uint64(b[:8]), b[8:], nil
}

func appendBytes(b, data []byte) []byte {
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(data)))
	b = append(b, lenBuf[:n]...)
	return append(b, data...)
}

func cutBytes(b []byte) ([]byte, []byte, error) {
	size, n := binary.Uvarint(b)
	if n <= 0 || uint64(len(b)-n) < size {
		return nil, nil, errors.New("insufficient bytes to decode bytes value")
	}
	data := make([]byte, size)
	copy(data, b[n:n+int(size)])
	return data, b[n+int(size):], nil
}

