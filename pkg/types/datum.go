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

package types

import (
	"fmt"
	"math"
	"strconv"

	"github.com/pingcap/errors"
)

// Kind constants for Datum.
const (
	KindNull byte = iota
	KindInt64
	KindUint64
	KindFloat64
	KindString
	KindBytes
)

// Datum is a typed value. The zero value is NULL.
type Datum struct {
	k byte
	i int64
	b []byte
}

// Kind returns the datum kind.
func (d Datum) Kind() byte { return d.k }

// IsNull reports whether the datum is NULL.
func (d Datum) IsNull() bool { return d.k == KindNull }

// SetNull resets the datum to NULL.
func (d *Datum) SetNull() { d.k, d.i, d.b = KindNull, 0, nil }

// GetInt64 gets the int64 value.
func (d Datum) GetInt64() int64 { return d.i }

// SetInt64 sets the datum to an int64 value.
func (d *Datum) SetInt64(i int64) { d.k, d.i, d.b = KindInt64, i, nil }

// GetUint64 gets the uint64 value.
func (d Datum) GetUint64() uint64 { return uint64(d.i) }

// SetUint64 sets the datum to a uint64 value.
func (d *Datum) SetUint64(u uint64) { d.k, d.i, d.b = KindUint64, int64(u), nil }

// GetFloat64 gets the float64 value.
func (d Datum) GetFloat64() float64 { return math.Float64frombits(uint64(d.i)) }

// SetFloat64 sets the datum to a float64 value.
func (d *Datum) SetFloat64(f float64) { d.k, d.i, d.b = KindFloat64, int64(math.Float64bits(f)), nil }

// GetString gets the string value.
func (d Datum) GetString() string { return string(d.b) }

// SetString sets the datum to a string value.
func (d *Datum) SetString(s string) { d.k, d.i, d.b = KindString, 0, []byte(s) }

// GetBytes gets the raw byte value.
func (d Datum) GetBytes() []byte { return d.b }

// SetBytes sets the datum to a byte slice value.
func (d *Datum) SetBytes(b []byte) { d.k, d.i, d.b = KindBytes, 0, b }

// NewDatum creates a Datum from a Go value.
func NewDatum(v interface{}) Datum {
	var d Datum
	switch x := v.(type) {
	case nil:
	case int:
		d.SetInt64(int64(x))
	case int64:
		d.SetInt64(x)
	case uint64:
		d.SetUint64(x)
	case float64:
		d.SetFloat64(x)
	case string:
		d.SetString(x)
	case []byte:
		d.SetBytes(x)
	case Datum:
		return x
	default:
		panic(fmt.Sprintf("unsupported datum value %T", v))
	}
	return d
}

// NewIntDatum creates an int64 Datum.
func NewIntDatum(i int64) Datum {
	var d Datum
	d.SetInt64(i)
	return d
}

// NewUintDatum creates a uint64 Datum.
func NewUintDatum(u uint64) Datum {
	var d Datum
	d.SetUint64(u)
	return d
}

// NewFloat64Datum creates a float64 Datum.
func NewFloat64Datum(f float64) Datum {
	var d Datum
	d.SetFloat64(f)
	return d
}

// NewStringDatum creates a string Datum.
func NewStringDatum(s string) Datum {
	var d Datum
	d.SetString(s)
	return d
}

// MakeDatums creates a Datum slice from Go values.
func MakeDatums(args ...interface{}) []Datum {
	datums := make([]Datum, len(args))
	for i, v := range args {
		datums[i] = NewDatum(v)
	}
	return datums
}

// MemUsage returns the heap bytes held by the datum beyond its struct header.
func (d Datum) MemUsage() int64 {
	return int64(cap(d.b))
}

// Compare compares two non-NULL datums and returns -1, 0 or 1. The numeric
// kinds compare across each other; strings and bytes compare bytewise.
// Comparing a NULL or comparing incompatible kinds is an error, NULL ordering
// is the caller's concern.
func (d Datum) Compare(other Datum) (int, error) {
	if d.IsNull() || other.IsNull() {
		return 0, errors.New("cannot compare NULL datum")
	}
	switch d.k {
	case KindInt64, KindUint64, KindFloat64:
		switch other.k {
		case KindInt64, KindUint64, KindFloat64:
			return compareNumeric(d, other), nil
		}
	case KindString, KindBytes:
		switch other.k {
		case KindString, KindBytes:
			return compareBytes(d.b, other.b), nil
		}
	}
	return 0, errors.Errorf("cannot compare kind %d with kind %d", d.k, other.k)
}

func compareBytes(a, b []byte) int {
	la, lb := len(a), len(b)
	n := la
	if lb < n {
		n = lb
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case la < lb:
		return -1
	case la > lb:
		return 1
	}
	return 0
}

func compareNumeric(a, b Datum) int {
	// Fast path for same-kind integers, the common join-key case.
	if a.k == KindInt64 && b.k == KindInt64 {
		return compareInt64(a.i, b.i)
	}
	if a.k == KindUint64 && b.k == KindUint64 {
		return compareUint64(uint64(a.i), uint64(b.i))
	}
	af, bf := a.toFloat(), b.toFloat()
	switch {
	case af < bf:
		return -1
	case af > bf:
		return 1
	}
	return 0
}

func (d Datum) toFloat() float64 {
	switch d.k {
	case KindInt64:
		return float64(d.i)
	case KindUint64:
		return float64(uint64(d.i))
	case KindFloat64:
		return d.GetFloat64()
	}
	return 0
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func (d Datum) String() string {
	switch d.k {
	case KindNull:
		return "NULL"
	case KindInt64:
		return strconv.FormatInt(d.i, 10)
	case KindUint64:
		return strconv.FormatUint(uint64(d.i), 10)
	case KindFloat64:
		return strconv.FormatFloat(d.GetFloat64(), 'g', -1, 64)
	case KindString, KindBytes:
		return strconv.Quote(string(d.b))
	}
	return "unknown"
}
