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

// FieldTp is the storage class of a column.
type FieldTp byte

// Field type constants.
const (
	TypeLonglong FieldTp = iota + 1
	TypeDouble
	TypeVarString
)

// FieldType describes the type of a column in a row schema.
type FieldType struct {
	Tp FieldTp
	// NotNull marks a column that can never hold NULL. The join operator does
	// not read it: key columns are checked for NULL whether it is set or not.
	NotNull bool
}

// NewFieldType creates a nullable FieldType of the given storage class.
func NewFieldType(tp FieldTp) *FieldType {
	return &FieldType{Tp: tp}
}

func (ft *FieldType) String() string {
	switch ft.Tp {
	case TypeLonglong:
		return "bigint"
	case TypeDouble:
		return "double"
	case TypeVarString:
		return "varchar"
	}
	return "unknown"
}
