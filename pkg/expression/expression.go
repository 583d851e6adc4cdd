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

package expression

import (
	"fmt"
	"strings"

	"github.com/pingcap/errors"

	"github.com/ggy8784/Impala/pkg/types"
	"github.com/ggy8784/Impala/pkg/util/chunk"
)

// Expression evaluates to a typed value over a row.
type Expression interface {
	Eval(row chunk.Row) (types.Datum, error)
	String() string
}

// Column references a column of the input row by offset.
type Column struct {
	Index   int
	RetType *types.FieldType
}

// Eval implements Expression.
func (c *Column) Eval(row chunk.Row) (types.Datum, error) {
	if c.Index >= row.Len() {
		return types.Datum{}, errors.Errorf("column offset %d out of range for row of %d columns", c.Index, row.Len())
	}
	return row.GetDatum(c.Index), nil
}

func (c *Column) String() string { return fmt.Sprintf("col#%d", c.Index) }

// Constant is a literal value.
type Constant struct {
	Value types.Datum
}

// Eval implements Expression.
func (c *Constant) Eval(chunk.Row) (types.Datum, error) { return c.Value, nil }

func (c *Constant) String() string { return c.Value.String() }

// Op enumerates the scalar operators.
type Op int

// Supported operators: comparisons over any comparable kinds, arithmetic
// over integers.
const (
	OpEQ Op = iota
	OpNE
	OpLT
	OpLE
	OpGT
	OpGE
	OpPlus
	OpMinus
	OpMul
)

var opNames = [...]string{"eq", "ne", "lt", "le", "gt", "ge", "plus", "minus", "mul"}

func (o Op) String() string { return opNames[o] }

func (o Op) isArithmetic() bool { return o >= OpPlus }

// ScalarFunction applies an operator to two argument expressions with SQL
// three-valued logic: a NULL argument yields a NULL result.
type ScalarFunction struct {
	op   Op
	args [2]Expression
}

// NewFunction builds a function expression.
func NewFunction(op Op, left, right Expression) *ScalarFunction {
	return &ScalarFunction{op: op, args: [2]Expression{left, right}}
}

// Eval implements Expression.
func (sf *ScalarFunction) Eval(row chunk.Row) (types.Datum, error) {
	left, err := sf.args[0].Eval(row)
	if err != nil {
		return types.Datum{}, err
	}
	right, err := sf.args[1].Eval(row)
	if err != nil {
		return types.Datum{}, err
	}
	if left.IsNull() || right.IsNull() {
		return types.Datum{}, nil
	}
	if sf.op.isArithmetic() {
		return sf.evalArithmetic(left, right)
	}
	cmp, err := left.Compare(right)
	if err != nil {
		return types.Datum{}, errors.Trace(err)
	}
	var matched bool
	switch sf.op {
	case OpEQ:
		matched = cmp == 0
	case OpNE:
		matched = cmp != 0
	case OpLT:
		matched = cmp < 0
	case OpLE:
		matched = cmp <= 0
	case OpGT:
		matched = cmp > 0
	case OpGE:
		matched = cmp >= 0
	}
	if matched {
		return types.NewIntDatum(1), nil
	}
	return types.NewIntDatum(0), nil
}

func (sf *ScalarFunction) evalArithmetic(left, right types.Datum) (types.Datum, error) {
	if left.Kind() != types.KindInt64 || right.Kind() != types.KindInt64 {
		return types.Datum{}, errors.Errorf("operator %s requires integer operands, got kinds %d and %d",
			sf.op, left.Kind(), right.Kind())
	}
	a, b := left.GetInt64(), right.GetInt64()
	switch sf.op {
	case OpPlus:
		return types.NewIntDatum(a + b), nil
	case OpMinus:
		return types.NewIntDatum(a - b), nil
	case OpMul:
		return types.NewIntDatum(a * b), nil
	}
	return types.Datum{}, errors.Errorf("unknown arithmetic operator %d", sf.op)
}

func (sf *ScalarFunction) String() string {
	return fmt.Sprintf("%s(%s, %s)", sf.op, sf.args[0], sf.args[1])
}

// CNFExprs stands for a CNF expression.
type CNFExprs []Expression

func (cnf CNFExprs) String() string {
	items := make([]string, 0, len(cnf))
	for _, e := range cnf {
		items = append(items, e.String())
	}
	return strings.Join(items, " and ")
}

// EvalBool evaluates a CNF over a row. It returns (true, false) when every
// conjunct is true; (false, false) when some conjunct is false; and
// (false, true) when no conjunct is false but at least one is NULL.
func (cnf CNFExprs) EvalBool(row chunk.Row) (ok bool, hasNull bool, err error) {
	for _, expr := range cnf {
		d, err := expr.Eval(row)
		if err != nil {
			return false, false, err
		}
		if d.IsNull() {
			hasNull = true
			continue
		}
		if d.GetInt64() == 0 {
			return false, false, nil
		}
	}
	if hasNull {
		return false, true, nil
	}
	return true, false, nil
}
