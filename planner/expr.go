package planner

import (
	"fmt"
	"time"

	"mit.edu/dsg/topsales/common"
	"mit.edu/dsg/topsales/storage"
)

// Expr represents a node in an expression tree.
// Expressions are stateless and immutable plan nodes.
type Expr interface {
	// Eval evaluates the expression against the provided tuple.
	Eval(t storage.Tuple) common.Value

	// OutputType returns the type of value this expression produces.
	OutputType() common.Type

	// String returns a string representation of the expression.
	String() string
}

// BoundValueExpr performs computation on an input tuple.
type BoundValueExpr struct {
	fieldOffset int // offset of the column in the projected tuple
	outputType  common.Type
	name        string
}

func NewColumnValueExpression(fieldOffset int, tupleSchema []common.Type, name string) *BoundValueExpr {
	return &BoundValueExpr{
		fieldOffset: fieldOffset,
		outputType:  tupleSchema[fieldOffset],
		name:        name,
	}
}

func (e *BoundValueExpr) Eval(t storage.Tuple) common.Value {
	return t.GetValue(e.fieldOffset)
}

func (e *BoundValueExpr) OutputType() common.Type {
	return e.outputType
}

func (e *BoundValueExpr) String() string {
	return e.name
}

type ConstantValueExpr struct {
	val common.Value
}

func NewConstantValueExpression(val common.Value) *ConstantValueExpr {
	return &ConstantValueExpr{val: val}
}

func (e *ConstantValueExpr) Eval(t storage.Tuple) common.Value {
	return e.val
}

func (e *ConstantValueExpr) OutputType() common.Type {
	return e.val.Type()
}

func (e *ConstantValueExpr) String() string {
	return e.val.String()
}

// IntervalExpr is a fixed duration. It evaluates to an integer number of microseconds, the unit timestamps are
// stored in, so it can be added to or subtracted from a timestamp.
type IntervalExpr struct {
	d time.Duration
}

func NewIntervalExpression(d time.Duration) *IntervalExpr {
	return &IntervalExpr{d: d}
}

func (e *IntervalExpr) Eval(t storage.Tuple) common.Value {
	return common.NewIntValue(e.d.Microseconds())
}

func (e *IntervalExpr) OutputType() common.Type {
	return common.IntType
}

func (e *IntervalExpr) String() string {
	return fmt.Sprintf("INTERVAL '%s'", e.d)
}

type ComparisonType int

const (
	Equal ComparisonType = iota
	NotEqual
	GreaterThan
	LessThan
	GreaterThanOrEqual
	LessThanOrEqual
)

func (c ComparisonType) String() string {
	switch c {
	case Equal:
		return "="
	case NotEqual:
		return "!="
	case GreaterThan:
		return ">"
	case LessThan:
		return "<"
	case GreaterThanOrEqual:
		return ">="
	case LessThanOrEqual:
		return "<="
	}
	return "???"
}

type ComparisonExpression struct {
	left     Expr
	right    Expr
	compType ComparisonType
}

func NewComparisonExpression(left Expr, right Expr, compType ComparisonType) *ComparisonExpression {
	return &ComparisonExpression{
		left:     left,
		right:    right,
		compType: compType,
	}
}

func (e *ComparisonExpression) Eval(t storage.Tuple) common.Value {
	val1 := e.left.Eval(t)
	val2 := e.right.Eval(t)

	if val1.IsNull() || val2.IsNull() {
		return common.NewNullInt()
	}

	cmp := val1.Compare(val2)
	var result bool

	switch e.compType {
	case Equal:
		result = cmp == 0
	case NotEqual:
		result = cmp != 0
	case GreaterThan:
		result = cmp > 0
	case LessThan:
		result = cmp < 0
	case GreaterThanOrEqual:
		result = cmp >= 0
	case LessThanOrEqual:
		result = cmp <= 0
	}
	if result {
		return common.NewIntValue(1)
	}
	return common.NewIntValue(0)
}

func (e *ComparisonExpression) OutputType() common.Type {
	return common.IntType
}

func (e *ComparisonExpression) String() string {
	return fmt.Sprintf("(%s %s %s)", e.left.String(), e.compType.String(), e.right.String())
}

func ExprIsTrue(v common.Value) bool {
	// Must be an integer type, not null, and non-zero.
	return v.Type() == common.IntType && !v.IsNull() && v.IntValue() != 0
}

func ExprIsFalse(v common.Value) bool {
	return v.Type() == common.IntType && !v.IsNull() && v.IntValue() == 0
}

type BinaryLogicType int

const (
	And BinaryLogicType = iota
	Or
)

func (l BinaryLogicType) String() string {
	switch l {
	case And:
		return "AND"
	case Or:
		return "OR"
	}
	return "???"
}

type BinaryLogicExpression struct {
	left      Expr
	right     Expr
	logicType BinaryLogicType
}

func NewBinaryLogicExpression(left Expr, right Expr, logicType BinaryLogicType) *BinaryLogicExpression {
	return &BinaryLogicExpression{
		left:      left,
		right:     right,
		logicType: logicType,
	}
}

func (e *BinaryLogicExpression) Eval(t storage.Tuple) common.Value {
	val1 := e.left.Eval(t)
	val2 := e.right.Eval(t)

	switch e.logicType {
	case And:
		if ExprIsTrue(val1) && ExprIsTrue(val2) {
			return common.NewIntValue(1)
		} else if ExprIsFalse(val1) || ExprIsFalse(val2) {
			return common.NewIntValue(0)
		}
		return common.NewNullInt()
	case Or:
		if ExprIsTrue(val1) || ExprIsTrue(val2) {
			return common.NewIntValue(1)
		} else if ExprIsFalse(val1) && ExprIsFalse(val2) {
			return common.NewIntValue(0)
		}
		return common.NewNullInt()
	default:
		panic("unknown logic type")
	}
}

func (e *BinaryLogicExpression) OutputType() common.Type {
	return common.IntType
}

func (e *BinaryLogicExpression) String() string {
	return fmt.Sprintf("(%s %s %s)", e.left.String(), e.logicType.String(), e.right.String())
}

type NegationExpression struct {
	child Expr
}

func NewNegationExpression(child Expr) *NegationExpression {
	return &NegationExpression{
		child: child,
	}
}

func (e *NegationExpression) Eval(t storage.Tuple) common.Value {
	val := e.child.Eval(t)
	if val.IsNull() {
		return common.NewNullInt()
	}
	if ExprIsTrue(val) {
		return common.NewIntValue(0)
	}
	return common.NewIntValue(1)
}

func (e *NegationExpression) OutputType() common.Type {
	return common.IntType
}

func (e *NegationExpression) String() string {
	return fmt.Sprintf("!(%s)", e.child.String())
}

type NullCheckType int

const (
	IsNull NullCheckType = iota
	IsNotNull
)

func (n NullCheckType) String() string {
	switch n {
	case IsNull:
		return "IS NULL"
	case IsNotNull:
		return "IS NOT NULL"
	}
	return "???"
}

type NullCheckExpression struct {
	child     Expr
	checkType NullCheckType
}

func NewNullCheckExpression(child Expr, checkType NullCheckType) *NullCheckExpression {
	return &NullCheckExpression{
		child:     child,
		checkType: checkType,
	}
}

func (e *NullCheckExpression) Eval(t storage.Tuple) common.Value {
	val := e.child.Eval(t)
	isNull := val.IsNull()

	var result bool
	switch e.checkType {
	case IsNull:
		result = isNull
	case IsNotNull:
		result = !isNull
	}

	if result {
		return common.NewIntValue(1)
	}
	return common.NewIntValue(0)
}

func (e *NullCheckExpression) OutputType() common.Type {
	return common.IntType
}

func (e *NullCheckExpression) String() string {
	return fmt.Sprintf("(%s %s)", e.child.String(), e.checkType.String())
}

type ArithmeticType int

const (
	Add ArithmeticType = iota
	Sub
	Mult
	Div
	Mod
)

func (a ArithmeticType) String() string {
	switch a {
	case Add:
		return "+"
	case Sub:
		return "-"
	case Mult:
		return "*"
	case Div:
		return "/"
	case Mod:
		return "%"
	}
	return "?"
}

// ArithmeticExpression computes integer arithmetic. A timestamp on the left of + or - shifts the instant by the
// right operand in microseconds (see IntervalExpr) and yields a timestamp.
type ArithmeticExpression struct {
	left  Expr
	right Expr
	op    ArithmeticType
}

func NewArithmeticExpression(left Expr, right Expr, op ArithmeticType) *ArithmeticExpression {
	if left.OutputType() == common.TimestampType {
		common.Assert(op == Add || op == Sub, "only + and - apply to timestamps")
		common.Assert(right.OutputType() == common.IntType, "a timestamp can only be shifted by an interval")
	}
	return &ArithmeticExpression{
		left:  left,
		right: right,
		op:    op,
	}
}

func (e *ArithmeticExpression) Eval(t storage.Tuple) common.Value {
	val1 := e.left.Eval(t)
	val2 := e.right.Eval(t)

	if val1.IsNull() || val2.IsNull() {
		return common.NewNullValue(e.OutputType())
	}

	if val1.Type() == common.TimestampType {
		shift := val2.IntValue()
		if e.op == Sub {
			shift = -shift
		}
		return common.NewTimestampValue(time.UnixMicro(val1.TimestampMicros() + shift))
	}

	v1 := val1.IntValue()
	v2 := val2.IntValue()
	var result int64

	switch e.op {
	case Add:
		result = v1 + v2
	case Sub:
		result = v1 - v2
	case Mult:
		result = v1 * v2
	case Div:
		if v2 == 0 {
			return common.NewNullInt()
		}
		result = v1 / v2
	case Mod:
		if v2 == 0 {
			return common.NewNullInt()
		}
		result = v1 % v2
	}
	return common.NewIntValue(result)
}

func (e *ArithmeticExpression) OutputType() common.Type {
	if e.left.OutputType() == common.TimestampType {
		return common.TimestampType
	}
	return common.IntType
}

func (e *ArithmeticExpression) String() string {
	return fmt.Sprintf("(%s %s %s)", e.left.String(), e.op.String(), e.right.String())
}
