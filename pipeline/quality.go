package pipeline

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"

	"mit.edu/dsg/topsales/common"
	"mit.edu/dsg/topsales/planner"
	"mit.edu/dsg/topsales/storage"
)

// maxReportedViolations caps how many offending rows a rejected run lists.
const maxReportedViolations = 10

// NonNegativeColumns are the canonical columns that must not hold negative values.
var NonNegativeColumns = []string{ColQuantity}

// Violation describes why a row fails the data-quality rules. Row numbers start at 1, in input order.
type Violation struct {
	Table   string
	Row     int
	Column  string
	Problem string
}

func (v Violation) String() string {
	return fmt.Sprintf("table '%s' row %d column '%s' %s", v.Table, v.Row, v.Column, v.Problem)
}

// qualityRule flags rows whose column has a problem.
type qualityRule struct {
	column  int
	problem string
	broken  planner.Expr
}

// qualityRules returns the rules for a relation in canonical shape, ordered by column, together with the
// predicate accepted rows satisfy. Every column is required, and the columns in NonNegativeColumns must be >= 0.
func qualityRules(heap *storage.TableHeap) ([]qualityRule, planner.Expr) {
	types := heap.StorageSchema()
	var rules []qualityRule
	var valid planner.Expr
	and := func(e planner.Expr) {
		if valid == nil {
			valid = e
			return
		}
		valid = planner.NewBinaryLogicExpression(valid, e, planner.And)
	}
	for i, col := range heap.Columns() {
		value := planner.NewColumnValueExpression(i, types, col.Name)
		rules = append(rules, qualityRule{column: i, problem: "is NULL", broken: planner.NewNullCheckExpression(value, planner.IsNull)})
		and(planner.NewNullCheckExpression(value, planner.IsNotNull))
		if col.Type == common.IntType && isNonNegative(col.Name) {
			negative := planner.NewComparisonExpression(value, planner.NewConstantValueExpression(common.NewIntValue(0)), planner.LessThan)
			rules = append(rules, qualityRule{column: i, problem: "is negative", broken: negative})
			and(planner.NewNegationExpression(negative))
		}
	}
	return rules, valid
}

// firstViolation names the first broken rule of an invalid row.
func firstViolation(rules []qualityRule, row storage.Tuple) qualityRule {
	for _, r := range rules {
		if planner.ExprIsTrue(r.broken.Eval(row)) {
			return r
		}
	}
	return qualityRule{column: -1, problem: "is invalid"}
}

func isNonNegative(column string) bool {
	for _, c := range NonNegativeColumns {
		if strings.EqualFold(c, column) {
			return true
		}
	}
	return false
}

// ApplyDataQuality checks every row of a canonical relation. Under RejectInvalid any violation fails with a
// ValidationError listing the first offending rows. Under FilterInvalid the offending rows are dropped; the
// returned count says how many. A relation without violations is returned unchanged.
func ApplyDataQuality(heap *storage.TableHeap, policy DataQualityPolicy) (*storage.TableHeap, int, error) {
	rules, valid := qualityRules(heap)
	if valid == nil {
		return heap, 0, nil
	}
	var violations []Violation
	invalid := 0
	keep := make([]bool, heap.NumRows())
	for i := 0; i < heap.NumRows(); i++ {
		row := heap.Row(i)
		if keep[i] = planner.ExprIsTrue(valid.Eval(row)); keep[i] {
			continue
		}
		invalid++
		if len(violations) < maxReportedViolations {
			violations = append(violations, violation(heap, rules, row, i))
		}
	}
	if invalid == 0 {
		return heap, 0, nil
	}

	if policy != FilterInvalid {
		return nil, invalid, rejection(heap.Name(), invalid, violations)
	}
	filtered := storage.NewTableHeap(tableOf(heap))
	for i := 0; i < heap.NumRows(); i++ {
		if keep[i] {
			if err := filtered.InsertTuple(heap.Row(i)); err != nil {
				return nil, 0, err
			}
		}
	}
	return filtered, invalid, nil
}

func violation(heap *storage.TableHeap, rules []qualityRule, row storage.Tuple, i int) Violation {
	r := firstViolation(rules, row)
	v := Violation{Table: heap.Name(), Row: i + 1, Problem: r.problem}
	if r.column >= 0 {
		v.Column = heap.Columns()[r.column].Name
		if val := row.GetValue(r.column); !val.IsNull() && val.Type() == common.IntType {
			v.Problem = fmt.Sprintf("%s (%d)", r.problem, val.IntValue())
		}
	}
	return v
}

// rejection builds the error of a rejected run. The first error carries the summary and the ValidationError
// code; the others name individual rows.
func rejection(table string, invalid int, violations []Violation) error {
	var result *multierror.Error
	result = multierror.Append(result, common.NewError(common.ValidationError,
		"%d rows of '%s' violate data quality rules", invalid, table))
	for _, v := range violations {
		result = multierror.Append(result, common.NewError(common.ValidationError, "%s", v))
	}
	return result.ErrorOrNil()
}
