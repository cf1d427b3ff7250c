package sqlengine

import (
	"context"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"mit.edu/dsg/topsales/catalog"
	"mit.edu/dsg/topsales/common"
	"mit.edu/dsg/topsales/pipeline"
)

// qualityCheck is one counted condition of the data-quality query.
type qualityCheck struct {
	column  string
	problem string
	cond    goqu.Expression
}

// qualityChecks lists the data-quality rules of a source, written against canonical column names. Every column
// is required, values must fit the column type, and the columns in pipeline.NonNegativeColumns must be >= 0.
func (s *Session) qualityChecks(columns []catalog.Column) []qualityCheck {
	var checks []qualityCheck
	for _, c := range columns {
		checks = append(checks, qualityCheck{column: c.Name, problem: "is NULL", cond: goqu.C(c.Name).IsNull()})
	}
	for _, c := range columns {
		checks = append(checks, s.dialect.valueChecks(c)...)
	}
	for _, c := range columns {
		for _, nn := range pipeline.NonNegativeColumns {
			if strings.EqualFold(c.Name, nn) {
				checks = append(checks, qualityCheck{column: c.Name, problem: "is negative", cond: goqu.C(c.Name).Lt(0)})
			}
		}
	}
	return checks
}

// invalidRow holds for rows that break at least one check. It is never NULL, since a NULL column satisfies its
// IS NULL check.
func invalidRow(checks []qualityCheck) exp.Expression {
	conds := make([]exp.Expression, len(checks))
	for i, c := range checks {
		conds[i] = c.cond
	}
	return goqu.Or(conds...)
}

func countWhen(cond goqu.Expression) interface{} {
	return goqu.COALESCE(goqu.SUM(goqu.Case().When(cond, 1).Else(0)), 0)
}

// checkQuality counts the rows of a source and those breaking the data-quality rules, in one scan. Under
// RejectInvalid any invalid row fails the run with a ValidationError giving per-column counts.
func (s *Session) checkQuality(ctx context.Context, src resolvedSource, policy pipeline.DataQualityPolicy) (pipeline.SourceStats, error) {
	var stats pipeline.SourceStats
	checks := s.qualityChecks(src.columns)
	selects := []interface{}{goqu.COUNT("*"), countWhen(invalidRow(checks))}
	for _, c := range checks {
		selects = append(selects, countWhen(c.cond))
	}
	query, _, err := s.dialect.goqu.
		From(s.dialect.goqu.From(src.table).Select(src.selectCanonical()...).As("src")).
		Select(selects...).
		ToSQL()
	if err != nil {
		return stats, err
	}

	counts := make([]int64, len(selects))
	dest := make([]interface{}, len(counts))
	for i := range counts {
		dest[i] = &counts[i]
	}
	if err := s.conn.QueryRowContext(ctx, query).Scan(dest...); err != nil {
		return stats, wrapQueryError(err, "checking data quality of %s", src.id)
	}
	stats.RowsRead = int(counts[0])
	invalid := int(counts[1])
	if invalid == 0 {
		return stats, nil
	}
	if policy == pipeline.FilterInvalid {
		stats.RowsFiltered = invalid
		s.log.WithFields(log.Fields{"table": src.id.String(), "rows_filtered": invalid}).
			Warn("Dropped rows that violate data quality rules")
		return stats, nil
	}

	var result *multierror.Error
	result = multierror.Append(result, common.NewError(common.ValidationError,
		"%d rows of '%s' violate data quality rules", invalid, src.id.Table))
	for i, c := range checks {
		if n := counts[i+2]; n > 0 {
			result = multierror.Append(result, common.NewError(common.ValidationError,
				"table '%s' column '%s' %s in %d rows", src.id.Table, c.column, c.problem, n))
		}
	}
	return stats, result.ErrorOrNil()
}
