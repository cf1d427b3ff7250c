package pipeline

import (
	"strings"
	"time"

	"mit.edu/dsg/topsales/common"
)

// Params are the run parameters of the computation.
type Params struct {
	// ReferenceTime is the end of the recency window. Orders created at or after ReferenceTime-Window count.
	ReferenceTime time.Time
	Window        time.Duration
	// TopN is the highest rank kept per city. Ties share a rank, so a city can have more than TopN rows.
	TopN int
}

// Validate rejects parameters no run can use.
func (p Params) Validate() error {
	if p.ReferenceTime.IsZero() {
		return common.NewError(common.ConfigurationError, "reference time is not set")
	}
	if p.Window <= 0 {
		return common.NewError(common.ConfigurationError, "window must be positive, got %s", p.Window)
	}
	if p.TopN <= 0 {
		return common.NewError(common.ConfigurationError, "top_n must be positive, got %d", p.TopN)
	}
	return nil
}

// LowerBound is the first instant inside the recency window.
func (p Params) LowerBound() time.Time {
	return p.ReferenceTime.Add(-p.Window).UTC()
}

// DataQualityPolicy decides what happens to rows with missing or impossible values.
type DataQualityPolicy string

const (
	// RejectInvalid fails the run on the first relation holding invalid rows.
	RejectInvalid DataQualityPolicy = "reject"
	// FilterInvalid drops invalid rows and reports how many were dropped.
	FilterInvalid DataQualityPolicy = "filter"
)

// ParseDataQualityPolicy accepts "reject" or "filter" in any case. The empty string means reject.
func ParseDataQualityPolicy(s string) (DataQualityPolicy, error) {
	switch DataQualityPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", RejectInvalid:
		return RejectInvalid, nil
	case FilterInvalid:
		return FilterInvalid, nil
	}
	return "", common.NewError(common.ConfigurationError, "unknown data quality policy '%s' (want reject or filter)", s)
}
