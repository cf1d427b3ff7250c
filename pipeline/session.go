package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"mit.edu/dsg/topsales/catalog"
	"mit.edu/dsg/topsales/common"
)

// Job is one run of the pipeline: which tables to read and replace, and how.
type Job struct {
	// RunID identifies the run in logs and metrics. The Runner assigns one when it is empty.
	RunID      string
	Orders     catalog.Identifier
	OrderItems catalog.Identifier
	Output     catalog.Identifier
	// OrdersColumns and OrderItemsColumns map canonical column names to the source columns holding them.
	OrdersColumns     ColumnMapping
	OrderItemsColumns ColumnMapping
	DataQuality       DataQualityPolicy
	Params            Params
}

// Validate checks the job before any engine work starts.
func (j Job) Validate() error {
	for _, id := range []catalog.Identifier{j.Orders, j.OrderItems, j.Output} {
		if id.Catalog == "" || id.Namespace == "" || id.Table == "" {
			return common.NewError(common.ConfigurationError, "incomplete table identifier '%s'", id)
		}
	}
	if _, err := ParseDataQualityPolicy(string(j.DataQuality)); err != nil {
		return err
	}
	return j.Params.Validate()
}

// SourceStats counts what a run did with one input relation.
type SourceStats struct {
	RowsRead     int
	RowsFiltered int
}

// Result reports a successful run.
type Result struct {
	RunID       string
	Output      catalog.Identifier
	Orders      SourceStats
	OrderItems  SourceStats
	RowsWritten int
	// Version is the output table version the run committed, for engines that version tables.
	Version  int64
	Duration time.Duration
}

// Session is an engine connection scoped to one run. Execute computes the output table from the sources and
// replaces it; a failed Execute leaves the output untouched. Close releases everything the session holds and
// must be called exactly once.
type Session interface {
	Execute(ctx context.Context, job Job) (*Result, error)
	// Explain describes how the session would execute job, without reading or writing any table data.
	Explain(job Job) (string, error)
	Close() error
}

// Opener starts a Session.
type Opener func(ctx context.Context) (Session, error)

// Runner executes jobs, each in a fresh session that is closed when the run ends, whatever the outcome.
type Runner struct {
	engine string
	open   Opener
	log    log.FieldLogger
}

func NewRunner(engine string, open Opener, logger log.FieldLogger) *Runner {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Runner{engine: engine, open: open, log: logger}
}

// Run validates job, opens a session, executes the job and closes the session. A close failure is reported
// together with any execution error.
func (r *Runner) Run(ctx context.Context, job Job) (result *Result, err error) {
	if job.RunID == "" {
		job.RunID = uuid.New().String()
	}
	logger := r.log.WithFields(log.Fields{"run_id": job.RunID, "engine": r.engine, "output": job.Output.String()})
	if err := job.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	session, err := r.withSession(ctx, logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			err = multierror.Append(err, errors.Wrap(closeErr, "closing session")).ErrorOrNil()
			result = nil
		}
		if err != nil {
			logger.WithError(err).Error("Run failed; output left unchanged")
		}
	}()

	logger.WithFields(log.Fields{
		"reference_time": job.Params.ReferenceTime.UTC().Format(time.RFC3339),
		"window":         job.Params.Window.String(),
		"top_n":          job.Params.TopN,
		"data_quality":   string(job.DataQuality),
	}).Info("Starting run")
	result, err = session.Execute(ctx, job)
	if err != nil {
		return nil, err
	}
	result.RunID = job.RunID
	result.Duration = time.Since(start)
	logger.WithFields(log.Fields{
		"orders_read":       result.Orders.RowsRead,
		"order_items_read":  result.OrderItems.RowsRead,
		"rows_filtered":     result.Orders.RowsFiltered + result.OrderItems.RowsFiltered,
		"rows_written":      result.RowsWritten,
		"duration_ms":       result.Duration.Milliseconds(),
		"committed_version": result.Version,
	}).Info("Run succeeded")
	return result, nil
}

// Explain opens a session only to describe how job would run.
func (r *Runner) Explain(ctx context.Context, job Job) (plan string, err error) {
	if err := job.Validate(); err != nil {
		return "", err
	}
	session, err := r.withSession(ctx, r.log.WithField("engine", r.engine))
	if err != nil {
		return "", err
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			err = multierror.Append(err, errors.Wrap(closeErr, "closing session")).ErrorOrNil()
		}
	}()
	return session.Explain(job)
}

func (r *Runner) withSession(ctx context.Context, logger log.FieldLogger) (Session, error) {
	session, err := r.open(ctx)
	if err != nil {
		logger.WithError(err).Error("Could not open session")
		return nil, errors.WithMessagef(err, "opening %s session", r.engine)
	}
	return session, nil
}
