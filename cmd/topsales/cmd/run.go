package cmd

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"mit.edu/dsg/topsales/metrics"
	"mit.edu/dsg/topsales/pipeline"
)

func runCmd(a *app) *cobra.Command {
	var explain bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Replace the top-N table from the current orders",
		Long: `Computes, for every delivery city, the items with the highest quantity sold among orders created
within the window before the reference time, and replaces the output table with them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load()
			if err != nil {
				return err
			}
			job, err := cfg.Job()
			if err != nil {
				return err
			}
			runner := pipeline.NewRunner(cfg.Engine, opener(cfg), log.StandardLogger())
			if explain {
				plan, err := runner.Explain(cmd.Context(), job)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), plan)
				return nil
			}

			m := metrics.New()
			start := time.Now()
			result, runErr := runner.Run(cmd.Context(), job)
			m.ObserveRun(cfg.Engine, job, result, time.Since(start), a.now())
			if cfg.MetricsFile != "" {
				if err := m.WriteToTextfile(cfg.MetricsFile); err != nil {
					runErr = multierror.Append(runErr, errors.Wrap(err, "writing metrics")).ErrorOrNil()
				}
			}
			if runErr != nil {
				return runErr
			}
			fmt.Fprintf(cmd.OutOrStdout(), "replaced %s with %d rows in %s\n", result.Output, result.RowsWritten,
				result.Duration.Round(time.Millisecond))
			return nil
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&explain, "explain", false, "print how the run would execute without running it")
	flags.String("reference-time", "", "end of the recency window, any common timestamp layout or 'now'")
	flags.Duration("window", 0, "length of the recency window")
	flags.Int("top-n", 0, "highest rank kept per city")
	flags.String("data-quality", "", "what to do with invalid source rows: reject or filter")
	flags.String("metrics-file", "", "write Prometheus metrics to this file after the run")
	a.bind(flags, map[string]string{
		"reference_time": "reference-time",
		"window":         "window",
		"top_n":          "top-n",
		"data_quality":   "data-quality",
		"metrics_file":   "metrics-file",
	})
	return cmd
}
