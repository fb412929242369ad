package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
)

// result is one line of the report
type result struct {
	Name     string
	Passed   bool
	Skipped  bool
	Duration time.Duration
	Err      error
}

type step struct {
	name string
	// a failed required step skips everything after it
	required bool
	run      func(ctx context.Context) error
}

type runner struct {
	timeout time.Duration
	logger  *logrus.Logger
	results []result
}

func (r *runner) run(ctx context.Context, steps []step) {
	abort := ""
	for _, s := range steps {
		if abort != "" || ctx.Err() != nil {
			r.results = append(r.results, result{Name: s.name, Skipped: true})
			continue
		}

		sctx, cancel := context.WithTimeout(ctx, r.timeout)
		start := time.Now()
		err := s.run(sctx)
		cancel()

		res := result{Name: s.name, Passed: err == nil, Duration: time.Since(start), Err: err}
		r.results = append(r.results, res)

		log := r.logger.WithFields(logrus.Fields{"test": s.name, "duration": res.Duration.Round(time.Millisecond)})
		if err != nil {
			log.WithError(err).Error("FAIL")
			if s.required {
				abort = s.name
			}
			continue
		}
		log.Info("PASS")
	}
}

func (r *runner) failed() int {
	n := 0
	for _, res := range r.results {
		if !res.Passed && !res.Skipped {
			n++
		}
	}
	return n
}

func (r *runner) report(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TEST\tRESULT\tDURATION\tERROR")
	passed := 0
	for _, res := range r.results {
		status := "FAIL"
		switch {
		case res.Skipped:
			status = "SKIP"
		case res.Passed:
			status = "PASS"
			passed++
		}
		msg := ""
		if res.Err != nil {
			msg = res.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", res.Name, status, res.Duration.Round(time.Millisecond), msg)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "\n%d passed, %d failed, %d total\n", passed, r.failed(), len(r.results))
}
