package main

import (
	"fmt"
	"io"

	"github.com/poiesic/finpipe/core"
	"github.com/poiesic/finpipe/pipeline"
)

// stderrMonitor prints run progress as stages start and finish.
type stderrMonitor struct {
	w io.Writer
}

var _ pipeline.RunMonitor = (*stderrMonitor)(nil)

func newStderrMonitor(w io.Writer) *stderrMonitor {
	return &stderrMonitor{w: w}
}

func (m *stderrMonitor) Start(runID string, sources int) {
	fmt.Fprintf(m.w, "Run %s: %d sources\n", runID, sources)
}

func (m *stderrMonitor) StageStart(stage core.Stage, pending int) {
	fmt.Fprintf(m.w, "  %s: %d pending\n", stage, pending)
}

func (m *stderrMonitor) ItemFailed(stage core.Stage, failure core.ItemFailure) {
	source := failure.SourceID
	if source == "" {
		source = string(failure.Fingerprint)
	}
	fmt.Fprintf(m.w, "  %s: %s failed: %s\n", stage, source, failure.Reason())
}

func (m *stderrMonitor) StageFinish(stage core.Stage, report *core.StageReport) {
	fmt.Fprintf(m.w, "  %s: succeeded=%d failed=%d skipped=%d\n",
		stage, len(report.Succeeded), len(report.Failed), len(report.Skipped))
}

func (m *stderrMonitor) Paused(stage core.Stage, failureRate float64) {
	fmt.Fprintf(m.w, "  %s: failure rate %.2f over threshold, pausing\n", stage, failureRate)
}

func (m *stderrMonitor) Finish(runID string, state core.RunState) {
	fmt.Fprintf(m.w, "Run %s: %s\n", runID, state)
}
