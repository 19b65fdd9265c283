package pipeline

import "github.com/poiesic/finpipe/core"

// RunMonitor provides hooks to observe a pipeline run.
// Implement this interface to track stage progress and per-item failures.
type RunMonitor interface {
	Start(runID string, sources int)
	StageStart(stage core.Stage, pending int)
	ItemFailed(stage core.Stage, failure core.ItemFailure)
	StageFinish(stage core.Stage, report *core.StageReport)
	Paused(stage core.Stage, failureRate float64)
	Finish(runID string, state core.RunState)
}

// noopMonitor is a no-op implementation of RunMonitor
type noopMonitor struct{}

var _ RunMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ string, _ int)                        {}
func (n *noopMonitor) StageStart(_ core.Stage, _ int)               {}
func (n *noopMonitor) ItemFailed(_ core.Stage, _ core.ItemFailure)  {}
func (n *noopMonitor) StageFinish(_ core.Stage, _ *core.StageReport) {}
func (n *noopMonitor) Paused(_ core.Stage, _ float64)               {}
func (n *noopMonitor) Finish(_ string, _ core.RunState)             {}
