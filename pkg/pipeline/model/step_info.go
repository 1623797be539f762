package model

import "time"

type StepKind string

const (
	OperationKind StepKind = "operation"
	TransformKind StepKind = "transform"
	BranchKind    StepKind = "branch"
	CaseKind      StepKind = "case"
	ParallelKind  StepKind = "parallel"
)

// StepInfo describes a step to observers.
type StepInfo struct {
	Pipeline    string
	ExecutionID string
	Kind        StepKind
	Name        string
	// Parent is the name of the composite operation owning the step, empty for top level steps.
	Parent   string
	Index    int
	Required bool
}

// Status is the final state of a step or of a run.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
	StatusCancelled Status = "cancelled"
	StatusPaused    Status = "paused"
)

type StepResult struct {
	Status   Status
	Duration time.Duration
	Err      error
}

// RunInfo describes one execution of a pipeline.
type RunInfo struct {
	Pipeline    string
	ExecutionID string
	// StartIndex is the first step index executed by the run, greater than zero when resuming.
	StartIndex int
	Resumed    bool
}

// Node is the static layout of a step. Composite steps carry their children.
type Node struct {
	Info     StepInfo
	Children []Node
}

// Describer is implemented by composite operations exposing their layout.
type Describer interface {
	Describe() Node
}
