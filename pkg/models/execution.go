package models

import (
	"strings"
	"time"
)

// LogStatus is the status of one ExecutionLog row.
type LogStatus string

const (
	LogStatusStarted LogStatus = "started"
	LogStatusDone    LogStatus = "done"
	LogStatusFailed  LogStatus = "failed"
	LogStatusSkipped LogStatus = "skipped"
)

// ExecutionLog is one append-only step record of a workflow run.
type ExecutionLog struct {
	ID            string         `json:"id"`
	WorkflowRunID string         `json:"workflow_run_id"`
	NodeID        string         `json:"node_id"`
	StepNumber    int            `json:"step_number"`
	Kind          string         `json:"kind"`
	Status        LogStatus      `json:"status"`
	Input         map[string]any `json:"input,omitempty"`
	Output        map[string]any `json:"output,omitempty"`
	ErrorMessage  *string        `json:"error_message,omitempty"`
	DurationMs    int64          `json:"duration_ms"`
	Timestamp     time.Time      `json:"timestamp"`
}

// RunState is the lifecycle state of a WorkflowRun.
type RunState string

const (
	RunStatePending RunState = "pending"
	RunStateRunning RunState = "running"
	RunStateDone    RunState = "done"
	RunStateFailed  RunState = "failed"
	RunStatePaused  RunState = "paused"
)

const activationSubjectPrefix = "activation:"

// ActivationSubject returns the subject id used by the run of one activation.
func ActivationSubject(activationID string) string {
	return activationSubjectPrefix + activationID
}

// WorkflowRun is one end-to-end execution of a campaign graph for one subject.
type WorkflowRun struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"`
	CampaignID  string         `json:"campaign_id"`
	SubjectID   string         `json:"subject_id"`
	State       RunState       `json:"state"`
	CurrentStep string         `json:"current_step,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
	FinalResult map[string]any `json:"final_result,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// IsActivation reports whether the run records a campaign activation rather than a dispatch.
func (r *WorkflowRun) IsActivation() bool {
	return strings.HasPrefix(r.SubjectID, activationSubjectPrefix)
}
