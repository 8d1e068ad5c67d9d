package web

import (
	"time"

	"github.com/dukex/dunning/pkg/models"
)

// ActivationRequest is the body of POST /campaigns/:campaignId/activations.
type ActivationRequest struct {
	TenantID          string                `json:"tenant_id"                    validate:"required"`
	Nodes             []models.WorkflowNode `json:"nodes"                        validate:"required,min=1,dive"`
	Edges             []models.WorkflowEdge `json:"edges"                        validate:"dive"`
	InitialPopulation []models.WorkItem     `json:"initial_population,omitempty" validate:"omitempty,dive"`
	BaseTime          *time.Time            `json:"base_time,omitempty"`
}

// DispatchResponse is the body returned by POST /dispatch.
type DispatchResponse struct {
	Processed int `json:"processed"`
}

// RunLogsResponse is the body returned by GET /runs/:id/logs.
type RunLogsResponse struct {
	RunID string                `json:"run_id"`
	Logs  []models.ExecutionLog `json:"logs"`
}
