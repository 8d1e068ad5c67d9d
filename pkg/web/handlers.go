// Package web provides the HTTP endpoints that trigger campaign activations and dispatch
// passes, cancel actions, and expose run logs.
package web

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/dukex/dunning/pkg/executionlog"
	"github.com/dukex/dunning/pkg/models"
	"github.com/dukex/dunning/pkg/persistence"
	"github.com/dukex/dunning/pkg/workflow"
)

// Dispatcher runs one dispatch pass.
type Dispatcher interface {
	RunOnce(ctx context.Context) (int, error)
}

// HealthChecker reports whether the backing store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type APIHandlers struct {
	interpreter *workflow.Interpreter
	dispatcher  Dispatcher
	actions     persistence.ActionRepository
	runs        *executionlog.Logger
	health      HealthChecker
	validator   *validator.Validate
	logger      *slog.Logger
}

func NewAPIHandlers(
	interpreter *workflow.Interpreter,
	dispatcher Dispatcher,
	actions persistence.ActionRepository,
	runs *executionlog.Logger,
	health HealthChecker,
	validator *validator.Validate,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		interpreter: interpreter,
		dispatcher:  dispatcher,
		actions:     actions,
		runs:        runs,
		health:      health,
		validator:   validator,
		logger:      logger.With("module", "web"),
	}
}

func (h *APIHandlers) ActivateCampaign(c fiber.Ctx) error {
	campaignID := c.Params("campaignId")
	if campaignID == "" {
		return badRequest(c, "Campaign ID is required")
	}

	var req ActivationRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	graph, err := h.interpreter.Load(req.Nodes, req.Edges)
	if err != nil {
		return unprocessable(c, err.Error())
	}

	act := workflow.Activation{
		TenantID:   req.TenantID,
		CampaignID: campaignID,
		Graph:      graph,
		Population: req.InitialPopulation,
	}

	if req.BaseTime != nil {
		act.BaseTime = *req.BaseTime
	}

	result, err := h.interpreter.Run(c.Context(), act)
	if err != nil {
		if workflow.IsStructural(err) {
			return unprocessable(c, err.Error())
		}

		h.logger.ErrorContext(c.Context(), "Activation failed", "campaign_id", campaignID, "error", err)

		return internalError(c, "campaign activation failed")
	}

	return c.JSON(result)
}

func (h *APIHandlers) Dispatch(c fiber.Ctx) error {
	processed, err := h.dispatcher.RunOnce(c.Context())
	if err != nil {
		h.logger.ErrorContext(c.Context(), "Dispatch pass failed", "error", err)

		return internalError(c, "dispatch failed")
	}

	return c.JSON(DispatchResponse{Processed: processed})
}

func (h *APIHandlers) CancelAction(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Action ID is required")
	}

	err := h.actions.Transition(c.Context(), id, models.ActionStatePending, models.ActionStateCancelled)

	switch {
	case persistence.IsNotFound(err):
		return notFound(c, "Action not found")
	case persistence.IsStateConflict(err):
		return conflict(c, "Action is no longer pending")
	case err != nil:
		h.logger.ErrorContext(c.Context(), "Failed to cancel action", "action_id", id, "error", err)

		return internalError(c, "failed to cancel action")
	}

	action, err := h.actions.Action(c.Context(), id)
	if err != nil {
		return internalError(c, "failed to load action")
	}

	return c.JSON(action)
}

func (h *APIHandlers) GetRunLogs(c fiber.Ctx) error {
	id := c.Params("id")

	logs, err := h.runs.Logs(c.Context(), id)
	if err != nil {
		if persistence.IsNotFound(err) {
			return notFound(c, "Run not found")
		}

		h.logger.ErrorContext(c.Context(), "Failed to read run logs", "run_id", id, "error", err)

		return internalError(c, "failed to read run logs")
	}

	if logs == nil {
		logs = []models.ExecutionLog{}
	}

	return c.JSON(RunLogsResponse{RunID: id, Logs: logs})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	message := "Dunning API is healthy"
	httpStatus := http.StatusOK
	store := "ok"

	if err := h.health.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		message = "Dunning API is unhealthy"
		httpStatus = http.StatusServiceUnavailable
		store = err.Error()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"persistence": store,
		},
		"timestamp": time.Now().UTC(),
	})
}

// Ready answers readiness probes from the store health.
func (h *APIHandlers) Ready(c fiber.Ctx) error {
	if err := h.health.HealthCheck(c.Context()); err != nil {
		return c.SendStatus(fiber.StatusServiceUnavailable)
	}

	return c.SendString("OK")
}

// RequireBearer rejects requests whose Authorization header is not "Bearer <secret>".
// An empty secret rejects every request.
func RequireBearer(secret string) fiber.Handler {
	return func(c fiber.Ctx) error {
		token, ok := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
		if !ok || secret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			return unauthorized(c)
		}

		return c.Next()
	}
}

// Register mounts every endpoint on router.
func (h *APIHandlers) Register(router fiber.Router, dispatchSecret string) {
	router.Get("/health", h.HealthCheck)
	router.Get("/readyz", h.Ready)

	router.Post("/campaigns/:campaignId/activations", h.ActivateCampaign)
	router.Post("/dispatch", RequireBearer(dispatchSecret), h.Dispatch)
	router.Post("/actions/:id/cancel", h.CancelAction)
	router.Get("/runs/:id/logs", h.GetRunLogs)
}
