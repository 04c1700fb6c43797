package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-triage/internal/api/dto"
	"github.com/spec-kit/ticket-triage/internal/service"
	"github.com/spec-kit/ticket-triage/internal/workflow"
	apperrors "github.com/spec-kit/ticket-triage/pkg/util"
)

// TriageHandler exposes the event intake and run inspection endpoints.
type TriageHandler struct {
	triage service.TriageSubmitter
	runs   workflow.RunStore
}

// NewTriageHandler constructs handler.
func NewTriageHandler(triage service.TriageSubmitter, runs workflow.RunStore) *TriageHandler {
	return &TriageHandler{triage: triage, runs: runs}
}

// PostEvent POST /triage/events accepts (or re-delivers) a
// ticket-created event. Duplicate deliveries are safe: the run's step
// records make replays idempotent.
func (h *TriageHandler) PostEvent(c *fiber.Ctx) error {
	var req dto.TriageEventRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.TicketID == "" {
		return apperrors.NewValidationError("ticket_id required", nil)
	}

	runID, err := h.triage.Submit(c.Context(), req.TicketID)
	if err != nil {
		return err
	}
	if runID == "" {
		return c.Status(http.StatusAccepted).JSON(fiber.Map{"message": "duplicate event ignored"})
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{"data": fiber.Map{"run_id": runID}})
}

// GetRun GET /triage/runs/:id reports run progress and step records.
func (h *TriageHandler) GetRun(c *fiber.Ctx) error {
	runID := c.Params("id")
	run, err := h.runs.GetRun(c.Context(), runID)
	if err != nil {
		return apperrors.MapError(err)
	}
	if run == nil {
		return apperrors.NewNotFound("run", map[string]any{"run_id": runID})
	}
	steps, err := h.runs.ListSteps(c.Context(), runID)
	if err != nil {
		return apperrors.MapError(err)
	}

	resp := dto.RunResponse{
		ID:        run.ID,
		TicketID:  run.TicketID,
		Status:    run.Status,
		Attempts:  run.Attempts,
		CreatedAt: run.CreatedAt,
		UpdatedAt: run.UpdatedAt,
		Steps:     make([]dto.StepResponse, 0, len(steps)),
	}
	for _, step := range steps {
		resp.Steps = append(resp.Steps, dto.StepResponse{
			Name:      step.Name,
			Status:    step.Status,
			Attempts:  step.Attempts,
			Value:     step.Value,
			LastError: step.LastError,
			UpdatedAt: step.UpdatedAt,
		})
	}
	return c.JSON(fiber.Map{"data": resp})
}
