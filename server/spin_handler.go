package server

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vdjjd/faninteract/auth"
	"github.com/vdjjd/faninteract/errors"
	"github.com/vdjjd/faninteract/pkg/spin"
	"github.com/vdjjd/faninteract/wheel"
)

// SpinHandler exposes the operator spin controls over HTTP
type SpinHandler struct {
	app    *App
	logger zerolog.Logger
}

// NewSpinHandler creates a spin handler
func NewSpinHandler(app *App) *SpinHandler {
	return &SpinHandler{
		app:    app,
		logger: app.logger.With().Str("handler", "spin").Logger(),
	}
}

// GoResponse is the payload of a successful go call
// @Description New spin attempt token
type GoResponse struct {
	AttemptID string `json:"attempt_id"`
}

// StopRequest carries the attempt token a stop call resolves
// @Description Stop request body
type StopRequest struct {
	AttemptID string `json:"attempt_id" binding:"required"`
}

// Go opens a new spin attempt
// @Summary      Start a spin
// @Description  Allocates a fresh attempt token, invalidates any previous attempt, and announces spin.started to all observers. Never picks a winner.
// @Tags         spin
// @Accept       json
// @Produce      json
// @Param        wheel_id  path  string  true  "Wheel ID"
// @Success      200  {object}  SuccessResponse[GoResponse]
// @Failure      401  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Security     BearerAuth
// @Router       /api/wheels/{wheel_id}/spin/go [post]
func (h *SpinHandler) Go(c *gin.Context) {
	wheelID := c.Param("wheel_id")

	attemptID, err := h.app.coordinator.Open(c.Request.Context(), wheelID)
	if err != nil {
		h.handleSpinError(c, wheelID, err)
		return
	}

	operatorID, _ := auth.GetOperatorID(c)
	h.logger.Info().
		Str("wheel_id", wheelID).
		Str("attempt_id", attemptID).
		Str("operator_id", operatorID).
		Msg("Spin started by operator")

	OK(c, GoResponse{AttemptID: attemptID})
}

// Stop resolves the winner for an attempt
// @Summary      Stop a spin
// @Description  Resolves exactly one winner for the given attempt token. Safe to retry: repeated and concurrent calls with the same token return the identical winner and slot.
// @Tags         spin
// @Accept       json
// @Produce      json
// @Param        wheel_id  path  string       true  "Wheel ID"
// @Param        request   body  StopRequest  true  "Attempt token from go"
// @Success      200  {object}  SuccessResponse[wheel.Resolution]
// @Failure      400  {object}  ErrorResponse
// @Failure      401  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Failure      409  {object}  ErrorResponse
// @Security     BearerAuth
// @Router       /api/wheels/{wheel_id}/spin/stop [post]
func (h *SpinHandler) Stop(c *gin.Context) {
	wheelID := c.Param("wheel_id")

	var req StopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, errors.New(errors.ErrInvalidRequest, "attempt_id is required"))
		return
	}

	res, err := h.app.coordinator.Resolve(c.Request.Context(), wheelID, req.AttemptID)
	if err != nil {
		h.handleSpinError(c, wheelID, err)
		return
	}

	operatorID, _ := auth.GetOperatorID(c)
	h.logger.Info().
		Str("wheel_id", wheelID).
		Str("attempt_id", req.AttemptID).
		Str("winner_entry_id", res.WinnerInfo.EntryID).
		Bool("replayed", res.Replayed).
		Str("operator_id", operatorID).
		Msg("Spin stopped by operator")

	OK(c, res)
}

// Auto runs go and stop in one call
// @Summary      Auto spin
// @Description  Opens a fresh attempt and resolves it immediately, for wheels operated without a separate stop.
// @Tags         spin
// @Accept       json
// @Produce      json
// @Param        wheel_id  path  string  true  "Wheel ID"
// @Success      200  {object}  SuccessResponse[wheel.Resolution]
// @Failure      401  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Failure      409  {object}  ErrorResponse
// @Security     BearerAuth
// @Router       /api/wheels/{wheel_id}/spin/auto [post]
func (h *SpinHandler) Auto(c *gin.Context) {
	wheelID := c.Param("wheel_id")

	res, err := h.app.coordinator.Auto(c.Request.Context(), wheelID)
	if err != nil {
		h.handleSpinError(c, wheelID, err)
		return
	}

	operatorID, _ := auth.GetOperatorID(c)
	h.logger.Info().
		Str("wheel_id", wheelID).
		Str("attempt_id", res.AttemptID).
		Str("winner_entry_id", res.WinnerInfo.EntryID).
		Str("operator_id", operatorID).
		Msg("Auto spin completed")

	OK(c, res)
}

// State returns the wheel's current attempt snapshot
// @Summary      Spin state
// @Description  Polling fallback for observers without a live stream: the current attempt and, once resolved, its winner.
// @Tags         spin
// @Produce      json
// @Param        wheel_id  path  string  true  "Wheel ID"
// @Success      200  {object}  SuccessResponse[wheel.StateSnapshot]
// @Failure      404  {object}  ErrorResponse
// @Router       /api/wheels/{wheel_id}/spin/state [get]
func (h *SpinHandler) State(c *gin.Context) {
	wheelID := c.Param("wheel_id")

	snap, err := h.app.coordinator.State(c.Request.Context(), wheelID)
	if err != nil {
		h.handleSpinError(c, wheelID, err)
		return
	}

	OK(c, snap)
}

// handleSpinError maps coordinator errors to the API error taxonomy
func (h *SpinHandler) handleSpinError(c *gin.Context, wheelID string, err error) {
	var noEligible *wheel.NoEligibleEntriesError

	switch {
	case stderrors.Is(err, wheel.ErrWheelNotFound):
		NotFound(c, errors.New(errors.ErrWheelNotFound, "wheel not found"))

	case stderrors.As(err, &noEligible):
		code := errors.ErrNoEligibleEntries
		if noEligible.Pending > 0 {
			code = errors.ErrEntriesPending
		}
		Error(c, http.StatusConflict, errors.New(code, noEligible.Error()))

	case stderrors.Is(err, spin.ErrAttemptSuperseded):
		Error(c, http.StatusConflict, errors.New(errors.ErrAttemptMismatch, "attempt superseded by a newer spin"))

	default:
		h.logger.Error().Err(err).Str("wheel_id", wheelID).Msg("Spin operation failed")
		HandleAppError(c, errors.Wrap(err, errors.ErrStoreError, "spin operation failed"))
	}
}
