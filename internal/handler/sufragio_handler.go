package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sufragio-api/internal/dto"
	"github.com/noah-isme/sufragio-api/internal/models"
	appErrors "github.com/noah-isme/sufragio-api/pkg/errors"
	"github.com/noah-isme/sufragio-api/pkg/response"
)

type sufragioService interface {
	Create(ctx context.Context, req dto.CreateSufragioRequest, creatorID string) (*models.VotingRecord, error)
	Get(ctx context.Context, recordID string) (*models.VotingRecord, error)
	CheckIn(ctx context.Context, recordID string) (*models.Transition, error)
	CastBallot(ctx context.Context, recordID, ballotID string) (*models.Transition, error)
}

// SufragioHandler exposes the voting record lifecycle.
type SufragioHandler struct {
	service sufragioService
}

// NewSufragioHandler builds a new handler.
func NewSufragioHandler(service sufragioService) *SufragioHandler {
	return &SufragioHandler{service: service}
}

// Create godoc
// @Summary Register a voter at a voting center
// @Tags Sufragios
// @Accept json
// @Produce json
// @Param X-Operator-ID header string false "Operator registering the voter"
// @Param payload body dto.CreateSufragioRequest true "Voter payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /sufragios [post]
func (h *SufragioHandler) Create(c *gin.Context) {
	var req dto.CreateSufragioRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
		return
	}
	record, err := h.service.Create(c.Request.Context(), req, operatorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, record)
}

// Get godoc
// @Summary Current state of a voting record
// @Tags Sufragios
// @Produce json
// @Param id path string true "Record ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /sufragios/{id} [get]
func (h *SufragioHandler) Get(c *gin.Context) {
	record, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record)
}

// CheckIn godoc
// @Summary Verify a voter at the receiving table
// @Tags Sufragios
// @Accept json
// @Produce json
// @Param payload body dto.CheckInRequest true "Record to verify"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sufragios/verify [post]
func (h *SufragioHandler) CheckIn(c *gin.Context) {
	var req dto.CheckInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
		return
	}
	transition, err := h.service.CheckIn(c.Request.Context(), req.RecordID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, transition)
}

// CastBallot godoc
// @Summary Record the ballot cast at the booth
// @Tags Sufragios
// @Accept json
// @Produce json
// @Param payload body dto.CastBallotRequest true "Record and ballot"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sufragios/cast [post]
func (h *SufragioHandler) CastBallot(c *gin.Context) {
	var req dto.CastBallotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
		return
	}
	transition, err := h.service.CastBallot(c.Request.Context(), req.RecordID, req.BallotID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, transition)
}
