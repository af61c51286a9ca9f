package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sufragio-api/internal/models"
	appErrors "github.com/noah-isme/sufragio-api/pkg/errors"
	"github.com/noah-isme/sufragio-api/pkg/response"
)

type historyService interface {
	History(ctx context.Context, recordID string) ([]models.Revision, error)
	Verify(ctx context.Context, recordID string) (*models.HistoryVerification, error)
	Export(ctx context.Context, recordID, format string) (*models.HistoryExport, error)
}

type projectionReader interface {
	Get(ctx context.Context, recordID string) (*models.ProjectedRecord, error)
	Revisions(ctx context.Context, recordID string) ([]models.ProjectedRecord, error)
}

// HistoryHandler exposes revision history and the projected read model.
type HistoryHandler struct {
	history    historyService
	projection projectionReader
}

// NewHistoryHandler builds a new handler. projection may be nil when the projection is disabled.
func NewHistoryHandler(history historyService, projection projectionReader) *HistoryHandler {
	return &HistoryHandler{history: history, projection: projection}
}

// History godoc
// @Summary Revision history of a voting record
// @Tags History
// @Produce json
// @Param id path string true "Record ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /sufragios/{id}/history [get]
func (h *HistoryHandler) History(c *gin.Context) {
	revisions, err := h.history.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, revisions, map[string]interface{}{"revisions": len(revisions)})
}

// Verify godoc
// @Summary Verify the hash chain of a voting record history
// @Tags History
// @Produce json
// @Param id path string true "Record ID"
// @Success 200 {object} response.Envelope
// @Router /sufragios/{id}/history/verify [get]
func (h *HistoryHandler) Verify(c *gin.Context) {
	result, err := h.history.Verify(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// Export godoc
// @Summary Download a voting record history
// @Tags History
// @Produce text/csv,application/pdf
// @Param id path string true "Record ID"
// @Param format query string false "csv (default) or pdf"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sufragios/{id}/history/export [get]
func (h *HistoryHandler) Export(c *gin.Context) {
	out, err := h.history.Export(c.Request.Context(), c.Param("id"), c.DefaultQuery("format", "csv"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, out.Filename, out.ContentType, out.Body)
}

// Projection godoc
// @Summary Projected read model of a voting record
// @Tags History
// @Produce json
// @Param id path string true "Record ID"
// @Success 200 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /sufragios/{id}/projection [get]
func (h *HistoryHandler) Projection(c *gin.Context) {
	if h.projection == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrUnavailable, "projection is disabled"))
		return
	}
	view, err := h.projection.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view)
}

// ProjectionRevisions godoc
// @Summary Projected views a voting record went through
// @Tags History
// @Produce json
// @Param id path string true "Record ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /sufragios/{id}/projection/revisions [get]
func (h *HistoryHandler) ProjectionRevisions(c *gin.Context) {
	if h.projection == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrUnavailable, "projection is disabled"))
		return
	}
	views, err := h.projection.Revisions(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, views, map[string]interface{}{"revisions": len(views)})
}
