package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facegroups/internal/clustering"
	"github.com/your-org/facegroups/internal/runlock"
	"github.com/your-org/facegroups/pkg/dto"
)

type BatchRunner interface {
	RunBatch(ctx context.Context) (*clustering.BatchReport, error)
}

type AdminHandler struct {
	engine BatchRunner
	locker runlock.Locker
}

func NewAdminHandler(engine BatchRunner, locker runlock.Locker) *AdminHandler {
	return &AdminHandler{engine: engine, locker: locker}
}

// Rebuild wipes every cluster and regroups all active images. It runs in
// the request; large libraries should use facectl rebuild instead.
func (h *AdminHandler) Rebuild(c *gin.Context) {
	var report *clustering.BatchReport
	err := runlock.DoBatch(c.Request.Context(), h.locker, func(ctx context.Context) error {
		var err error
		report, err = h.engine.RunBatch(ctx)
		return err
	})
	if errors.Is(err, runlock.ErrBusy) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.RebuildResponse{
		Message:  "face clusters rebuilt",
		Clusters: report.Clusters,
		Images:   report.Images,
		Faces:    report.Faces,
	})
}
