package job

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Server exposes the caller-facing job surface over HTTP.
type Server struct {
	log  *zap.Logger
	orch *Orchestrator
}

func NewServer(log *zap.Logger, orch *Orchestrator) *Server {
	return &Server{
		log:  log,
		orch: orch,
	}
}

func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/moderation/jobs", s.handleSubmit)
	e.GET("/v1/moderation/jobs/:id/status", s.handleStatus)
}

type submitRequest struct {
	OwnerID       string   `json:"ownerId"`
	Bucket        string   `json:"bucket"`
	ImageKeys     []string `json:"imageKeys"`
	MinConfidence float64  `json:"minConfidence"`
}

type submitResponse struct {
	JobID       string `json:"jobId"`
	Status      Status `json:"status"`
	TotalImages int    `json:"totalImages"`
}

func (s *Server) handleSubmit(c echo.Context) error {
	var req submitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	j, err := s.orch.Submit(c.Request().Context(), SubmitParams{
		OwnerID:       req.OwnerID,
		Bucket:        req.Bucket,
		ImageKeys:     req.ImageKeys,
		MinConfidence: req.MinConfidence,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		s.log.Error("Failed to submit moderation job", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to submit job")
	}

	return c.JSON(http.StatusOK, submitResponse{
		JobID:       j.ID,
		Status:      j.Status,
		TotalImages: j.TotalImages,
	})
}

func (s *Server) handleStatus(c echo.Context) error {
	jobID := c.Param("id")
	if jobID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "job id is required")
	}

	resp, err := s.orch.Status(c.Request().Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidRequest):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "job not found")
		default:
			s.log.Error("Failed to query job status",
				zap.String("job_id", jobID), zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to query job status")
		}
	}

	return c.JSON(http.StatusOK, resp)
}
