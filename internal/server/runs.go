package server

import (
	"errors"
	"log"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/deepresearch/internal/artifact"
	"github.com/mohammad-safakhou/deepresearch/internal/guardrail"
	"github.com/mohammad-safakhou/deepresearch/internal/orchestrator"
)

// RunsHandler exposes run execution and artifact retrieval.
type RunsHandler struct {
	Orch   *orchestrator.Orchestrator
	Store  *artifact.Store
	Logger *log.Logger
}

// Register mounts the handler on a route group.
func (h *RunsHandler) Register(g *echo.Group) {
	g.POST("", h.createRun)
	g.GET("/:thread_id/artifacts", h.listArtifacts)
	g.GET("/:thread_id/artifacts/*", h.getArtifact)
}

// runRequestPayload is the wire form of a run request. Pointer fields
// distinguish "absent" from an explicit zero so guardrail defaults apply
// only to unset values.
type runRequestPayload struct {
	Question          string   `json:"question"`
	URLs              []string `json:"urls"`
	MaxSources        *int     `json:"max_sources"`
	MaxLinksPerSource *int     `json:"max_links_per_source"`
	FollowLinks       *bool    `json:"follow_links"`
}

func (p runRequestPayload) toRequest() guardrail.RunRequest {
	req := guardrail.RunRequest{
		Question:          p.Question,
		URLs:              p.URLs,
		MaxSources:        -1,
		MaxLinksPerSource: -1,
	}
	if p.MaxSources != nil {
		req.MaxSources = *p.MaxSources
	}
	if p.MaxLinksPerSource != nil {
		req.MaxLinksPerSource = *p.MaxLinksPerSource
	}
	if p.FollowLinks != nil {
		req.FollowLinks = *p.FollowLinks
	}
	return req
}

func (h *RunsHandler) createRun(c echo.Context) error {
	var payload runRequestPayload
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if payload.Question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question is required")
	}

	result, err := h.Orch.Run(c.Request().Context(), payload.toRequest())
	if err != nil {
		var runErr *orchestrator.RunError
		if errors.As(err, &runErr) {
			// The run failed terminally but still carries artifacts and
			// warnings worth returning.
			h.Logger.Printf("run failed: %v", runErr)
			return c.JSON(http.StatusInternalServerError, result)
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

func (h *RunsHandler) listArtifacts(c echo.Context) error {
	threadID := c.Param("thread_id")
	infos, err := h.Store.List(threadID)
	if err != nil {
		if errors.Is(err, artifact.ErrInvalidThreadID) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return err
	}
	if infos == nil {
		infos = []artifact.Info{}
	}
	return c.JSON(http.StatusOK, infos)
}

func (h *RunsHandler) getArtifact(c echo.Context) error {
	threadID := c.Param("thread_id")
	name := c.Param("*")

	path, err := h.Store.Path(threadID, name)
	if err != nil {
		if errors.Is(err, artifact.ErrInvalidThreadID) || errors.Is(err, artifact.ErrInvalidName) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return err
	}
	st, err := os.Stat(path)
	if err != nil || st.IsDir() {
		return echo.NewHTTPError(http.StatusNotFound, "artifact not found")
	}
	return c.File(path)
}
