package server

import (
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammad-safakhou/deepresearch/config"
	"github.com/mohammad-safakhou/deepresearch/internal/artifact"
	"github.com/mohammad-safakhou/deepresearch/internal/fetch"
	"github.com/mohammad-safakhou/deepresearch/internal/llm"
	"github.com/mohammad-safakhou/deepresearch/internal/orchestrator"
	"github.com/mohammad-safakhou/deepresearch/internal/telemetry"
)

// Run wires the pipeline components and serves the HTTP API.
func Run(cfg *config.Config) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	if err := cfg.LLM.Validate(); err != nil {
		return err
	}

	store, err := artifact.NewStore(cfg.Storage.RunsDir)
	if err != nil {
		return err
	}
	provider, err := llm.NewProvider(cfg.LLM)
	if err != nil {
		return err
	}
	tele := telemetry.New(prometheus.DefaultRegisterer, nil)
	fetcher := fetch.NewFetcher(cfg.Fetch, nil)
	orchLogger := log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
	orch := orchestrator.New(cfg, provider, fetcher, store, tele, orchLogger)

	api := e.Group("/api")
	rh := &RunsHandler{Orch: orch, Store: store, Logger: log.New(log.Writer(), "[RUNS] ", log.LstdFlags)}
	rh.Register(api.Group("/runs"))

	baseLogger.Printf("listening on %s (provider=%s model=%s)", cfg.Server.Address, provider.Name(), cfg.LLM.Model)
	return e.Start(cfg.Server.Address)
}
