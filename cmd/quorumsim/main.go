// Quorumsim is a mock council orchestration server: it serves the REST
// API from a scenario file and replays the scenario's event timeline to
// stream subscribers, honoring pause/resume/stop and review gates. Used
// for demos and for exercising the quorum client end to end.
package main

import (
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	addr := flag.String("addr", ":8080", "Listen address")
	scenarioPath := flag.String("scenario", "scenario.yaml", "Path to scenario file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	scenario, err := LoadScenario(*scenarioPath)
	if err != nil {
		logger.Error("Failed to load scenario", "error", err)
		os.Exit(1)
	}
	logger.Info("Scenario loaded",
		"path", *scenarioPath,
		"session_id", scenario.SessionID,
		"nodes", len(scenario.Graph.Nodes),
		"steps", len(scenario.Steps))

	server := NewServer(scenario, logger, prometheus.DefaultRegisterer)
	httpServer := &http.Server{Addr: *addr, Handler: server.Routes()}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Quorumsim listening", "addr", *addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}
	_ = httpServer.Close()
}
