package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/agentkernel/agentkernel/internal/domain/execution"
	"github.com/agentkernel/agentkernel/internal/infrastructure/http/dto"
	"github.com/agentkernel/agentkernel/internal/infrastructure/streaming"
	"github.com/labstack/echo/v4"
)

// StreamHandler serves the per-run SSE feed off the in-process event
// stream pipeline (SPEC_FULL.md §4.4): Emitter -> BoundedQueue ->
// StreamFilter -> this handler. It holds no broker subscription of its
// own — the queue registry is the single source of truth for "what's live
// right now", same as RunService.RunAndStream.
type StreamHandler struct {
	queues *streaming.QueueRegistry
}

// NewStreamHandler creates a new StreamHandler
func NewStreamHandler(queues *streaming.QueueRegistry) *StreamHandler {
	return &StreamHandler{queues: queues}
}

// parseStreamMode reads the client's requested consumer mode
// (SPEC_FULL.md §4.4): debug sees everything plus synthesized reasoning
// events, production sees only client_safe events. Defaults to production.
func parseStreamMode(c echo.Context) streaming.Mode {
	if c.QueryParam("stream_mode") == "debug" {
		return streaming.ModeDebug
	}
	return streaming.ModeProduction
}

// StreamRun handles GET /v1/runs/:run_id/stream
func (h *StreamHandler) StreamRun(c echo.Context) error {
	runID := c.Param("run_id")
	if runID == "" {
		return c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "invalid_request",
			Message: "run_id is required in path",
		})
	}

	return h.streamByRunID(c, runID)
}

// Stream handles GET /v1/stream?run_id=xxx (query-param form, kept for
// clients that can't template a path segment).
func (h *StreamHandler) Stream(c echo.Context) error {
	runID := c.QueryParam("run_id")
	if runID == "" {
		return c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "invalid_request",
			Message: "run_id query parameter is required",
		})
	}

	return h.streamByRunID(c, runID)
}

// streamByRunID drains the run's BoundedQueue through a StreamFilter and
// writes each surviving event as an SSE frame until the queue closes
// (RunService.RunAndStream closes it once the run's execution returns) or the
// client disconnects.
func (h *StreamHandler) streamByRunID(c echo.Context, runID string) error {
	queue, ok := h.queues.Get(runID)
	if !ok {
		return c.JSON(http.StatusNotFound, dto.ErrorResponse{
			Error:   "not_found",
			Message: fmt.Sprintf("no active stream for run %s", runID),
		})
	}

	filter := streaming.NewStreamFilter(parseStreamMode(c))

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	// Padding comment defeats proxy response buffering (SPEC_FULL.md §6)
	// so the client sees the first real event instead of a multi-KB stall.
	fmt.Fprintf(c.Response(), ": %s\n\n", ssePadding)
	c.Response().Flush()

	ctx := c.Request().Context()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			fmt.Fprintf(c.Response(), ": keepalive\n\n")
			c.Response().Flush()

		case event, open := <-queue.Chan():
			if !open {
				fmt.Fprintf(c.Response(), "data: {\"type\":\"done\"}\n\n")
				c.Response().Flush()
				return nil
			}

			for _, out := range filter.Apply(event) {
				if err := writeSSE(c, out); err != nil {
					return err
				}
			}
		}
	}
}

// ssePadding is a 2048-byte comment line sent once at stream open to
// defeat intermediary proxy buffering (SPEC_FULL.md §6).
var ssePadding = strings.Repeat("p", 2048)

// writeSSE writes one `data: <json>\n\n` frame (SPEC_FULL.md §6's SSE
// framing), not a named `event:` field — the event kind already travels
// inside the JSON payload's "event" key.
func writeSSE(c echo.Context, event execution.ExecutionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Response(), "data: %s\n\n", data)
	c.Response().Flush()
	return nil
}
