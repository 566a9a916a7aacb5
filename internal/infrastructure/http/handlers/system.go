package handlers

import (
	"net/http"
	"runtime"

	"github.com/agentkernel/agentkernel/internal/domain/agent"
	"github.com/labstack/echo/v4"
)

// SystemHandler answers the liveness and capability probes clients use
// before starting runs.
type SystemHandler struct {
	version string
}

// NewSystemHandler creates a new SystemHandler
func NewSystemHandler(version string) *SystemHandler {
	return &SystemHandler{version: version}
}

// OkResponse represents the response for GET /ok
type OkResponse struct {
	Ok bool `json:"ok"`
}

// InfoResponse describes this deployment's execution surface: the node
// types the compiler accepts, the join modes the kernel runs, and the
// stream modes a consumer may request.
type InfoResponse struct {
	Version      string   `json:"version"`
	GoVersion    string   `json:"go_version"`
	Platform     string   `json:"platform"`
	Architecture string   `json:"arch"`
	NodeTypes    []string `json:"node_types"`
	JoinModes    []string `json:"join_modes"`
	StreamModes  []string `json:"stream_modes"`
	Checkpointer string   `json:"checkpointer"`
}

// Ok handles GET /ok - simple health check
func (h *SystemHandler) Ok(c echo.Context) error {
	return c.JSON(http.StatusOK, OkResponse{Ok: true})
}

// Info handles GET /info - system information
func (h *SystemHandler) Info(c echo.Context) error {
	nodeTypes := make([]string, 0, len(agent.KnownNodeTypes))
	for t := range agent.KnownNodeTypes {
		nodeTypes = append(nodeTypes, string(t))
	}

	return c.JSON(http.StatusOK, InfoResponse{
		Version:      h.version,
		GoVersion:    runtime.Version(),
		Platform:     runtime.GOOS,
		Architecture: runtime.GOARCH,
		NodeTypes:    nodeTypes,
		JoinModes:    []string{"best_effort", "fail_fast", "quorum", "first_success"},
		StreamModes:  []string{"debug", "production"},
		Checkpointer: "postgres",
	})
}
