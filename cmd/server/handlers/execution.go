package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/dipeo/dipeo/cmd/server/container"
	"github.com/dipeo/dipeo/common/compile"
	"github.com/dipeo/dipeo/common/engine"
	"github.com/dipeo/dipeo/common/execution"
	"github.com/dipeo/dipeo/common/ids"
	"github.com/dipeo/dipeo/common/sdk"
	"github.com/dipeo/dipeo/common/state"
	"github.com/dipeo/dipeo/common/validation"
)

const defaultListLimit = 50

// ExecutionHandler serves the execution lifecycle endpoints.
type ExecutionHandler struct {
	container *container.Container
}

// NewExecutionHandler creates the handler.
func NewExecutionHandler(c *container.Container) *ExecutionHandler {
	return &ExecutionHandler{container: c}
}

// Execute starts an execution from a stored or inline diagram.
// POST /api/v1/executions
func (h *ExecutionHandler) Execute(c echo.Context) error {
	var req sdk.ExecuteRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid_request", err)
	}
	if err := validation.ValidateExecuteRequest(&req); err != nil {
		return badRequest(c, "invalid_request", err)
	}

	exec, err := h.resolveDiagram(&req)
	if err != nil {
		return badRequest(c, "invalid_diagram", err)
	}

	execID, err := h.container.Engine.Start(c.Request().Context(), engine.ExecuteOpts{
		Diagram:   exec,
		Variables: req.Variables,
	})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, sdk.ErrorResponse{
			Error:   "execution_start_failed",
			Message: err.Error(),
		})
	}

	if req.CLISession {
		h.container.Components.Router.RegisterCLISession(execID)
	}

	return c.JSON(http.StatusAccepted, sdk.ExecuteResponse{ExecutionID: string(execID)})
}

func (h *ExecutionHandler) resolveDiagram(req *sdk.ExecuteRequest) (*compile.ExecutableDiagram, error) {
	if req.DiagramID != "" {
		entry, ok := h.container.Diagrams.Get(ids.DiagramID(req.DiagramID))
		if !ok {
			return nil, errors.New("unknown diagram_id " + req.DiagramID)
		}
		return entry.Executable, nil
	}

	d, _, err := parseDiagram([]byte(req.Diagram), req.Format)
	if err != nil {
		return nil, err
	}
	return compile.New(compile.Options{}).Compile(d)
}

// Control applies PAUSE / RESUME / ABORT / SKIP_NODE to a running execution.
// POST /api/v1/executions/:id/control
func (h *ExecutionHandler) Control(c echo.Context) error {
	var req sdk.ControlRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid_request", err)
	}
	if err := validation.ValidateControlRequest(&req); err != nil {
		return badRequest(c, "invalid_request", err)
	}

	execID := ids.ExecutionID(c.Param("id"))
	if err := h.container.Engine.Control(execID, req.Action, ids.NodeID(req.NodeID)); err != nil {
		if errors.Is(err, engine.ErrUnknownExecution) {
			return notFound(c, err)
		}
		return badRequest(c, "control_failed", err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"execution_id": string(execID),
		"action":       req.Action,
	})
}

// Respond answers a pending interactive prompt.
// POST /api/v1/executions/:id/respond
func (h *ExecutionHandler) Respond(c echo.Context) error {
	var req struct {
		NodeID string `json:"node_id"`
		Answer string `json:"answer"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid_request", err)
	}
	if req.NodeID == "" {
		return badRequest(c, "invalid_request", errors.New("node_id is required"))
	}

	execID := ids.ExecutionID(c.Param("id"))
	if err := h.container.Responder.Respond(execID, ids.NodeID(req.NodeID), req.Answer); err != nil {
		return notFound(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "delivered"})
}

// Get returns an execution's current state.
// GET /api/v1/executions/:id
func (h *ExecutionHandler) Get(c echo.Context) error {
	execID := ids.ExecutionID(c.Param("id"))
	st, err := h.container.Components.State.GetExecution(c.Request().Context(), execID)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return notFound(c, err)
		}
		return c.JSON(http.StatusInternalServerError, sdk.ErrorResponse{
			Error:   "state_lookup_failed",
			Message: err.Error(),
		})
	}
	return c.JSON(http.StatusOK, st)
}

// List returns executions, optionally filtered by status.
// GET /api/v1/executions?status=RUNNING&limit=10&offset=0
func (h *ExecutionHandler) List(c echo.Context) error {
	filter := execution.Filter{
		Status:    execution.Status(c.QueryParam("status")),
		DiagramID: ids.DiagramID(c.QueryParam("diagram_id")),
		Limit:     defaultListLimit,
	}
	if v := c.QueryParam("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			return badRequest(c, "invalid_request", errors.New("limit must be a positive integer"))
		}
		filter.Limit = limit
	}
	if v := c.QueryParam("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			return badRequest(c, "invalid_request", errors.New("offset must be a non-negative integer"))
		}
		filter.Offset = offset
	}

	list, err := h.container.Components.State.ListExecutions(c.Request().Context(), filter)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, sdk.ErrorResponse{
			Error:   "state_lookup_failed",
			Message: err.Error(),
		})
	}
	return c.JSON(http.StatusOK, list)
}

func badRequest(c echo.Context, code string, err error) error {
	return c.JSON(http.StatusBadRequest, sdk.ErrorResponse{Error: code, Message: err.Error()})
}

func notFound(c echo.Context, err error) error {
	return c.JSON(http.StatusNotFound, sdk.ErrorResponse{Error: "not_found", Message: err.Error()})
}
