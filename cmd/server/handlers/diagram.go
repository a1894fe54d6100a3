package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/dipeo/dipeo/cmd/server/container"
	"github.com/dipeo/dipeo/common/cache"
	"github.com/dipeo/dipeo/common/compile"
	"github.com/dipeo/dipeo/common/diagram"
	"github.com/dipeo/dipeo/common/diagram/format"
	"github.com/dipeo/dipeo/common/ids"
	"github.com/dipeo/dipeo/common/sdk"
	"github.com/dipeo/dipeo/common/validation"
)

// DiagramHandler serves diagram upload and lookup.
type DiagramHandler struct {
	container *container.Container
}

// NewDiagramHandler creates the handler.
func NewDiagramHandler(c *container.Container) *DiagramHandler {
	return &DiagramHandler{container: c}
}

// parseDiagram deserializes a source document, auto-detecting the format
// when none is named.
func parseDiagram(content []byte, formatName string) (*diagram.DomainDiagram, string, error) {
	if formatName != "" {
		strategy, err := format.ByName(formatName)
		if err != nil {
			return nil, "", err
		}
		d, err := strategy.DeserializeToDomain(content, "")
		if err != nil {
			return nil, "", err
		}
		return d, strategy.Name(), nil
	}

	d, strategy, err := format.Detect(content, "")
	if err != nil {
		return nil, "", err
	}
	return d, strategy.Name(), nil
}

// Upload stores a diagram after compiling it once.
// POST /api/v1/diagrams
func (h *DiagramHandler) Upload(c echo.Context) error {
	var req sdk.UploadDiagramRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid_request", err)
	}
	if err := validation.ValidateUploadRequest(&req); err != nil {
		return badRequest(c, "invalid_request", err)
	}

	d, formatName, err := parseDiagram([]byte(req.Content), req.Format)
	if err != nil {
		return badRequest(c, "invalid_diagram", err)
	}

	exec, err := compile.New(compile.Options{}).Compile(d)
	if err != nil {
		return badRequest(c, "compile_failed", err)
	}

	id := exec.ID
	if req.ID != "" {
		id = ids.DiagramID(req.ID)
	}
	h.container.Diagrams.Put(&cache.Entry{
		ID:         id,
		FormatName: formatName,
		Source:     []byte(req.Content),
		Executable: exec,
	})

	return c.JSON(http.StatusCreated, sdk.UploadDiagramResponse{
		DiagramID: string(id),
		Format:    formatName,
		Nodes:     len(exec.Nodes),
	})
}

type diagramSummary struct {
	DiagramID string    `json:"diagram_id"`
	Format    string    `json:"format"`
	Nodes     int       `json:"nodes"`
	StoredAt  time.Time `json:"stored_at"`
}

func summarize(entry *cache.Entry) diagramSummary {
	return diagramSummary{
		DiagramID: string(entry.ID),
		Format:    entry.FormatName,
		Nodes:     len(entry.Executable.Nodes),
		StoredAt:  entry.StoredAt,
	}
}

// Get returns a stored diagram's source document.
// GET /api/v1/diagrams/:id
func (h *DiagramHandler) Get(c echo.Context) error {
	entry, ok := h.container.Diagrams.Get(ids.DiagramID(c.Param("id")))
	if !ok {
		return c.JSON(http.StatusNotFound, sdk.ErrorResponse{Error: "not_found"})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"diagram_id": string(entry.ID),
		"format":     entry.FormatName,
		"source":     string(entry.Source),
		"stored_at":  entry.StoredAt,
	})
}

// List returns stored diagram summaries, newest first.
// GET /api/v1/diagrams
func (h *DiagramHandler) List(c echo.Context) error {
	entries := h.container.Diagrams.List()
	out := make([]diagramSummary, len(entries))
	for i, entry := range entries {
		out[i] = summarize(entry)
	}
	return c.JSON(http.StatusOK, out)
}

// Delete removes a stored diagram.
// DELETE /api/v1/diagrams/:id
func (h *DiagramHandler) Delete(c echo.Context) error {
	id := ids.DiagramID(c.Param("id"))
	if _, ok := h.container.Diagrams.Get(id); !ok {
		return c.JSON(http.StatusNotFound, sdk.ErrorResponse{Error: "not_found"})
	}
	h.container.Diagrams.Delete(id)
	return c.NoContent(http.StatusNoContent)
}
