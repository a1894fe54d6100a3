package validation

import (
	"fmt"

	"github.com/dipeo/dipeo/common/diagram/format"
	"github.com/dipeo/dipeo/common/sdk"
)

// maxDiagramBytes caps inline and uploaded diagram documents.
const maxDiagramBytes = 1 << 20

// ValidateExecuteRequest checks an execution start request before any work
// happens. Exactly one diagram source is required.
func ValidateExecuteRequest(req *sdk.ExecuteRequest) error {
	if req == nil {
		return fmt.Errorf("request body is required")
	}

	hasID := req.DiagramID != ""
	hasInline := req.Diagram != ""
	switch {
	case !hasID && !hasInline:
		return fmt.Errorf("one of diagram_id or diagram is required")
	case hasID && hasInline:
		return fmt.Errorf("diagram_id and diagram are mutually exclusive")
	}

	if len(req.Diagram) > maxDiagramBytes {
		return fmt.Errorf("inline diagram exceeds %d bytes", maxDiagramBytes)
	}

	if req.Format != "" {
		if _, err := format.ByName(req.Format); err != nil {
			return err
		}
	}

	for key := range req.Variables {
		if key == "" {
			return fmt.Errorf("variable names must be non-empty")
		}
	}
	return nil
}

// ValidateControlRequest checks a control action request.
func ValidateControlRequest(req *sdk.ControlRequest) error {
	if req == nil {
		return fmt.Errorf("request body is required")
	}

	switch req.Action {
	case sdk.ActionPause, sdk.ActionResume, sdk.ActionAbort:
		if req.NodeID != "" {
			return fmt.Errorf("node_id is only valid with %s", sdk.ActionSkipNode)
		}
	case sdk.ActionSkipNode:
		if req.NodeID == "" {
			return fmt.Errorf("%s requires node_id", sdk.ActionSkipNode)
		}
	case "":
		return fmt.Errorf("action is required")
	default:
		return fmt.Errorf("unknown action %q", req.Action)
	}
	return nil
}

// ValidateUploadRequest checks a diagram upload request.
func ValidateUploadRequest(req *sdk.UploadDiagramRequest) error {
	if req == nil {
		return fmt.Errorf("request body is required")
	}
	if req.Content == "" {
		return fmt.Errorf("content is required")
	}
	if len(req.Content) > maxDiagramBytes {
		return fmt.Errorf("diagram exceeds %d bytes", maxDiagramBytes)
	}
	if req.Format != "" {
		if _, err := format.ByName(req.Format); err != nil {
			return err
		}
	}
	return nil
}
