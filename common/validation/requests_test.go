package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/dipeo/common/sdk"
)

func TestValidateExecuteRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     *sdk.ExecuteRequest
		wantErr string
	}{
		{
			name:    "nil request",
			req:     nil,
			wantErr: "required",
		},
		{
			name:    "no diagram source",
			req:     &sdk.ExecuteRequest{},
			wantErr: "one of diagram_id or diagram",
		},
		{
			name:    "both diagram sources",
			req:     &sdk.ExecuteRequest{DiagramID: "d1", Diagram: "{}"},
			wantErr: "mutually exclusive",
		},
		{
			name: "stored diagram",
			req:  &sdk.ExecuteRequest{DiagramID: "d1"},
		},
		{
			name: "inline diagram with format",
			req:  &sdk.ExecuteRequest{Diagram: "{}", Format: "native"},
		},
		{
			name:    "unknown format",
			req:     &sdk.ExecuteRequest{Diagram: "{}", Format: "toml"},
			wantErr: "toml",
		},
		{
			name:    "oversized inline diagram",
			req:     &sdk.ExecuteRequest{Diagram: strings.Repeat("x", maxDiagramBytes+1)},
			wantErr: "exceeds",
		},
		{
			name:    "empty variable name",
			req:     &sdk.ExecuteRequest{DiagramID: "d1", Variables: map[string]interface{}{"": 1}},
			wantErr: "non-empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateExecuteRequest(tt.req)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateControlRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     *sdk.ControlRequest
		wantErr string
	}{
		{name: "pause", req: &sdk.ControlRequest{Action: sdk.ActionPause}},
		{name: "resume", req: &sdk.ControlRequest{Action: sdk.ActionResume}},
		{name: "abort", req: &sdk.ControlRequest{Action: sdk.ActionAbort}},
		{name: "skip with node", req: &sdk.ControlRequest{Action: sdk.ActionSkipNode, NodeID: "n1"}},
		{
			name:    "skip without node",
			req:     &sdk.ControlRequest{Action: sdk.ActionSkipNode},
			wantErr: "requires node_id",
		},
		{
			name:    "node id on abort",
			req:     &sdk.ControlRequest{Action: sdk.ActionAbort, NodeID: "n1"},
			wantErr: "only valid",
		},
		{
			name:    "missing action",
			req:     &sdk.ControlRequest{},
			wantErr: "action is required",
		},
		{
			name:    "unknown action",
			req:     &sdk.ControlRequest{Action: "EXPLODE"},
			wantErr: "unknown action",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateControlRequest(tt.req)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateUploadRequest(t *testing.T) {
	assert.Error(t, ValidateUploadRequest(nil))
	assert.Error(t, ValidateUploadRequest(&sdk.UploadDiagramRequest{}))
	assert.Error(t, ValidateUploadRequest(&sdk.UploadDiagramRequest{Content: "{}", Format: "toml"}))
	assert.NoError(t, ValidateUploadRequest(&sdk.UploadDiagramRequest{Content: "{}"}))
	assert.NoError(t, ValidateUploadRequest(&sdk.UploadDiagramRequest{Content: "{}", Format: "light"}))
}
