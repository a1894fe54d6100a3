package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dipeo/dipeo/common/compile"
	"github.com/dipeo/dipeo/common/diagram"
	"github.com/dipeo/dipeo/common/engine"
	"github.com/dipeo/dipeo/common/envelope"
	"github.com/dipeo/dipeo/common/ports"
	"github.com/dipeo/dipeo/common/registry"
)

// Provider describes one integrated API target: its endpoint template per
// operation and default headers.
type Provider struct {
	BaseURL    string
	Operations map[string]ProviderOp
	Headers    map[string]string
}

// ProviderOp is one named operation on a provider.
type ProviderOp struct {
	Method string
	Path   string
}

// IntegratedAPI dispatches named operations against a static provider
// catalog, so diagrams call "notion.search" instead of spelling out URLs.
type IntegratedAPI struct {
	engine.Base
	providers map[string]Provider
}

// NewIntegratedAPI builds the handler around a provider catalog.
func NewIntegratedAPI(providers map[string]Provider) *IntegratedAPI {
	if providers == nil {
		providers = map[string]Provider{}
	}
	return &IntegratedAPI{providers: providers}
}

func (*IntegratedAPI) NodeType() string { return diagram.NodeTypeIntegratedAPI }

func (*IntegratedAPI) Requires() []string {
	return []string{registry.APIInvoker.Name}
}

func (h *IntegratedAPI) Validate(req *engine.Request) error {
	cfg, ok := req.Node.Config.(*compile.IntegratedAPIConfig)
	if !ok {
		return fmt.Errorf("node %s has no integrated_api config", req.Node.ID)
	}
	provider, ok := h.providers[cfg.Provider]
	if !ok {
		return fmt.Errorf("unknown provider %q", cfg.Provider)
	}
	if _, ok := provider.Operations[cfg.Operation]; !ok {
		return fmt.Errorf("provider %q has no operation %q", cfg.Provider, cfg.Operation)
	}
	return nil
}

func (h *IntegratedAPI) Run(ctx context.Context, inputs map[string]interface{}, req *engine.Request) (interface{}, error) {
	cfg := req.Node.Config.(*compile.IntegratedAPIConfig)
	provider := h.providers[cfg.Provider]
	op := provider.Operations[cfg.Operation]

	invoker, err := registry.Get(req.Services, registry.APIInvoker)
	if err != nil {
		return nil, err
	}

	scope := mergeScopes(req.Variables, inputs, cfg.Config)
	target := provider.BaseURL + interpolate(op.Path, scope)

	headers := make(map[string]string, len(provider.Headers))
	for k, v := range provider.Headers {
		headers[k] = interpolate(v, scope)
	}

	var body []byte
	if op.Method != "GET" && len(cfg.Config) > 0 {
		body, err = json.Marshal(cfg.Config)
		if err != nil {
			return nil, fmt.Errorf("encode operation payload: %w", err)
		}
		headers["Content-Type"] = "application/json"
	}

	res, err := invoker.Invoke(ctx, ports.APIRequest{
		URL:     target,
		Method:  op.Method,
		Headers: headers,
		Body:    body,
		Timeout: time.Duration(cfg.TimeoutSec) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	if res.Status >= 400 {
		return nil, fmt.Errorf("%s.%s returned %d", cfg.Provider, cfg.Operation, res.Status)
	}
	return decodeBody(res), nil
}

func (*IntegratedAPI) SerializeOutput(result interface{}, req *engine.Request) (*envelope.Envelope, error) {
	return envelope.JSON(result, req.Node.ID, req.ExecutionID)
}
