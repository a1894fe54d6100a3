package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/dipeo/dipeo/common/compile"
	"github.com/dipeo/dipeo/common/envelope"
)

// BatchItemResult is one entry of a batch node's output array. Batch runs
// succeed partially: failed items carry their error, the rest their value.
type BatchItemResult struct {
	OK    bool        `json:"ok"`
	Value interface{} `json:"value,omitempty"`
	Error string      `json:"error,omitempty"`
}

const defaultBatchInputKey = "items"

// runBatch fans the handler's Run phase over the input array and wraps the
// per-item results into a single json envelope.
func (e *Engine) runBatch(ctx context.Context, h Handler, req *Request, inputs map[string]interface{}, cfg compile.BatchConfig) (*envelope.Envelope, error) {
	key := cfg.InputKey
	if key == "" {
		key = defaultBatchInputKey
	}

	raw, ok := inputs[key]
	if !ok {
		raw, ok = req.Variables[key]
	}
	if !ok {
		return nil, fmt.Errorf("batch input %q not found", key)
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("batch input %q is %T, want an array", key, raw)
	}

	results := make([]BatchItemResult, len(items))
	runItem := func(i int) {
		itemInputs := make(map[string]interface{}, len(inputs)+2)
		for k, v := range inputs {
			itemInputs[k] = v
		}
		itemInputs["item"] = items[i]
		itemInputs["index"] = i

		value, err := h.Run(ctx, itemInputs, req)
		if err != nil {
			results[i] = BatchItemResult{OK: false, Error: err.Error()}
			return
		}
		// Route the item through the handler's own serialization so batch
		// entries carry the same shape as a single run's output.
		env, err := h.SerializeOutput(value, req)
		if err != nil {
			results[i] = BatchItemResult{OK: false, Error: err.Error()}
			return
		}
		decoded, err := env.Value()
		if err != nil {
			results[i] = BatchItemResult{OK: false, Error: err.Error()}
			return
		}
		results[i] = BatchItemResult{OK: true, Value: decoded}
	}

	if cfg.Parallel {
		limit := cfg.MaxConcurrent
		if limit <= 0 {
			limit = e.opts.MaxConcurrent
		}
		sem := make(chan struct{}, limit)
		var wg sync.WaitGroup
		for i := range items {
			wg.Add(1)
			sem <- struct{}{}
			go func(i int) {
				defer wg.Done()
				defer func() { <-sem }()
				runItem(i)
			}(i)
		}
		wg.Wait()
	} else {
		for i := range items {
			if ctx.Err() != nil {
				results[i] = BatchItemResult{OK: false, Error: ctx.Err().Error()}
				continue
			}
			runItem(i)
		}
	}

	return envelope.JSON(results, req.Node.ID, req.ExecutionID)
}
