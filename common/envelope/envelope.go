package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dipeo/dipeo/common/ids"
)

// ContentType classifies an envelope body.
type ContentType string

const (
	ContentText         ContentType = "text"
	ContentJSON         ContentType = "json"
	ContentBinary       ContentType = "binary"
	ContentError        ContentType = "error"
	ContentConversation ContentType = "conversation_state"
)

// Meta keys the engine and handlers agree on.
const (
	MetaOutputLabel = "output_label"
	MetaModel       = "model"
	MetaTokensIn    = "tokens_input"
	MetaTokensOut   = "tokens_output"
	MetaErrorKind   = "error_kind"
)

// ContentTypeError reports an accessor used against the wrong content type.
type ContentTypeError struct {
	Want ContentType
	Got  ContentType
}

func (e *ContentTypeError) Error() string {
	return fmt.Sprintf("envelope: content is %s, not %s", e.Got, e.Want)
}

// Envelope is the only value that crosses a node boundary. Immutable once
// emitted; Clone-on-write via WithMeta.
type Envelope struct {
	ProducedBy  ids.NodeID             `json:"produced_by"`
	TraceID     ids.ExecutionID        `json:"trace_id"`
	ContentType ContentType            `json:"content_type"`
	Body        json.RawMessage        `json:"body,omitempty"`
	Meta        map[string]interface{} `json:"meta,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// Text builds a text envelope.
func Text(body string, producedBy ids.NodeID, traceID ids.ExecutionID) *Envelope {
	raw, _ := json.Marshal(body)
	return &Envelope{
		ProducedBy:  producedBy,
		TraceID:     traceID,
		ContentType: ContentText,
		Body:        raw,
		CreatedAt:   time.Now().UTC(),
	}
}

// JSON builds a json envelope from any marshalable value.
func JSON(obj interface{}, producedBy ids.NodeID, traceID ids.ExecutionID) (*Envelope, error) {
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal body: %w", err)
	}
	return &Envelope{
		ProducedBy:  producedBy,
		TraceID:     traceID,
		ContentType: ContentJSON,
		Body:        raw,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// Binary builds a binary envelope. The payload is base64-encoded on the wire
// by encoding/json's []byte handling.
func Binary(data []byte, producedBy ids.NodeID, traceID ids.ExecutionID) *Envelope {
	raw, _ := json.Marshal(data)
	return &Envelope{
		ProducedBy:  producedBy,
		TraceID:     traceID,
		ContentType: ContentBinary,
		Body:        raw,
		CreatedAt:   time.Now().UTC(),
	}
}

// ErrorBody is the payload of an error envelope.
type ErrorBody struct {
	Message   string `json:"message"`
	ErrorType string `json:"error_type"`
}

// Error builds an error envelope.
func Error(message, errorType string, producedBy ids.NodeID, traceID ids.ExecutionID) *Envelope {
	raw, _ := json.Marshal(ErrorBody{Message: message, ErrorType: errorType})
	return &Envelope{
		ProducedBy:  producedBy,
		TraceID:     traceID,
		ContentType: ContentError,
		Body:        raw,
		CreatedAt:   time.Now().UTC(),
	}
}

// Conversation builds a conversation_state envelope from a message array.
func Conversation(messages []map[string]interface{}, producedBy ids.NodeID, traceID ids.ExecutionID) (*Envelope, error) {
	raw, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal conversation: %w", err)
	}
	return &Envelope{
		ProducedBy:  producedBy,
		TraceID:     traceID,
		ContentType: ContentConversation,
		Body:        raw,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// AsText decodes the body of a text envelope.
func (e *Envelope) AsText() (string, error) {
	if e.ContentType != ContentText {
		return "", &ContentTypeError{Want: ContentText, Got: e.ContentType}
	}
	var s string
	if err := json.Unmarshal(e.Body, &s); err != nil {
		return "", fmt.Errorf("envelope: decode text body: %w", err)
	}
	return s, nil
}

// AsJSON decodes the body of a json envelope into a generic value.
func (e *Envelope) AsJSON() (interface{}, error) {
	if e.ContentType != ContentJSON && e.ContentType != ContentConversation {
		return nil, &ContentTypeError{Want: ContentJSON, Got: e.ContentType}
	}
	var v interface{}
	if err := json.Unmarshal(e.Body, &v); err != nil {
		return nil, fmt.Errorf("envelope: decode json body: %w", err)
	}
	return v, nil
}

// AsError decodes the body of an error envelope.
func (e *Envelope) AsError() (ErrorBody, error) {
	if e.ContentType != ContentError {
		return ErrorBody{}, &ContentTypeError{Want: ContentError, Got: e.ContentType}
	}
	var body ErrorBody
	if err := json.Unmarshal(e.Body, &body); err != nil {
		return ErrorBody{}, fmt.Errorf("envelope: decode error body: %w", err)
	}
	return body, nil
}

// IsError reports whether the envelope carries an error payload.
func (e *Envelope) IsError() bool {
	return e.ContentType == ContentError
}

// Value decodes the body according to its content type. Text yields string,
// json/conversation yield the decoded value, binary yields []byte, error
// yields ErrorBody.
func (e *Envelope) Value() (interface{}, error) {
	switch e.ContentType {
	case ContentText:
		return e.AsText()
	case ContentJSON, ContentConversation:
		return e.AsJSON()
	case ContentError:
		return e.AsError()
	case ContentBinary:
		var b []byte
		if err := json.Unmarshal(e.Body, &b); err != nil {
			return nil, fmt.Errorf("envelope: decode binary body: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("envelope: unknown content type %q", e.ContentType)
	}
}

// OutputLabel returns the label the engine attached on emit; "default" when
// none was set.
func (e *Envelope) OutputLabel() string {
	if e.Meta != nil {
		if label, ok := e.Meta[MetaOutputLabel].(string); ok && label != "" {
			return label
		}
	}
	return "default"
}

// WithMeta returns a copy with one metadata key set. The receiver is not
// modified; emitted envelopes stay immutable.
func (e *Envelope) WithMeta(key string, value interface{}) *Envelope {
	clone := *e
	clone.Meta = make(map[string]interface{}, len(e.Meta)+1)
	for k, v := range e.Meta {
		clone.Meta[k] = v
	}
	clone.Meta[key] = value
	return &clone
}
