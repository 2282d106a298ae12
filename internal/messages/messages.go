package messages

import (
	"encoding/json"
	"fmt"
)

type Type string

const (
	HealthCheck   Type = "HEALTH_CHECK"
	StartFromPage Type = "START_FROM_PAGE"
	PlanReady     Type = "PLAN_READY"
	Progress      Type = "PROGRESS"
	PageReady     Type = "PAGE_READY"
)

type Message struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Response struct {
	OK    bool            `json:"ok"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// StartPayload asks for a plan for one user and month.
type StartPayload struct {
	Email string `json:"email"`
	Year  int    `json:"year"`
	Month int    `json:"month"`
}

type ProgressPayload struct {
	RunID   string `json:"runId"`
	Phase   string `json:"phase"`
	Message string `json:"message"`
}

// New builds a message with payload encoded as JSON. A nil payload is
// left empty.
func New(t Type, payload any) (Message, error) {
	msg := Message{Type: t}
	if payload == nil {
		return msg, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encoding %s payload: %w", t, err)
	}
	msg.Payload = data
	return msg, nil
}

// Decode unmarshals a message payload into T.
func Decode[T any](msg Message) (T, error) {
	var v T
	if len(msg.Payload) == 0 {
		return v, fmt.Errorf("%s: missing payload", msg.Type)
	}
	if err := json.Unmarshal(msg.Payload, &v); err != nil {
		return v, fmt.Errorf("%s: decoding payload: %w", msg.Type, err)
	}
	return v, nil
}

func OK(data any) Response {
	if data == nil {
		return Response{OK: true}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Fail(err)
	}
	return Response{OK: true, Data: raw}
}

func Fail(err error) Response {
	return Response{OK: false, Error: err.Error()}
}

// DecodeData unmarshals a response's data into T.
func DecodeData[T any](r Response) (T, error) {
	var v T
	if len(r.Data) == 0 {
		return v, nil
	}
	err := json.Unmarshal(r.Data, &v)
	return v, err
}
