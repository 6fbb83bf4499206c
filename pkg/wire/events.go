package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the raw shape of one inbound frame. The "event" field
// selects the payload type carried in "data".
type Envelope struct {
	Event     string          `json:"event"`
	NodeID    string          `json:"node_id,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"` // RFC3339
	Data      json.RawMessage `json:"data,omitempty"`
}

// Event is a decoded inbound event. Exactly one concrete type exists
// per discriminant; consumers dispatch with a type switch.
type Event interface {
	// Kind returns the wire discriminant the event was decoded from.
	Kind() string
}

// TokenStream carries one incremental text chunk of a node's output.
type TokenStream struct {
	NodeID     string `json:"node_id"`
	AgentID    string `json:"agent_id"`
	Chunk      string `json:"chunk"`
	IsThinking bool   `json:"is_thinking,omitempty"`
}

func (TokenStream) Kind() string { return EventTokenStream }

// NodeStateChange reports a node status transition.
type NodeStateChange struct {
	NodeID string     `json:"node_id"`
	Status NodeStatus `json:"status"`
}

func (NodeStateChange) Kind() string { return EventNodeStateChange }

// ParallelStart declares a fan-out node and its spawned branch nodes.
type ParallelStart struct {
	NodeID   string   `json:"node_id"`
	Branches []string `json:"branches"`
}

func (ParallelStart) Kind() string { return EventParallelStart }

// TokenUsage reports token and cost accounting for one agent call.
type TokenUsage struct {
	NodeID           string  `json:"node_id"`
	AgentID          string  `json:"agent_id"`
	InputTokens      int     `json:"input_tokens"`
	OutputTokens     int     `json:"output_tokens"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

// TotalTokens returns input + output tokens.
func (u TokenUsage) TotalTokens() int { return u.InputTokens + u.OutputTokens }

func (TokenUsage) Kind() string { return EventTokenUsage }

// ExecutionPaused signals the whole run was paused server-side.
type ExecutionPaused struct{}

func (ExecutionPaused) Kind() string { return EventExecutionPaused }

// ExecutionCompleted signals the whole run finished.
type ExecutionCompleted struct{}

func (ExecutionCompleted) Kind() string { return EventExecutionCompleted }

// HumanReviewRequest interrupts execution pending a user decision.
type HumanReviewRequest struct {
	RequestID string         `json:"request_id"`
	NodeID    string         `json:"node_id"`
	Prompt    string         `json:"prompt"`
	Data      map[string]any `json:"data,omitempty"`
}

func (HumanReviewRequest) Kind() string { return EventHumanReviewRequest }

// ErrorEvent reports a server-side domain error. It marks the named
// node failed (if any) but does not terminate the run by itself.
type ErrorEvent struct {
	NodeID string `json:"node_id,omitempty"`
	Error  string `json:"error"`
}

func (ErrorEvent) Kind() string { return EventError }

// Unknown preserves frames with an unrecognized discriminant so the
// router can log them instead of the transport dropping them silently.
type Unknown struct {
	Event string
	Data  json.RawMessage
}

func (u Unknown) Kind() string { return u.Event }

// Decode parses one inbound frame into its typed variant. A missing
// envelope node_id falls back onto the payload's, and vice versa, since
// the server sets it in either place depending on the emitter.
func Decode(frame []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("frame missing event discriminant")
	}

	switch env.Event {
	case EventTokenStream:
		var ev TokenStream
		if err := unmarshalData(env, &ev); err != nil {
			return nil, err
		}
		if ev.NodeID == "" {
			ev.NodeID = env.NodeID
		}
		return ev, nil
	case EventNodeStateChange:
		var ev NodeStateChange
		if err := unmarshalData(env, &ev); err != nil {
			return nil, err
		}
		if ev.NodeID == "" {
			ev.NodeID = env.NodeID
		}
		return ev, nil
	case EventParallelStart:
		var ev ParallelStart
		if err := unmarshalData(env, &ev); err != nil {
			return nil, err
		}
		if ev.NodeID == "" {
			ev.NodeID = env.NodeID
		}
		return ev, nil
	case EventTokenUsage:
		var ev TokenUsage
		if err := unmarshalData(env, &ev); err != nil {
			return nil, err
		}
		if ev.NodeID == "" {
			ev.NodeID = env.NodeID
		}
		return ev, nil
	case EventExecutionPaused:
		return ExecutionPaused{}, nil
	case EventExecutionCompleted:
		return ExecutionCompleted{}, nil
	case EventHumanReviewRequest:
		var ev HumanReviewRequest
		if err := unmarshalData(env, &ev); err != nil {
			return nil, err
		}
		if ev.NodeID == "" {
			ev.NodeID = env.NodeID
		}
		return ev, nil
	case EventError:
		var ev ErrorEvent
		if err := unmarshalData(env, &ev); err != nil {
			return nil, err
		}
		if ev.NodeID == "" {
			ev.NodeID = env.NodeID
		}
		return ev, nil
	default:
		return Unknown{Event: env.Event, Data: env.Data}, nil
	}
}

// ParseTimestamp parses an envelope timestamp, returning the zero time
// for empty or malformed values.
func ParseTimestamp(ts string) time.Time {
	if ts == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return time.Time{}
	}
	return t
}

func unmarshalData(env Envelope, v any) error {
	if len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", env.Event, err)
	}
	return nil
}
