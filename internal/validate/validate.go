// Package validate classifies inbound payloads before they reach the
// conversation store.
package validate

import (
	"encoding/json"
	"fmt"

	"github.com/npezzotti/go-chatsync/internal/types"
)

type Kind int

const (
	Malformed Kind = iota
	UserMessage
	SystemMessage
)

func (k Kind) String() string {
	switch k {
	case UserMessage:
		return "user_message"
	case SystemMessage:
		return "system_message"
	default:
		return "malformed"
	}
}

// Result is the outcome of Classify. Exactly one of Message and System
// is set unless Kind is Malformed, in which case Err says why.
type Result struct {
	Kind    Kind
	Message *types.Message
	System  *types.SystemMessage
	Err     error
}

// Classify applies the three-way shape check to a raw payload. A payload
// is a user message iff it is an object with string "username" and
// "content" members, and a system message iff it has a string "message"
// member and no "username" member.
func Classify(payload json.RawMessage) Result {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
		return malformed(fmt.Errorf("payload is not an object"))
	}

	_, hasUsername := fields["username"]
	if isString(fields["username"]) && isString(fields["content"]) {
		var msg types.Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			return malformed(fmt.Errorf("decode message: %w", err))
		}
		return Result{Kind: UserMessage, Message: &msg}
	}

	if !hasUsername && isString(fields["message"]) {
		var sys types.SystemMessage
		if err := json.Unmarshal(fields["message"], &sys.Message); err != nil {
			return malformed(fmt.Errorf("decode system message: %w", err))
		}
		return Result{Kind: SystemMessage, System: &sys}
	}

	return malformed(fmt.Errorf("unrecognized payload shape"))
}

// ClassifyBatch classifies each element of a historical fetch. It returns
// malformed when the batch itself is not a JSON array.
func ClassifyBatch(batch json.RawMessage) ([]Result, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(batch, &items); err != nil {
		return nil, fmt.Errorf("batch is not an array: %w", err)
	}

	results := make([]Result, len(items))
	for i, item := range items {
		results[i] = Classify(item)
	}
	return results, nil
}

func malformed(err error) Result {
	return Result{Kind: Malformed, Err: err}
}

func isString(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var s string
	return json.Unmarshal(raw, &s) == nil && raw[0] == '"'
}
