// Package envelope defines the normalized result every tool returns.
//
// A success envelope encodes as {"status":"success","result":...} and an
// error envelope as {"status":"error","message":"..."}. No other keys are
// ever emitted.
package envelope

import (
	"encoding/json"
	"fmt"
)

// Status distinguishes the two envelope variants.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Envelope is the tagged result of a tool invocation.
type Envelope struct {
	Status  Status
	Result  any
	Message string
}

// Success wraps a tool result. The result is passed through untouched.
func Success(result any) Envelope {
	return Envelope{Status: StatusSuccess, Result: result}
}

// Error wraps a human-readable failure message.
func Error(message string) Envelope {
	return Envelope{Status: StatusError, Message: message}
}

// Errorf is Error with fmt formatting.
func Errorf(format string, args ...any) Envelope {
	return Error(fmt.Sprintf(format, args...))
}

// FromError converts err to an error envelope, prefixing the message with
// label when label is not empty.
func FromError(label string, err error) Envelope {
	if label == "" {
		return Error(err.Error())
	}
	return Errorf("%s: %v", label, err)
}

// IsSuccess reports whether the envelope carries a result.
func (e Envelope) IsSuccess() bool {
	return e.Status == StatusSuccess
}

// IsError reports whether the envelope carries a failure message.
func (e Envelope) IsError() bool {
	return e.Status == StatusError
}

type successWire struct {
	Status Status `json:"status"`
	Result any    `json:"result"`
}

type errorWire struct {
	Status  Status `json:"status"`
	Message string `json:"message"`
}

// MarshalJSON emits exactly the keys of the active variant.
func (e Envelope) MarshalJSON() ([]byte, error) {
	switch e.Status {
	case StatusSuccess:
		return json.Marshal(successWire{Status: e.Status, Result: e.Result})
	case StatusError:
		return json.Marshal(errorWire{Status: e.Status, Message: e.Message})
	default:
		return nil, fmt.Errorf("envelope: unknown status %q", e.Status)
	}
}

// UnmarshalJSON accepts either variant. Results decode into generic JSON values.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var raw struct {
		Status  Status          `json:"status"`
		Result  json.RawMessage `json:"result"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch raw.Status {
	case StatusSuccess:
		var result any
		if len(raw.Result) > 0 {
			if err := json.Unmarshal(raw.Result, &result); err != nil {
				return fmt.Errorf("envelope: decode result: %w", err)
			}
		}
		*e = Success(result)
	case StatusError:
		*e = Error(raw.Message)
	default:
		return fmt.Errorf("envelope: unknown status %q", raw.Status)
	}
	return nil
}
