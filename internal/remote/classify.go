package remote

import (
	"encoding/json"
	"errors"
	"strings"
)

// Kind tags the provenance of a classified error.
type Kind int

const (
	KindUnknown    Kind = iota // unrecognized shape
	KindStructured             // backend {code, message} payload
	KindNative                 // plain Go error
)

// Error is the normalized form of anything a backend call can fail with.
type Error struct {
	Kind      Kind   `json:"-"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	Retryable bool   `json:"retryable"`
}

func (e *Error) Error() string {
	if e.Code != "" && e.Code != CodeUnknown {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

const CodeUnknown = "UNKNOWN"

// Backend codes representing transient conditions. Anything else is
// treated as permanent unless the message matches a transient signature.
var retryableCodes = map[string]struct{}{
	"DB_001":        {},
	"DB_002":        {},
	"DB_CONN":       {},
	"CONN_001":      {},
	"QUERY_TIMEOUT": {},
	"CONFLICT_409":  {},
	"OP_TIMEOUT":    {},
}

var retryableSignatures = []string{
	"network",
	"timeout",
	"timed out",
	"connection",
	"unavailable",
	"econnrefused",
	"429",
	"502",
	"503",
	"504",
}

// wirePayload is the error shape the backend puts on the wire.
type wirePayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Error   string `json:"error"`
}

// Classify normalizes an arbitrary failure into *Error. It never panics
// and never returns nil for a non-nil input. Already-classified errors
// pass through unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}

	msg := err.Error()

	// Backends that stringify their structured errors hand us a JSON
	// message; lift it back into a structured error.
	if p, ok := parseWire(msg); ok {
		return finish(&Error{
			Kind:    KindStructured,
			Code:    p.Code,
			Message: p.Message,
			Details: p.Details,
		})
	}

	if msg == "" {
		return finish(&Error{Kind: KindUnknown, Code: CodeUnknown, Message: "unknown error"})
	}
	return finish(&Error{Kind: KindNative, Code: CodeUnknown, Message: msg})
}

// ClassifyWire normalizes a decoded backend error payload.
func ClassifyWire(code, message, details string) *Error {
	if message == "" {
		message = "unknown error"
	}
	k := KindStructured
	if code == "" {
		code = CodeUnknown
		k = KindUnknown
	}
	return finish(&Error{Kind: k, Code: code, Message: message, Details: details})
}

func parseWire(s string) (wirePayload, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") {
		return wirePayload{}, false
	}
	var p wirePayload
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return wirePayload{}, false
	}
	if p.Message == "" && p.Error != "" {
		p.Message = p.Error
	}
	if p.Code == "" || p.Message == "" {
		return wirePayload{}, false
	}
	return p, true
}

func finish(e *Error) *Error {
	e.Retryable = retryable(e.Code, e.Message)
	return e
}

func retryable(code, message string) bool {
	if _, ok := retryableCodes[code]; ok {
		return true
	}
	m := strings.ToLower(message)
	for _, sig := range retryableSignatures {
		if strings.Contains(m, sig) {
			return true
		}
	}
	return false
}
