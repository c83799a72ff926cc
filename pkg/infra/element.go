package infra

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// State is the lifecycle state of a transaction on the ledger
type State string

const (
	StateInitialized State = "INITIALIZED"
	StateSubmitted   State = "SUBMITTED"
	StateFailed      State = "FAILED"
	StateCompleted   State = "COMPLETED"
)

// ParseState accepts a state name in any case
func ParseState(s string) (State, error) {
	switch st := State(strings.ToUpper(strings.TrimSpace(s))); st {
	case StateInitialized, StateSubmitted, StateFailed, StateCompleted:
		return st, nil
	default:
		return "", errors.Errorf("unknown transaction state %q", s)
	}
}

// Terminal reports whether the ledger will not move the transaction any further
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

func (s State) String() string {
	return string(s)
}

// Record is a read-only snapshot of a transaction as reported by the service
type Record struct {
	ID        string
	Method    string
	CreatedAt time.Time
	Block     string
	Sender    string
	TxHash    string
	Inputs    map[string]interface{}
	State     State
	Error     string
}

// CallOutcome identifies a successfully submitted call. RequestID is the
// handle used to fetch the resulting Record.
type CallOutcome struct {
	RequestID string
}

// Attachment is a file uploaded alongside a method call. Content is held
// in memory so that a fresh descriptor request can upload it again.
type Attachment struct {
	Name     string
	MimeType string
	Content  []byte
}

// Call contains the data for the whole lifecycle of a queued method call
type Call struct {
	ID          uuid.UUID
	Method      string
	Params      map[string]interface{}
	Attachments []Attachment
	Handler     Handler
}

func newCall(method string, params map[string]interface{}, attachments []Attachment, handler Handler) *Call {
	return &Call{
		ID:          uuid.New(),
		Method:      method,
		Params:      params,
		Attachments: attachments,
		Handler:     handler,
	}
}
