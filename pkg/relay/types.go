package relay

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// State is the relay-side lifecycle state of a submitted task.
type State string

const (
	StateNew       State = "STATE_NEW"
	StateExecuted  State = "STATE_EXECUTED"
	StateMined     State = "STATE_MINED"
	StateConfirmed State = "STATE_CONFIRMED"
	StateFailed    State = "STATE_FAILED"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateMined || s == StateConfirmed || s == StateFailed
}

// Succeeded reports whether the state is a successful terminal state.
func (s State) Succeeded() bool {
	return s == StateMined || s == StateConfirmed
}

// Transaction is a single contract call inside a relay batch.
type Transaction struct {
	To    common.Address `json:"to"`
	Data  string         `json:"data"`
	Value string         `json:"value"`
}

// Settlement is the terminal outcome of a relay task.
type Settlement struct {
	TransactionID   string         `json:"transactionID"`
	State           State          `json:"state"`
	TxHash          string         `json:"transactionHash"`
	DeployedAddress common.Address `json:"deployedAddress"`
}

// ErrUnauthorized indicates the relay rejected our session credential. This
// is a deployment/configuration problem, not something a retry can fix.
var ErrUnauthorized = errors.New("relay: unauthorized session")

// TaskError is returned when a relay task reaches a failed terminal state.
type TaskError struct {
	TransactionID string
	Label         string
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("relay: task %s (%s) failed", e.TransactionID, e.Label)
}
