package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// State is the position of a QR payment in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateRequesting
	StateDisplaying
	StateQuerying
	StateSucceeded
	StateDeclined
	StateCancelled
)

var stateNames = map[State]string{
	StateIdle:       "idle",
	StateRequesting: "requesting",
	StateDisplaying: "displaying",
	StateQuerying:   "querying",
	StateSucceeded:  "succeeded",
	StateDeclined:   "declined",
	StateCancelled:  "cancelled",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText lets snapshots serialize the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IsTerminal reports whether no further transitions can happen.
func (s State) IsTerminal() bool {
	switch s {
	case StateSucceeded, StateDeclined, StateCancelled:
		return true
	default:
		return false
	}
}

// transitions lists every allowed move. Idle -> Displaying is reserved for
// resuming a persisted retrieval reference.
var transitions = map[State][]State{
	StateIdle:       {StateRequesting, StateDisplaying},
	StateRequesting: {StateDisplaying, StateDeclined},
	StateDisplaying: {StateSucceeded, StateQuerying, StateCancelled},
	StateQuerying:   {StateSucceeded, StateDeclined, StateCancelled},
}

var ErrInvalidTransition = errors.New("invalid state transition")

// TransitionError describes a rejected state change.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move payment from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// CanTransitionTo returns nil if moving from s to target is allowed.
// Terminal states never allow a transition.
func (s State) CanTransitionTo(target State) error {
	for _, allowed := range transitions[s] {
		if allowed == target {
			return nil
		}
	}
	return &TransitionError{From: s, To: target}
}

// QueryTrigger records which timeout sent a payment to the status query.
type QueryTrigger string

const (
	TriggerNone           QueryTrigger = ""
	TriggerCountdown      QueryTrigger = "countdown"
	TriggerChannelTimeout QueryTrigger = "channel_timeout"
	TriggerRejected       QueryTrigger = "rejected"
)

// Transaction is a snapshot of a single QR payment attempt.
type Transaction struct {
	TransactionID      string          `json:"transactionId"`
	Amount             decimal.Decimal `json:"amount"`
	Mobile             string          `json:"mobile,omitempty"`
	RetrievalReference string          `json:"retrievalReference,omitempty"`
	QRImageBase64      string          `json:"qrImageBase64,omitempty"`
	// ResponseCode stays empty until the gateway has answered.
	ResponseCode     string       `json:"responseCode,omitempty"`
	NetworkStatus    int          `json:"networkStatus"`
	RemainingSeconds int          `json:"remainingSeconds"`
	TotalSeconds     int          `json:"totalSeconds"`
	State            State        `json:"state"`
	Message          string       `json:"message,omitempty"`
	QueryTrigger     QueryTrigger `json:"queryTrigger,omitempty"`
	Resumed          bool         `json:"resumed,omitempty"`
	StartedAt        time.Time    `json:"startedAt"`
	CompletedAt      time.Time    `json:"completedAt,omitempty"`
}

// IsTerminal reports whether the transaction has reached its final state.
func (t Transaction) IsTerminal() bool {
	return t.State.IsTerminal()
}
