package craft

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gravitas-games/forge/internal/grid"
	"github.com/gravitas-games/forge/internal/inventory"
	"github.com/gravitas-games/forge/internal/ledger"
	"github.com/gravitas-games/forge/internal/synth"
)

// State is a step of a craft transaction.
type State int

const (
	// StateReceived is the state of a request that has not been looked at yet.
	StateReceived State = iota
	// StateValidating checks the category, the grid and the catalog.
	StateValidating
	// StateInvalid means the request was rejected before touching the ledger.
	StateInvalid
	// StateDeducting runs the ledger's check-and-deduct.
	StateDeducting
	// StateInsufficientMaterial means the owner lacked a material; nothing changed.
	StateInsufficientMaterial
	// StateSynthesizing waits for the synthesizer under its timeout.
	StateSynthesizing
	// StateCommitted means the materials are spent and the item exists.
	StateCommitted
	// StateSynthesisFailed means synthesis errored, timed out or was abandoned.
	StateSynthesisFailed
	// StateCompensating credits the deducted materials back.
	StateCompensating
	// StateRolledBack means the ledger is back to its pre-craft quantities.
	StateRolledBack
	// StateCompensationFailed means the deducted materials could not be
	// credited back. The owner's ledger no longer matches its pre-craft state.
	StateCompensationFailed
	// StateAborted means the ledger failed before deducting anything.
	StateAborted
)

var stateNames = map[State]string{
	StateReceived:             "Received",
	StateValidating:           "Validating",
	StateInvalid:              "Invalid",
	StateDeducting:            "Deducting",
	StateInsufficientMaterial: "InsufficientMaterial",
	StateSynthesizing:         "Synthesizing",
	StateCommitted:            "Committed",
	StateSynthesisFailed:      "SynthesisFailed",
	StateCompensating:         "Compensating",
	StateRolledBack:           "RolledBack",
	StateCompensationFailed:   "CompensationFailed",
	StateAborted:              "Aborted",
}

// String returns a human-readable representation of the state.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "Unknown"
}

// Terminal reports whether no further transition leaves s.
func (s State) Terminal() bool {
	switch s {
	case StateInvalid, StateInsufficientMaterial, StateCommitted, StateRolledBack, StateCompensationFailed, StateAborted:
		return true
	}
	return false
}

// MarshalJSON encodes the state by name.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a state name.
func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for st, n := range stateNames {
		if strings.EqualFold(n, name) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown craft state %q", name)
}

// Request is a parsed craft request.
type Request struct {
	Grid     grid.Grid
	Category synth.Category
}

// Outcome is the result of one Execute call. It is always populated, with a
// terminal State, even when Execute returns an error.
type Outcome struct {
	TxID       uuid.UUID          `json:"transactionId"`
	Owner      inventory.OwnerID  `json:"owner"`
	Category   synth.Category     `json:"category"`
	State      State              `json:"state"`
	Trail      []State            `json:"trail"`
	Consumed   inventory.Counts   `json:"consumed,omitempty"`
	Remaining  inventory.Counts   `json:"remaining,omitempty"`
	Item       *synth.CraftedItem `json:"item,omitempty"`
	Error      string             `json:"error,omitempty"`
	StartedAt  time.Time          `json:"startedAt"`
	FinishedAt time.Time          `json:"finishedAt"`
}

func (o *Outcome) enter(s State) {
	o.State = s
	o.Trail = append(o.Trail, s)
}

// UnknownMaterialError reports grid materials absent from the catalog. No
// ledger operation was attempted.
type UnknownMaterialError struct {
	Materials []inventory.MaterialID
}

func (e *UnknownMaterialError) Error() string {
	ids := make([]string, len(e.Materials))
	for i, id := range e.Materials {
		ids[i] = string(id)
	}
	return "unknown materials: " + strings.Join(ids, ", ")
}

// SynthesisError reports a failure after materials were deducted. Compensated
// tells whether the deduction was credited back; when false, Compensation
// holds the ledger error.
type SynthesisError struct {
	Cause        error
	Compensated  bool
	Compensation error
}

func (e *SynthesisError) Error() string {
	if e.Compensated {
		return fmt.Sprintf("synthesis failed, materials restored: %v", e.Cause)
	}
	return fmt.Sprintf("synthesis failed, materials NOT restored: %v (compensation: %v)", e.Cause, e.Compensation)
}

func (e *SynthesisError) Unwrap() []error {
	if e.Compensation != nil {
		return []error{e.Cause, e.Compensation}
	}
	return []error{e.Cause}
}

// Retryable reports whether resubmitting the same request may succeed.
func (e *SynthesisError) Retryable() bool {
	return e.Compensated
}

// IsRejection reports whether err is an expected, caller-correctable outcome
// that changed no state.
func IsRejection(err error) bool {
	var invalid *grid.InvalidError
	var unknown *UnknownMaterialError
	var short *ledger.InsufficientMaterialError
	return errors.As(err, &invalid) ||
		errors.As(err, &unknown) ||
		errors.As(err, &short) ||
		errors.Is(err, synth.ErrUnknownCategory)
}
