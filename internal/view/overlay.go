package view

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"approvalScope/internal/wei"
)

// EntryState is the user-controlled part of one entry.
type EntryState struct {
	Selected     bool
	EditedAmount string
	Mode         InputMode
}

func defaultState() EntryState {
	return EntryState{EditedAmount: "0", Mode: ModeRevoke}
}

// Overlay stores selection and edit state keyed by pair identity, separate
// from the derived entries it decorates. It survives recomputation of the
// same run and is reset wholesale when a new pipeline run publishes.
type Overlay struct {
	mu     sync.RWMutex
	states map[string]EntryState
}

// NewOverlay builds an empty overlay.
func NewOverlay() *Overlay {
	return &Overlay{states: make(map[string]EntryState)}
}

// Get returns the state for id, defaulting to an unselected revoke edit.
func (o *Overlay) Get(id string) EntryState {
	id = strings.ToLower(id)
	o.mu.RLock()
	defer o.mu.RUnlock()
	state, ok := o.states[id]
	if !ok {
		return defaultState()
	}
	return state
}

// SetSelected marks the entry's selection.
func (o *Overlay) SetSelected(id string, selected bool) {
	o.update(id, func(state *EntryState) {
		state.Selected = selected
	})
}

// ToggleSelected flips the entry's selection.
func (o *Overlay) ToggleSelected(id string) {
	o.update(id, func(state *EntryState) {
		state.Selected = !state.Selected
	})
}

// SetEditedAmount stores a custom edited amount.
func (o *Overlay) SetEditedAmount(id, amount string) {
	o.update(id, func(state *EntryState) {
		state.EditedAmount = amount
		state.Mode = ModeCustom
	})
}

// SetMode switches the input mode and recomputes the edited amount for the
// revoke and unlimited presets. Custom leaves the current edit untouched.
func (o *Overlay) SetMode(id string, mode InputMode, decimals uint8) {
	o.update(id, func(state *EntryState) {
		state.Mode = mode
		switch mode {
		case ModeRevoke:
			state.EditedAmount = "0"
		case ModeUnlimited:
			state.EditedAmount = wei.FromBaseUnits(wei.MaxUint256, decimals).String()
		case ModeCustom:
		}
	})
}

func (o *Overlay) update(id string, fn func(*EntryState)) {
	id = strings.ToLower(id)
	o.mu.Lock()
	defer o.mu.Unlock()
	state, ok := o.states[id]
	if !ok {
		state = defaultState()
	}
	fn(&state)
	o.states[id] = state
}

// Reset drops all selection and edit state.
func (o *Overlay) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = make(map[string]EntryState)
}

func addressOf(hex string) common.Address {
	return common.HexToAddress(hex)
}
