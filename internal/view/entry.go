// Package view derives presentable approval entries from published pipeline
// snapshots. Entries are immutable records: the amounts in base units are
// pure functions of the stored fields, and user selection/edit state lives
// in a separate overlay keyed by (token, spender) identity.
package view

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"approvalScope/internal/erc20"
	"approvalScope/internal/model"
	"approvalScope/internal/wei"
)

// InputMode selects how the edited amount of an entry is produced.
type InputMode string

const (
	ModeRevoke    InputMode = "revoke"
	ModeUnlimited InputMode = "unlimited"
	ModeCustom    InputMode = "custom"
)

// EntryID identifies one (token, spender) pair across pipeline runs.
func EntryID(token, spender string) string {
	return strings.ToLower(token) + ":" + strings.ToLower(spender)
}

// Entry is one approval prepared for presentation.
type Entry struct {
	TokenAddress   string                      `json:"token_address"`
	SpenderAddress string                      `json:"spender_address"`
	Token          model.TokenInfo             `json:"token"`
	CurrentAmount  decimal.Decimal             `json:"current_amount"`
	EditedAmount   string                      `json:"edited_amount"`
	Mode           InputMode                   `json:"input_mode"`
	Selected       bool                        `json:"selected"`
	Unlimited      bool                        `json:"unlimited"`
	Transactions   []model.ApprovalTransaction `json:"transactions"`
}

// ID returns the entry's pair identity.
func (e Entry) ID() string {
	return EntryID(e.TokenAddress, e.SpenderAddress)
}

// CurrentAmountWei recomputes the current allowance in base units.
func (e Entry) CurrentAmountWei() (*big.Int, error) {
	return wei.ToBaseUnits(e.CurrentAmount.String(), e.Token.Decimals)
}

// EditedAmountWei recomputes the edited amount in base units.
func (e Entry) EditedAmountWei() (*big.Int, error) {
	return wei.ToBaseUnits(e.EditedAmount, e.Token.Decimals)
}

// Filters control which entries the derivation emits.
type Filters struct {
	HideRevoked     bool
	HideZeroBalance bool
}

// Derive builds entries from Stage A approvals joined with Stage B token
// data. Approvals whose token has no resolved metadata are dropped: without
// decimals no amount is meaningful. Tokens and balances are keyed by
// lowercase address.
func Derive(
	approvals []model.AccumulatedApproval,
	tokens map[string]model.TokenInfo,
	balances map[string]*big.Int,
	overlay *Overlay,
	filters Filters,
) []Entry {
	entries := make([]Entry, 0, len(approvals))
	for _, approval := range approvals {
		key := strings.ToLower(approval.TokenAddress)
		info, ok := tokens[key]
		if !ok {
			continue
		}

		allowance, ok := new(big.Int).SetString(approval.Allowance, 10)
		if !ok {
			continue
		}
		current := wei.FromBaseUnits(allowance, info.Decimals)

		if filters.HideRevoked && current.IsZero() {
			continue
		}
		if filters.HideZeroBalance {
			if balance, known := balances[key]; known && balance.Sign() == 0 {
				continue
			}
		}

		state := overlay.Get(EntryID(approval.TokenAddress, approval.SpenderAddress))
		entries = append(entries, Entry{
			TokenAddress:   approval.TokenAddress,
			SpenderAddress: approval.SpenderAddress,
			Token:          info,
			CurrentAmount:  current,
			EditedAmount:   state.EditedAmount,
			Mode:           state.Mode,
			Selected:       state.Selected,
			Unlimited:      wei.IsUnlimited(allowance),
			Transactions:   approval.Transactions,
		})
	}
	return entries
}

// Selected returns the entries marked selected.
func Selected(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if entry.Selected {
			out = append(out, entry)
		}
	}
	return out
}

// AllSelected reports whether every entry is selected.
func AllSelected(entries []Entry) bool {
	for _, entry := range entries {
		if !entry.Selected {
			return false
		}
	}
	return len(entries) > 0
}

// ApproveCall is the calldata for one approval edit, ready to be handed to
// an external transaction flow.
type ApproveCall struct {
	To    string        `json:"to"`
	Value string        `json:"value"`
	Data  hexutil.Bytes `json:"data"`
}

// BuildApproveCalls encodes approve(spender, editedAmount) for each entry.
func BuildApproveCalls(entries []Entry) ([]ApproveCall, error) {
	parsed, err := erc20.ABI()
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}

	calls := make([]ApproveCall, 0, len(entries))
	for _, entry := range entries {
		amount, err := entry.EditedAmountWei()
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", entry.ID(), err)
		}
		data, err := parsed.Pack("approve", addressOf(entry.SpenderAddress), amount)
		if err != nil {
			return nil, fmt.Errorf("pack approve %s: %w", entry.ID(), err)
		}
		calls = append(calls, ApproveCall{
			To:    entry.TokenAddress,
			Value: "0",
			Data:  data,
		})
	}
	return calls, nil
}
