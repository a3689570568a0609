package model

// ApprovalTransaction is one historical approval within an accumulated record.
type ApprovalTransaction struct {
	TxHash        string `json:"tx_hash"`
	ExecutionDate string `json:"execution_date,omitempty"`
	Value         string `json:"value"`
}

// AccumulatedApproval is the reconciled state of one (token, spender) pair.
// Allowance is the live-read value, never derived from the transaction history.
type AccumulatedApproval struct {
	TokenAddress   string                `json:"token_address"`
	SpenderAddress string                `json:"spender_address"`
	Allowance      string                `json:"allowance"`
	Decimals       uint8                 `json:"decimals"`
	Transactions   []ApprovalTransaction `json:"transactions"`
}
