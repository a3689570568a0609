package model

// RawApprovalEvent is the normalized representation of an ERC20 Approval log.
type RawApprovalEvent struct {
	TokenAddress   string `json:"token_address"`
	OwnerAddress   string `json:"owner_address"`
	SpenderAddress string `json:"spender_address"`
	Value          string `json:"value"`
	BlockNumber    uint64 `json:"block_number"`
	BlockHash      string `json:"block_hash"`
	LogIndex       uint64 `json:"log_index"`
	TxHash         string `json:"tx_hash"`
	Timestamp      uint64 `json:"timestamp,omitempty"`
}
