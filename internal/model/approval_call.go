package model

// DecodedApprovalCall is one approve call recovered from transaction calldata,
// either directly or unpacked from a multiSend batch. Block position and
// timestamp come from the Approval log the call was matched against.
type DecodedApprovalCall struct {
	TokenAddress   string `json:"token_address"`
	SpenderAddress string `json:"spender_address"`
	Value          string `json:"value"`
	TxHash         string `json:"tx_hash"`
	BlockNumber    uint64 `json:"block_number"`
	LogIndex       uint64 `json:"log_index"`
	Timestamp      uint64 `json:"timestamp,omitempty"`
}
