package model

// TokenInfo captures ERC20 metadata from the token service or chain fallback.
type TokenInfo struct {
	Type     string `json:"type"`
	Address  string `json:"address"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
	LogoURI  string `json:"logoUri"`
}
