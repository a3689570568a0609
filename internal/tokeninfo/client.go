// Package tokeninfo loads ERC20 metadata, preferring the token metadata
// service and degrading to live decimals()/symbol() reads when the service
// is absent or does not know the token.
package tokeninfo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"approvalScope/internal/erc20"
	"approvalScope/internal/model"
)

const defaultCacheSize = 1024

// ContractCaller provides the eth_call read used for chain fallback.
// *chain.Client satisfies it.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Config holds client settings.
type Config struct {
	// BaseURL of the metadata service; empty disables the service and the
	// client always reads from chain.
	BaseURL   string
	CacheSize int
	Timeout   time.Duration
}

// Client fetches and caches token metadata.
type Client struct {
	cfg        Config
	httpClient *http.Client
	caller     ContractCaller
	cache      *lru.Cache[common.Address, model.TokenInfo]
	logger     *zap.Logger
}

// NewClient builds a Client with its dependencies.
func NewClient(cfg Config, caller ContractCaller, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	cache, err := lru.New[common.Address, model.TokenInfo](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		caller:     caller,
		cache:      cache,
		logger:     logger,
	}, nil
}

// TokenInfo returns metadata for token. Decimals are mandatory: a token
// whose decimals cannot be determined is an error.
func (c *Client) TokenInfo(ctx context.Context, token common.Address) (model.TokenInfo, error) {
	if info, ok := c.cache.Get(token); ok {
		return info, nil
	}

	if c.cfg.BaseURL != "" {
		if info, err := c.fetchRemote(ctx, token); err == nil {
			c.cache.Add(token, info)
			return info, nil
		} else {
			c.logger.Debug("metadata service miss, falling back to chain",
				zap.String("token", token.Hex()),
				zap.Error(err),
			)
		}
	}

	info, err := c.fetchChain(ctx, token)
	if err != nil {
		return model.TokenInfo{}, err
	}
	c.cache.Add(token, info)
	return info, nil
}

// BalanceOf returns the owner's current token balance in base units.
func (c *Client) BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	if c.caller == nil {
		return nil, fmt.Errorf("contract caller is nil")
	}

	parsed, err := erc20.ABI()
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	values, err := erc20.Call(ctx, c.caller, token, parsed, "balanceOf", holder)
	if err != nil {
		return nil, err
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balance type %T", values[0])
	}
	return balance, nil
}

func (c *Client) fetchRemote(ctx context.Context, token common.Address) (model.TokenInfo, error) {
	url := fmt.Sprintf("%s/tokens/%s", strings.TrimRight(c.cfg.BaseURL, "/"), token.Hex())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return model.TokenInfo{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.TokenInfo{}, fmt.Errorf("fetch token info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.TokenInfo{}, fmt.Errorf("token info status %d", resp.StatusCode)
	}

	var info model.TokenInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return model.TokenInfo{}, fmt.Errorf("decode token info: %w", err)
	}
	if info.Address == "" {
		info.Address = token.Hex()
	}
	return info, nil
}

// fetchChain reads decimals/symbol/name via ERC20 calls, trying the bytes32
// ABI variant for tokens with non-standard symbol/name returns.
func (c *Client) fetchChain(ctx context.Context, token common.Address) (model.TokenInfo, error) {
	if c.caller == nil {
		return model.TokenInfo{}, fmt.Errorf("contract caller is nil")
	}

	stringABI, err := erc20.ABI()
	if err != nil {
		return model.TokenInfo{}, fmt.Errorf("parse erc20 abi: %w", err)
	}
	bytes32ABI, err := erc20.Bytes32ABI()
	if err != nil {
		return model.TokenInfo{}, fmt.Errorf("parse erc20 bytes32 abi: %w", err)
	}

	info := model.TokenInfo{Address: token.Hex(), Type: "ERC20"}

	values, err := erc20.Call(ctx, c.caller, token, stringABI, "decimals")
	if err != nil {
		return model.TokenInfo{}, fmt.Errorf("decimals %s: %w", token.Hex(), err)
	}
	decimals, err := erc20.ToDecimals(values[0])
	if err != nil {
		return model.TokenInfo{}, fmt.Errorf("decimals %s: %w", token.Hex(), err)
	}
	info.Decimals = decimals

	if values, err := erc20.Call(ctx, c.caller, token, stringABI, "symbol"); err == nil {
		if symbol, ok := values[0].(string); ok {
			info.Symbol = symbol
		}
	} else if values, err := erc20.Call(ctx, c.caller, token, bytes32ABI, "symbol"); err == nil {
		if symbol, ok := bytes32ToString(values[0]); ok {
			info.Symbol = symbol
		}
	} else {
		c.logger.Debug("symbol call failed", zap.String("token", token.Hex()), zap.Error(err))
	}

	if values, err := erc20.Call(ctx, c.caller, token, stringABI, "name"); err == nil {
		if name, ok := values[0].(string); ok {
			info.Name = name
		}
	} else if values, err := erc20.Call(ctx, c.caller, token, bytes32ABI, "name"); err == nil {
		if name, ok := bytes32ToString(values[0]); ok {
			info.Name = name
		}
	} else {
		c.logger.Debug("name call failed", zap.String("token", token.Hex()), zap.Error(err))
	}

	return info, nil
}

func bytes32ToString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case [32]byte:
		return string(bytes.TrimRight(v[:], "\x00")), true
	case []byte:
		return string(bytes.TrimRight(v, "\x00")), true
	default:
		return "", false
	}
}
