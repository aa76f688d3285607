package chain

import (
	"context"
	"encoding/base64"
	"fmt"
	"jewl-sol/internal/consts"
	"jewl-sol/internal/pkg/types"
	"jewl-sol/pkg/logger"
	"time"

	"github.com/blocto/solana-go-sdk/rpc"
	"github.com/zeromicro/go-zero/core/jsonx"
)

// SolanaClient 基于 SDK 的 JSON-RPC 传输层实现 Client，请求与响应结构在本包内定义
type SolanaClient struct {
	rpc          rpc.RpcClient
	timeout      time.Duration
	pollInterval time.Duration
	commitment   string
}

type Option func(*SolanaClient)

func WithTimeout(d time.Duration) Option {
	return func(c *SolanaClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(c *SolanaClient) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

func WithCommitment(commitment string) Option {
	return func(c *SolanaClient) {
		if commitment != "" {
			c.commitment = commitment
		}
	}
}

func NewSolanaClient(endpoint string, opts ...Option) *SolanaClient {
	c := &SolanaClient{
		rpc:          rpc.NewRpcClient(endpoint),
		timeout:      10 * time.Second,
		pollInterval: consts.ConfirmPollInterval,
		commitment:   CommitmentConfirmed,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type rpcResponse[T any] struct {
	Result T         `json:"result"`
	Error  *RPCError `json:"error"`
}

type contextValue[T any] struct {
	Value T `json:"value"`
}

// call 发起一次 JSON-RPC 请求并解码 result
func call[T any](ctx context.Context, c *SolanaClient, method string, params ...any) (T, error) {
	var zero T
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := c.rpc.Call(ctx, append([]any{method}, params...)...)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", method, err)
	}
	var resp rpcResponse[T]
	if err := jsonx.Unmarshal(body, &resp); err != nil {
		return zero, fmt.Errorf("%s: decode response: %w", method, err)
	}
	if resp.Error != nil {
		return zero, fmt.Errorf("%s: %w", method, resp.Error)
	}
	return resp.Result, nil
}

func (c *SolanaClient) GetLatestBlockhash(ctx context.Context) (Checkpoint, error) {
	type value struct {
		Blockhash            string `json:"blockhash"`
		LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
	}
	res, err := call[contextValue[value]](ctx, c, "getLatestBlockhash", map[string]any{"commitment": c.commitment})
	if err != nil {
		return Checkpoint{}, err
	}
	hash, err := types.HashFromBase58(res.Value.Blockhash)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("getLatestBlockhash: %w", err)
	}
	return Checkpoint{Blockhash: hash.String(), LastValidBlockHeight: res.Value.LastValidBlockHeight}, nil
}

func (c *SolanaClient) GetBlockHeight(ctx context.Context) (uint64, error) {
	return call[uint64](ctx, c, "getBlockHeight", map[string]any{"commitment": c.commitment})
}

type rpcAccount struct {
	Lamports   uint64   `json:"lamports"`
	Owner      string   `json:"owner"`
	Data       []string `json:"data"` // [payload, encoding]
	Executable bool     `json:"executable"`
}

func (a *rpcAccount) toAccountInfo() (*AccountInfo, error) {
	if a == nil {
		return nil, nil
	}
	owner, err := types.TryPubkeyFromBase58(a.Owner)
	if err != nil {
		return nil, err
	}
	var data []byte
	if len(a.Data) > 0 && a.Data[0] != "" {
		if data, err = base64.StdEncoding.DecodeString(a.Data[0]); err != nil {
			return nil, fmt.Errorf("decode account data: %w", err)
		}
	}
	return &AccountInfo{Owner: owner, Lamports: a.Lamports, Data: data, Executable: a.Executable}, nil
}

// GetMultipleAccounts 不存在的账户返回 nil，结果与 addrs 一一对应
func (c *SolanaClient) GetMultipleAccounts(ctx context.Context, addrs []types.Pubkey) ([]*AccountInfo, error) {
	if len(addrs) == 0 {
		return nil, nil
	}
	res, err := call[contextValue[[]*rpcAccount]](ctx, c, "getMultipleAccounts",
		types.PubkeyStrings(addrs),
		map[string]any{"encoding": "base64", "commitment": c.commitment},
	)
	if err != nil {
		return nil, err
	}
	if len(res.Value) != len(addrs) {
		return nil, fmt.Errorf("getMultipleAccounts: 返回账户数与请求不一致: got=%d want=%d", len(res.Value), len(addrs))
	}
	out := make([]*AccountInfo, len(addrs))
	for i, acc := range res.Value {
		if out[i], err = acc.toAccountInfo(); err != nil {
			return nil, fmt.Errorf("getMultipleAccounts: account %s: %w", addrs[i], err)
		}
	}
	return out, nil
}

func (c *SolanaClient) SimulateTransaction(ctx context.Context, tx []byte, cfg SimulateConfig) (*SimulateResult, error) {
	type value struct {
		Err           any      `json:"err"`
		Logs          []string `json:"logs"`
		UnitsConsumed *uint64  `json:"unitsConsumed"`
	}
	res, err := call[contextValue[value]](ctx, c, "simulateTransaction",
		base64.StdEncoding.EncodeToString(tx),
		map[string]any{
			"encoding":               "base64",
			"commitment":             c.commitment,
			"sigVerify":              cfg.SigVerify,
			"replaceRecentBlockhash": cfg.ReplaceRecentBlockhash,
		},
	)
	if err != nil {
		return nil, err
	}
	out := &SimulateResult{Err: res.Value.Err, Logs: res.Value.Logs}
	if res.Value.UnitsConsumed != nil {
		out.UnitsConsumed = *res.Value.UnitsConsumed
	}
	return out, nil
}

func (c *SolanaClient) GetRecentPrioritizationFees(ctx context.Context, addrs []types.Pubkey) ([]PrioritizationFee, error) {
	type item struct {
		Slot              uint64 `json:"slot"`
		PrioritizationFee uint64 `json:"prioritizationFee"`
	}
	res, err := call[[]item](ctx, c, "getRecentPrioritizationFees", types.PubkeyStrings(addrs))
	if err != nil {
		return nil, err
	}
	out := make([]PrioritizationFee, 0, len(res))
	for _, it := range res {
		out = append(out, PrioritizationFee{Slot: it.Slot, Fee: it.PrioritizationFee})
	}
	return out, nil
}

func (c *SolanaClient) SendTransaction(ctx context.Context, tx []byte, cfg SendConfig) (string, error) {
	opts := map[string]any{
		"encoding":            "base64",
		"skipPreflight":       cfg.SkipPreflight,
		"preflightCommitment": c.commitment,
	}
	if cfg.MaxRetries != nil {
		opts["maxRetries"] = *cfg.MaxRetries
	}
	return call[string](ctx, c, "sendTransaction", base64.StdEncoding.EncodeToString(tx), opts)
}

func (c *SolanaClient) GetSignatureStatuses(ctx context.Context, signatures []string) ([]*SignatureStatus, error) {
	type status struct {
		Slot               uint64  `json:"slot"`
		Confirmations      *uint64 `json:"confirmations"`
		Err                any     `json:"err"`
		ConfirmationStatus string  `json:"confirmationStatus"`
	}
	res, err := call[contextValue[[]*status]](ctx, c, "getSignatureStatuses", signatures)
	if err != nil {
		return nil, err
	}
	out := make([]*SignatureStatus, len(signatures))
	for i, s := range res.Value {
		if i >= len(out) || s == nil {
			continue
		}
		out[i] = &SignatureStatus{
			Slot:               s.Slot,
			Confirmations:      s.Confirmations,
			Err:                s.Err,
			ConfirmationStatus: s.ConfirmationStatus,
		}
	}
	return out, nil
}

// ConfirmTransaction 轮询签名状态直到 confirmed，或区块高度超过 cp 的有效窗口（ErrBlockHeightExceeded），
// 或 ctx 结束。轮询中的临时网络错误只记录日志
func (c *SolanaClient) ConfirmTransaction(ctx context.Context, signature string, cp Checkpoint) (*ConfirmResult, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		statuses, err := c.GetSignatureStatuses(ctx, []string{signature})
		if err != nil {
			logger.Warnf("[SolanaClient] getSignatureStatuses failed: sig=%s, err=%v", signature, err)
		} else if len(statuses) == 1 && statuses[0] != nil && statuses[0].Confirmed() {
			return &ConfirmResult{Slot: statuses[0].Slot, Err: statuses[0].Err}, nil
		}

		height, err := c.GetBlockHeight(ctx)
		if err != nil {
			logger.Warnf("[SolanaClient] getBlockHeight failed: sig=%s, err=%v", signature, err)
		} else if height > cp.LastValidBlockHeight {
			return nil, fmt.Errorf("%w: sig=%s height=%d lastValid=%d", ErrBlockHeightExceeded, signature, height, cp.LastValidBlockHeight)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *SolanaClient) GetParsedTransaction(ctx context.Context, signature string) (*TransactionInfo, error) {
	type result struct {
		Slot      uint64 `json:"slot"`
		BlockTime *int64 `json:"blockTime"`
		Meta      *struct {
			Err         any      `json:"err"`
			LogMessages []string `json:"logMessages"`
		} `json:"meta"`
	}
	res, err := call[*result](ctx, c, "getTransaction", signature, map[string]any{
		"encoding":                       "jsonParsed",
		"commitment":                     c.commitment,
		"maxSupportedTransactionVersion": 0,
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	info := &TransactionInfo{Slot: res.Slot, BlockTime: res.BlockTime}
	if res.Meta != nil {
		info.Err = res.Meta.Err
		info.Logs = res.Meta.LogMessages
	}
	return info, nil
}

func (c *SolanaClient) GetGenesisHash(ctx context.Context) (string, error) {
	return call[string](ctx, c, "getGenesisHash")
}

func (c *SolanaClient) GetTokenAccountsByOwner(ctx context.Context, owner, programID types.Pubkey) ([]KeyedAccount, error) {
	type item struct {
		Pubkey  string      `json:"pubkey"`
		Account *rpcAccount `json:"account"`
	}
	res, err := call[contextValue[[]item]](ctx, c, "getTokenAccountsByOwner",
		owner.String(),
		map[string]any{"programId": programID.String()},
		map[string]any{"encoding": "base64", "commitment": c.commitment},
	)
	if err != nil {
		return nil, err
	}
	out := make([]KeyedAccount, 0, len(res.Value))
	for _, it := range res.Value {
		addr, err := types.TryPubkeyFromBase58(it.Pubkey)
		if err != nil {
			return nil, fmt.Errorf("getTokenAccountsByOwner: %w", err)
		}
		acc, err := it.Account.toAccountInfo()
		if err != nil {
			return nil, fmt.Errorf("getTokenAccountsByOwner: account %s: %w", addr, err)
		}
		out = append(out, KeyedAccount{Address: addr, Account: acc})
	}
	return out, nil
}
