package chain

import (
	"context"
	"errors"
	"fmt"
	"jewl-sol/internal/pkg/types"

	"github.com/zeromicro/go-zero/core/jsonx"
)

// ErrBlockHeightExceeded 当前区块高度已超过交易 blockhash 的有效窗口，交易不可能再上链
var ErrBlockHeightExceeded = errors.New("block height exceeded")

const (
	CommitmentProcessed = "processed"
	CommitmentConfirmed = "confirmed"
	CommitmentFinalized = "finalized"
)

// Checkpoint 交易引用的 recent blockhash 及其最后有效区块高度
type Checkpoint struct {
	Blockhash            string
	LastValidBlockHeight uint64
}

type AccountInfo struct {
	Owner      types.Pubkey
	Lamports   uint64
	Data       []byte
	Executable bool
}

type KeyedAccount struct {
	Address types.Pubkey
	Account *AccountInfo
}

type SimulateConfig struct {
	SigVerify              bool
	ReplaceRecentBlockhash bool
}

type SimulateResult struct {
	Err           any // 链上返回的原始错误结构，nil 表示成功
	Logs          []string
	UnitsConsumed uint64
}

type PrioritizationFee struct {
	Slot uint64
	Fee  uint64 // micro-lamports / compute unit
}

type SendConfig struct {
	SkipPreflight bool
	MaxRetries    *uint64 // nil 使用节点默认重试策略
}

type SignatureStatus struct {
	Slot               uint64
	Confirmations      *uint64
	Err                any
	ConfirmationStatus string
}

// Confirmed 是否已达到 confirmed 及以上
func (s *SignatureStatus) Confirmed() bool {
	return s.ConfirmationStatus == CommitmentConfirmed || s.ConfirmationStatus == CommitmentFinalized
}

type ConfirmResult struct {
	Slot uint64
	Err  any // 执行错误（交易已上链但失败）
}

type TransactionInfo struct {
	Slot      uint64
	BlockTime *int64
	Logs      []string
	Err       any
}

// Client 是核心逻辑依赖的全部链上能力，消费方按需定义更窄的接口
type Client interface {
	GetLatestBlockhash(ctx context.Context) (Checkpoint, error)
	GetBlockHeight(ctx context.Context) (uint64, error)
	GetMultipleAccounts(ctx context.Context, addrs []types.Pubkey) ([]*AccountInfo, error)
	SimulateTransaction(ctx context.Context, tx []byte, cfg SimulateConfig) (*SimulateResult, error)
	GetRecentPrioritizationFees(ctx context.Context, addrs []types.Pubkey) ([]PrioritizationFee, error)
	SendTransaction(ctx context.Context, tx []byte, cfg SendConfig) (string, error)
	GetSignatureStatuses(ctx context.Context, signatures []string) ([]*SignatureStatus, error)
	ConfirmTransaction(ctx context.Context, signature string, cp Checkpoint) (*ConfirmResult, error)
	GetParsedTransaction(ctx context.Context, signature string) (*TransactionInfo, error)
	GetGenesisHash(ctx context.Context) (string, error)
	GetTokenAccountsByOwner(ctx context.Context, owner, programID types.Pubkey) ([]KeyedAccount, error)
}

// RPCError JSON-RPC 层返回的错误
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("rpc error %d: %s (%s)", e.Code, e.Message, FormatErr(e.Data))
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// FormatErr 将链上返回的任意错误结构格式化为 JSON 文本
func FormatErr(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	out, err := jsonx.MarshalToString(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return out
}
