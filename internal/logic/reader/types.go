package reader

import (
	"jewl-sol/internal/codec"
	"jewl-sol/internal/pkg/types"
)

type FeeConfigView struct {
	Address types.Pubkey
	codec.FeeConfig
}

// TokenHolding token 账户及其 mint 信息
type TokenHolding struct {
	Address   types.Pubkey
	ProgramID types.Pubkey
	Account   codec.TokenAccount
	Mint      codec.Mint
}

type FeeTokenAccount struct {
	TokenHolding
	IsAta bool
}

// AllocationView 分配账户以及三个代币槽位的实际余额（allocation PDA 的关联账户）
type AllocationView struct {
	Address types.Pubkey
	NFTMint types.Pubkey
	Holding *TokenHolding // 钱包持有该 NFT 的 token 账户，按 mint 查询时为 nil
	codec.Allocation
	Balances [3]*TokenHolding // 与 Allocation.Tokens() 顺序一致，账户不存在为 nil
}

// OffchainMetadata NFT 的链下 JSON metadata
type OffchainMetadata struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Description string `json:"description"`
	Image       string `json:"image"`
	ExternalURL string `json:"external_url"`
}
