package codec

import (
	"fmt"
	"jewl-sol/internal/pkg/types"

	"github.com/blocto/solana-go-sdk/common"
	sdktoken "github.com/blocto/solana-go-sdk/program/token"
)

// SPL Token 基础布局长度，Token-2022 账户在其后追加扩展数据
const (
	TokenAccountSize = 165
	MintSize         = 82
)

type TokenAccount struct {
	Mint            types.Pubkey
	Owner           types.Pubkey
	Amount          uint64
	Delegate        Option[types.Pubkey]
	State           uint8
	IsNative        Option[uint64]
	DelegatedAmount uint64
	CloseAuthority  Option[types.Pubkey]
}

type Mint struct {
	MintAuthority   Option[types.Pubkey]
	Supply          uint64
	Decimals        uint8
	IsInitialized   bool
	FreezeAuthority Option[types.Pubkey]
}

// IsNonFungible supply 为 1 且精度为 0 视为 NFT
func (m *Mint) IsNonFungible() bool {
	return m.Supply == 1 && m.Decimals == 0
}

func optionalKey(k *common.PublicKey) Option[types.Pubkey] {
	if k == nil {
		return None[types.Pubkey]()
	}
	return Some(types.PubkeyFromCommon(*k))
}

// DecodeTokenAccount 解析 SPL Token / Token-2022 token 账户的基础部分
func DecodeTokenAccount(expectedOwner, actualOwner types.Pubkey, data []byte) (*TokenAccount, error) {
	if err := CheckOwner(expectedOwner, actualOwner); err != nil {
		return nil, err
	}
	if len(data) < TokenAccountSize {
		return nil, truncated("token account", TokenAccountSize, len(data))
	}
	acc, err := sdktoken.TokenAccountFromData(data[:TokenAccountSize])
	if err != nil {
		return nil, fmt.Errorf("%w: token account: %v", ErrInvalidDiscriminant, err)
	}
	out := &TokenAccount{
		Mint:            types.PubkeyFromCommon(acc.Mint),
		Owner:           types.PubkeyFromCommon(acc.Owner),
		Amount:          acc.Amount,
		Delegate:        optionalKey(acc.Delegate),
		State:           uint8(acc.State),
		DelegatedAmount: acc.DelegatedAmount,
		CloseAuthority:  optionalKey(acc.CloseAuthority),
	}
	if acc.IsNative != nil {
		out.IsNative = Some(*acc.IsNative)
	}
	return out, nil
}

func DecodeMint(expectedOwner, actualOwner types.Pubkey, data []byte) (*Mint, error) {
	if err := CheckOwner(expectedOwner, actualOwner); err != nil {
		return nil, err
	}
	if len(data) < MintSize {
		return nil, truncated("mint", MintSize, len(data))
	}
	mint, err := sdktoken.MintAccountFromData(data[:MintSize])
	if err != nil {
		return nil, fmt.Errorf("%w: mint: %v", ErrInvalidDiscriminant, err)
	}
	return &Mint{
		MintAuthority:   optionalKey(mint.MintAuthority),
		Supply:          mint.Supply,
		Decimals:        mint.Decimals,
		IsInitialized:   mint.IsInitialized,
		FreezeAuthority: optionalKey(mint.FreezeAuthority),
	}, nil
}
