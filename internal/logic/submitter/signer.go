package submitter

import (
	"context"
	"errors"
	"fmt"
	"jewl-sol/internal/pkg/txwire"
	"jewl-sol/internal/pkg/types"

	sdktypes "github.com/blocto/solana-go-sdk/types"
)

// Signer 对草稿交易签名并返回完整签名后的交易字节。
// 拒绝签名时返回 error，引擎会原样透传给调用方
type Signer interface {
	Sign(ctx context.Context, draft []byte) ([]byte, error)
}

// SignerFunc 函数适配器
type SignerFunc func(ctx context.Context, draft []byte) ([]byte, error)

func (f SignerFunc) Sign(ctx context.Context, draft []byte) ([]byte, error) {
	return f(ctx, draft)
}

// KeypairSigner 使用本地密钥签名，可携带多个账户（fee payer + 额外签名者）
type KeypairSigner struct {
	accounts []sdktypes.Account
}

func NewKeypairSigner(accounts ...sdktypes.Account) *KeypairSigner {
	return &KeypairSigner{accounts: accounts}
}

// KeypairSignerFromBase58 从 base58 编码的 64 字节私钥构造
func KeypairSignerFromBase58(keys ...string) (*KeypairSigner, error) {
	accounts := make([]sdktypes.Account, 0, len(keys))
	for i, k := range keys {
		acc, err := sdktypes.AccountFromBase58(k)
		if err != nil {
			return nil, fmt.Errorf("invalid keypair #%d: %w", i, err)
		}
		accounts = append(accounts, acc)
	}
	return NewKeypairSigner(accounts...), nil
}

func (s *KeypairSigner) PublicKey() types.Pubkey {
	if len(s.accounts) == 0 {
		return types.Pubkey{}
	}
	return types.PubkeyFromCommon(s.accounts[0].PublicKey)
}

// Sign 对草稿中属于本地账户的签名槽位签名，其余槽位保持原样
func (s *KeypairSigner) Sign(ctx context.Context, draft []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	wire, err := txwire.Parse(draft)
	if err != nil {
		return nil, err
	}

	required := make(map[types.Pubkey]struct{}, len(wire.Tx.Signatures))
	for _, k := range wire.Signers() {
		required[k] = struct{}{}
	}
	tx := wire.Tx
	signed := 0
	for _, acc := range s.accounts {
		if _, ok := required[types.PubkeyFromCommon(acc.PublicKey)]; !ok {
			continue
		}
		if err := tx.AddSignature(acc.Sign(wire.Message)); err != nil {
			return nil, fmt.Errorf("add signature for %s: %w", acc.PublicKey, err)
		}
		signed++
	}
	if signed == 0 {
		return nil, errors.New("no local keypair is a required signer")
	}
	return tx.Serialize()
}
