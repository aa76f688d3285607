package txwire

import (
	"bytes"
	"errors"
	"fmt"
	"jewl-sol/internal/pkg/types"

	"github.com/blocto/solana-go-sdk/pkg/bincode"
	sdktypes "github.com/blocto/solana-go-sdk/types"
	"github.com/mr-tron/base58"
)

const SignatureLength = 64

var ErrMalformed = errors.New("malformed transaction")

// Wire 已序列化交易的解析结果。Message 引用原始字节中的消息区，
// 用于判断签名前后消息是否被修改（不能用重新序列化的结果比较）
type Wire struct {
	Tx      sdktypes.Transaction
	Message []byte
}

// Parse 使用 SDK 反序列化交易，并切出原始消息区
func Parse(raw []byte) (*Wire, error) {
	tx, err := sdktypes.TransactionDeserialize(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	offset := len(bincode.UintToVarLenBytes(uint64(len(tx.Signatures)))) + len(tx.Signatures)*SignatureLength
	return &Wire{Tx: tx, Message: raw[offset:]}, nil
}

// Signers 消息中需要签名的账户，顺序与签名槽位一致
func (w *Wire) Signers() []types.Pubkey {
	n := int(w.Tx.Message.Header.NumRequireSignatures)
	out := make([]types.Pubkey, 0, n)
	for _, k := range w.Tx.Message.Accounts[:n] {
		out = append(out, types.PubkeyFromCommon(k))
	}
	return out
}

// IsSigned 所有签名槽位均非零
func (w *Wire) IsSigned() bool {
	zero := make([]byte, SignatureLength)
	for _, s := range w.Tx.Signatures {
		if bytes.Equal(s, zero) {
			return false
		}
	}
	return len(w.Tx.Signatures) > 0
}

// Signature 交易 id：第一个签名（fee payer）的 base58
func (w *Wire) Signature() string {
	if len(w.Tx.Signatures) == 0 {
		return ""
	}
	return base58.Encode(w.Tx.Signatures[0])
}

// SerializeUnsigned 序列化消息，签名槽位全部置零
func SerializeUnsigned(msg sdktypes.Message) ([]byte, error) {
	sigs := make([]sdktypes.Signature, msg.Header.NumRequireSignatures)
	for i := range sigs {
		sigs[i] = make([]byte, SignatureLength)
	}
	tx := sdktypes.Transaction{Signatures: sigs, Message: msg}
	out, err := tx.Serialize()
	if err != nil {
		return nil, fmt.Errorf("serialize transaction: %w", err)
	}
	return out, nil
}
