package codec

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"jewl-sol/internal/pkg/types"

	"github.com/near/borsh-go"
)

const DiscriminatorSize = 8

// Discriminator Anchor 风格的 8 字节前缀：sha256("<namespace>:<name>")[:8]
func Discriminator(namespace, name string) [DiscriminatorSize]byte {
	sum := sha256.Sum256([]byte(namespace + ":" + name))
	var d [DiscriminatorSize]byte
	copy(d[:], sum[:DiscriminatorSize])
	return d
}

func AccountDiscriminator(name string) [DiscriminatorSize]byte {
	return Discriminator("account", name)
}

func InstructionDiscriminator(name string) [DiscriminatorSize]byte {
	return Discriminator("global", name)
}

var (
	feeConfigDiscriminator  = AccountDiscriminator("FeeConfigAccount")
	allocationDiscriminator = AccountDiscriminator("AllocationAccount")
)

const (
	FeeConfigSize  = DiscriminatorSize + 1 + 32 + 32 + 2
	AllocationSize = DiscriminatorSize + 1 + 32 + 32 + 3*(32+8)
)

// FeeConfig 全局费率配置账户，字段顺序与链上结构一致
type FeeConfig struct {
	Initialized          bool
	FeeAuthority         types.Pubkey
	FeeWithdrawAuthority types.Pubkey
	FeeBps               uint16
}

// Allocation 单个 NFT 绑定的三种代币分配
type Allocation struct {
	Initialized       bool
	DecreaseAuthority types.Pubkey
	RecoverAuthority  types.Pubkey
	FirstTokenMint    types.Pubkey
	FirstTokenAmount  uint64
	SecondTokenMint   types.Pubkey
	SecondTokenAmount uint64
	ThirdTokenMint    types.Pubkey
	ThirdTokenAmount  uint64
}

type TokenSlot struct {
	Mint   types.Pubkey
	Amount uint64
}

func (a *Allocation) Tokens() [3]TokenSlot {
	return [3]TokenSlot{
		{Mint: a.FirstTokenMint, Amount: a.FirstTokenAmount},
		{Mint: a.SecondTokenMint, Amount: a.SecondTokenAmount},
		{Mint: a.ThirdTokenMint, Amount: a.ThirdTokenAmount},
	}
}

func decodeAnchor(name string, disc [DiscriminatorSize]byte, size int, data []byte, out any) error {
	if len(data) < size {
		return truncated(name, size, len(data))
	}
	if !bytes.Equal(data[:DiscriminatorSize], disc[:]) {
		return fmt.Errorf("%w: %s discriminator %x", ErrInvalidDiscriminant, name, data[:DiscriminatorSize])
	}
	if err := borsh.Deserialize(out, data[DiscriminatorSize:size]); err != nil {
		return fmt.Errorf("%s borsh decode: %w", name, err)
	}
	return nil
}

func encodeAnchor(name string, disc [DiscriminatorSize]byte, size int, in any) ([]byte, error) {
	body, err := borsh.Serialize(in)
	if err != nil {
		return nil, fmt.Errorf("%s borsh encode: %w", name, err)
	}
	out := make([]byte, 0, size)
	out = append(out, disc[:]...)
	out = append(out, body...)
	if len(out) != size {
		return nil, fmt.Errorf("%s encoded size %d, want %d", name, len(out), size)
	}
	return out, nil
}

func DecodeFeeConfig(expectedOwner, actualOwner types.Pubkey, data []byte) (*FeeConfig, error) {
	if err := CheckOwner(expectedOwner, actualOwner); err != nil {
		return nil, err
	}
	var v FeeConfig
	if err := decodeAnchor("FeeConfigAccount", feeConfigDiscriminator, FeeConfigSize, data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func EncodeFeeConfig(v *FeeConfig) ([]byte, error) {
	return encodeAnchor("FeeConfigAccount", feeConfigDiscriminator, FeeConfigSize, *v)
}

func DecodeAllocation(expectedOwner, actualOwner types.Pubkey, data []byte) (*Allocation, error) {
	if err := CheckOwner(expectedOwner, actualOwner); err != nil {
		return nil, err
	}
	var v Allocation
	if err := decodeAnchor("AllocationAccount", allocationDiscriminator, AllocationSize, data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func EncodeAllocation(v *Allocation) ([]byte, error) {
	return encodeAnchor("AllocationAccount", allocationDiscriminator, AllocationSize, *v)
}
