package instruction

import (
	"fmt"
	"jewl-sol/internal/codec"
	"jewl-sol/internal/network"
	"jewl-sol/internal/pkg/types"

	sdktypes "github.com/blocto/solana-go-sdk/types"
	"github.com/near/borsh-go"
)

var (
	initializeFeeDisc        = codec.InstructionDiscriminator("initialize_fee")
	withdrawFeeDisc          = codec.InstructionDiscriminator("withdraw_fee")
	initializeAllocationDisc = codec.InstructionDiscriminator("initialize_allocation")
	increaseAllocationDisc   = codec.InstructionDiscriminator("increase_allocation")
	decreaseAllocationDisc   = codec.InstructionDiscriminator("decrease_allocation")
	exerciseAllocationDisc   = codec.InstructionDiscriminator("exercise_allocation")
)

// 可选参数使用指针，borsh 编码为 Option（1 字节标记 + 值）
type initializeFeeArgs struct {
	FeeBps               *uint16
	FeeAuthority         *types.Pubkey
	FeeWithdrawAuthority *types.Pubkey
}

type withdrawFeeArgs struct {
	Amount *uint64
}

type initializeAllocationArgs struct {
	Authority *types.Pubkey
}

type amountArgs struct {
	Amount uint64
}

func encodeData(name string, disc [codec.DiscriminatorSize]byte, args any) ([]byte, error) {
	data := append([]byte{}, disc[:]...)
	if args == nil {
		return data, nil
	}
	body, err := borsh.Serialize(args)
	if err != nil {
		return nil, fmt.Errorf("%s borsh encode: %w", name, err)
	}
	return append(data, body...), nil
}

func writable(k types.Pubkey) sdktypes.AccountMeta {
	return sdktypes.AccountMeta{PubKey: k.ToCommon(), IsWritable: true}
}

func readonly(k types.Pubkey) sdktypes.AccountMeta {
	return sdktypes.AccountMeta{PubKey: k.ToCommon()}
}

func signer(k types.Pubkey) sdktypes.AccountMeta {
	return sdktypes.AccountMeta{PubKey: k.ToCommon(), IsSigner: true, IsWritable: true}
}

// Builder 按集群地址构造 jewl 程序指令
type Builder struct {
	net network.Network
}

func NewBuilder(net network.Network) *Builder {
	return &Builder{net: net}
}

func (b *Builder) build(name string, disc [codec.DiscriminatorSize]byte, args any, accounts []sdktypes.AccountMeta) (sdktypes.Instruction, error) {
	data, err := encodeData(name, disc, args)
	if err != nil {
		return sdktypes.Instruction{}, err
	}
	return sdktypes.Instruction{
		ProgramID: b.net.ProgramID.ToCommon(),
		Accounts:  accounts,
		Data:      data,
	}, nil
}

type InitializeFeeParams struct {
	Payer                types.Pubkey
	FeeBps               *uint16
	FeeAuthority         *types.Pubkey
	FeeWithdrawAuthority *types.Pubkey
}

// InitializeFee 首次调用创建费率配置，之后由 fee authority 修改任意字段
func (b *Builder) InitializeFee(p InitializeFeeParams) (sdktypes.Instruction, error) {
	feeConfig, err := b.net.FeeConfigAddress()
	if err != nil {
		return sdktypes.Instruction{}, err
	}
	args := initializeFeeArgs{FeeBps: p.FeeBps, FeeAuthority: p.FeeAuthority, FeeWithdrawAuthority: p.FeeWithdrawAuthority}
	return b.build("initialize_fee", initializeFeeDisc, args, []sdktypes.AccountMeta{
		signer(p.Payer),
		writable(feeConfig),
		readonly(b.net.SystemProgramID),
	})
}

type WithdrawFeeParams struct {
	Payer           types.Pubkey
	TokenMint       types.Pubkey
	FeeTokenAccount *types.Pubkey // 为空时使用费率配置 PDA 的关联账户
	Amount          *uint64       // 为空时提取全部
}

func (b *Builder) WithdrawFee(p WithdrawFeeParams) (sdktypes.Instruction, error) {
	feeConfig, err := b.net.FeeConfigAddress()
	if err != nil {
		return sdktypes.Instruction{}, err
	}
	signerATA, err := b.net.AssociatedTokenAddress(p.Payer, p.TokenMint, b.net.TokenProgramID)
	if err != nil {
		return sdktypes.Instruction{}, err
	}
	var feeATA types.Pubkey
	if p.FeeTokenAccount != nil {
		feeATA = *p.FeeTokenAccount
	} else if feeATA, err = b.net.AssociatedTokenAddress(feeConfig, p.TokenMint, b.net.TokenProgramID); err != nil {
		return sdktypes.Instruction{}, err
	}
	return b.build("withdraw_fee", withdrawFeeDisc, withdrawFeeArgs{Amount: p.Amount}, []sdktypes.AccountMeta{
		signer(p.Payer),
		readonly(feeConfig),
		readonly(p.TokenMint),
		writable(signerATA),
		writable(feeATA),
		readonly(b.net.SystemProgramID),
		readonly(b.net.TokenProgramID),
		readonly(b.net.AssociatedTokenProgramID),
	})
}

type InitializeAllocationParams struct {
	Payer     types.Pubkey
	NFTMint   types.Pubkey
	Authority *types.Pubkey // decrease authority，为空时为 payer
}

// InitializeAllocation 铸造 Token-2022 NFT 并创建对应的分配账户
func (b *Builder) InitializeAllocation(p InitializeAllocationParams) (sdktypes.Instruction, error) {
	feeConfig, allocation, err := b.allocationAccounts(p.NFTMint)
	if err != nil {
		return sdktypes.Instruction{}, err
	}
	nftToken, err := b.net.AssociatedTokenAddress(p.Payer, p.NFTMint, b.net.Token2022ProgramID)
	if err != nil {
		return sdktypes.Instruction{}, err
	}
	return b.build("initialize_allocation", initializeAllocationDisc, initializeAllocationArgs{Authority: p.Authority}, []sdktypes.AccountMeta{
		signer(p.Payer),
		readonly(feeConfig),
		writable(p.NFTMint),
		writable(nftToken),
		writable(allocation),
		readonly(b.net.SystemProgramID),
		readonly(b.net.Token2022ProgramID),
		readonly(b.net.AssociatedTokenProgramID),
	})
}

type AllocationAmountParams struct {
	Payer     types.Pubkey
	NFTMint   types.Pubkey
	TokenMint types.Pubkey
	Amount    uint64
}

func (b *Builder) IncreaseAllocation(p AllocationAmountParams) (sdktypes.Instruction, error) {
	return b.amountInstruction("increase_allocation", increaseAllocationDisc, p)
}

func (b *Builder) DecreaseAllocation(p AllocationAmountParams) (sdktypes.Instruction, error) {
	return b.amountInstruction("decrease_allocation", decreaseAllocationDisc, p)
}

// increase / decrease 的账户布局相同，只有 discriminator 不同
func (b *Builder) amountInstruction(name string, disc [codec.DiscriminatorSize]byte, p AllocationAmountParams) (sdktypes.Instruction, error) {
	feeConfig, allocation, err := b.allocationAccounts(p.NFTMint)
	if err != nil {
		return sdktypes.Instruction{}, err
	}
	atas, err := b.tokenAccounts(p.Payer, allocation, feeConfig, p.TokenMint)
	if err != nil {
		return sdktypes.Instruction{}, err
	}
	return b.build(name, disc, amountArgs{Amount: p.Amount}, []sdktypes.AccountMeta{
		signer(p.Payer),
		readonly(feeConfig),
		readonly(p.NFTMint),
		writable(allocation),
		readonly(p.TokenMint),
		writable(atas[0]),
		writable(atas[1]),
		writable(atas[2]),
		readonly(b.net.SystemProgramID),
		readonly(b.net.TokenProgramID),
		readonly(b.net.AssociatedTokenProgramID),
	})
}

type ExerciseAllocationParams struct {
	Payer   types.Pubkey
	NFTMint types.Pubkey
	// 三个槽位的 mint，零值使用 SOL mint
	TokenMints [3]types.Pubkey
}

// ExerciseAllocation 销毁 NFT 并把三个槽位的代币转给持有人
func (b *Builder) ExerciseAllocation(p ExerciseAllocationParams) (sdktypes.Instruction, error) {
	feeConfig, allocation, err := b.allocationAccounts(p.NFTMint)
	if err != nil {
		return sdktypes.Instruction{}, err
	}
	nftToken, err := b.net.AssociatedTokenAddress(p.Payer, p.NFTMint, b.net.Token2022ProgramID)
	if err != nil {
		return sdktypes.Instruction{}, err
	}

	accounts := []sdktypes.AccountMeta{
		signer(p.Payer),
		readonly(feeConfig),
		writable(p.NFTMint),
		writable(nftToken),
		writable(allocation),
	}
	for _, mint := range p.TokenMints {
		if mint.IsZero() {
			mint = b.net.SolMint
		}
		atas, err := b.tokenAccounts(p.Payer, allocation, feeConfig, mint)
		if err != nil {
			return sdktypes.Instruction{}, err
		}
		accounts = append(accounts, readonly(mint), writable(atas[0]), writable(atas[1]), writable(atas[2]))
	}
	accounts = append(accounts,
		readonly(b.net.SystemProgramID),
		readonly(b.net.TokenProgramID),
		readonly(b.net.Token2022ProgramID),
		readonly(b.net.AssociatedTokenProgramID),
	)
	return b.build("exercise_allocation", exerciseAllocationDisc, nil, accounts)
}

func (b *Builder) allocationAccounts(nftMint types.Pubkey) (feeConfig, allocation types.Pubkey, err error) {
	if feeConfig, err = b.net.FeeConfigAddress(); err != nil {
		return
	}
	allocation, err = b.net.AllocationAddress(nftMint)
	return
}

// tokenAccounts 返回 [signer, allocation, feeConfig] 在 SPL Token 下的关联账户
func (b *Builder) tokenAccounts(payer, allocation, feeConfig, mint types.Pubkey) ([3]types.Pubkey, error) {
	var out [3]types.Pubkey
	for i, owner := range []types.Pubkey{payer, allocation, feeConfig} {
		ata, err := b.net.AssociatedTokenAddress(owner, mint, b.net.TokenProgramID)
		if err != nil {
			return out, err
		}
		out[i] = ata
	}
	return out, nil
}
