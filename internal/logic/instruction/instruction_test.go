package instruction

import (
	"encoding/binary"
	"jewl-sol/internal/codec"
	"jewl-sol/internal/network"
	"jewl-sol/internal/pkg/types"
	"testing"

	sdktypes "github.com/blocto/solana-go-sdk/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func key(b byte) types.Pubkey {
	var k types.Pubkey
	for i := range k {
		k[i] = b
	}
	return k
}

func metaAt(t *testing.T, ix sdktypes.Instruction, i int) (types.Pubkey, bool, bool) {
	t.Helper()
	require.Less(t, i, len(ix.Accounts))
	m := ix.Accounts[i]
	return types.PubkeyFromCommon(m.PubKey), m.IsSigner, m.IsWritable
}

func TestInitializeFee(t *testing.T) {
	net := network.Devnet()
	b := NewBuilder(net)
	payer := key(1)

	bps := uint16(250)
	withdraw := key(9)
	ix, err := b.InitializeFee(InitializeFeeParams{Payer: payer, FeeBps: &bps, FeeWithdrawAuthority: &withdraw})
	require.NoError(t, err)

	assert.Equal(t, net.ProgramID, types.PubkeyFromCommon(ix.ProgramID))
	disc := codec.InstructionDiscriminator("initialize_fee")
	require.GreaterOrEqual(t, len(ix.Data), 8)
	assert.Equal(t, disc[:], ix.Data[:8])

	// Some(250) | None | Some(withdraw)
	want := []byte{1, 250, 0, 0, 1}
	want = append(want, withdraw[:]...)
	assert.Equal(t, want, ix.Data[8:])

	feeConfig, err := net.FeeConfigAddress()
	require.NoError(t, err)
	require.Len(t, ix.Accounts, 3)
	k, isSigner, isWritable := metaAt(t, ix, 0)
	assert.Equal(t, payer, k)
	assert.True(t, isSigner)
	assert.True(t, isWritable)
	k, _, isWritable = metaAt(t, ix, 1)
	assert.Equal(t, feeConfig, k)
	assert.True(t, isWritable)
	k, _, isWritable = metaAt(t, ix, 2)
	assert.Equal(t, net.SystemProgramID, k)
	assert.False(t, isWritable)
}

func TestWithdrawFeeDefaults(t *testing.T) {
	net := network.Devnet()
	b := NewBuilder(net)
	payer := key(1)

	ix, err := b.WithdrawFee(WithdrawFeeParams{Payer: payer, TokenMint: net.UsdcMint})
	require.NoError(t, err)
	assert.Equal(t, []byte{0}, ix.Data[8:])
	require.Len(t, ix.Accounts, 8)

	feeConfig, _ := net.FeeConfigAddress()
	feeATA, err := net.AssociatedTokenAddress(feeConfig, net.UsdcMint, types.Pubkey{})
	require.NoError(t, err)
	k, _, isWritable := metaAt(t, ix, 4)
	assert.Equal(t, feeATA, k)
	assert.True(t, isWritable)
	// fee_config 只读
	_, _, isWritable = metaAt(t, ix, 1)
	assert.False(t, isWritable)

	amount := uint64(42)
	custom := key(7)
	ix, err = b.WithdrawFee(WithdrawFeeParams{Payer: payer, TokenMint: net.UsdcMint, FeeTokenAccount: &custom, Amount: &amount})
	require.NoError(t, err)
	want := make([]byte, 9)
	want[0] = 1
	binary.LittleEndian.PutUint64(want[1:], amount)
	assert.Equal(t, want, ix.Data[8:])
	k, _, _ = metaAt(t, ix, 4)
	assert.Equal(t, custom, k)
}

func TestInitializeAllocation(t *testing.T) {
	net := network.Devnet()
	b := NewBuilder(net)
	payer, nft := key(1), key(2)

	ix, err := b.InitializeAllocation(InitializeAllocationParams{Payer: payer, NFTMint: nft})
	require.NoError(t, err)
	assert.Equal(t, []byte{0}, ix.Data[8:])
	require.Len(t, ix.Accounts, 8)

	nftToken, err := net.AssociatedTokenAddress(payer, nft, net.Token2022ProgramID)
	require.NoError(t, err)
	alloc, err := net.AllocationAddress(nft)
	require.NoError(t, err)
	k, _, isWritable := metaAt(t, ix, 3)
	assert.Equal(t, nftToken, k)
	assert.True(t, isWritable)
	k, _, _ = metaAt(t, ix, 4)
	assert.Equal(t, alloc, k)
	k, _, _ = metaAt(t, ix, 6)
	assert.Equal(t, net.Token2022ProgramID, k)
}

func TestIncreaseDecreaseShareLayout(t *testing.T) {
	net := network.Devnet()
	b := NewBuilder(net)
	p := AllocationAmountParams{Payer: key(1), NFTMint: key(2), TokenMint: net.UsdcMint, Amount: 1_500_000}

	inc, err := b.IncreaseAllocation(p)
	require.NoError(t, err)
	dec, err := b.DecreaseAllocation(p)
	require.NoError(t, err)

	assert.Equal(t, inc.Accounts, dec.Accounts)
	assert.NotEqual(t, inc.Data[:8], dec.Data[:8])
	assert.Equal(t, inc.Data[8:], dec.Data[8:])
	assert.Equal(t, uint64(1_500_000), binary.LittleEndian.Uint64(inc.Data[8:]))
	require.Len(t, inc.Accounts, 11)

	alloc, _ := net.AllocationAddress(key(2))
	allocATA, err := net.AssociatedTokenAddress(alloc, net.UsdcMint, types.Pubkey{})
	require.NoError(t, err)
	k, _, isWritable := metaAt(t, inc, 6)
	assert.Equal(t, allocATA, k)
	assert.True(t, isWritable)
}

func TestExerciseAllocationDefaultsToSol(t *testing.T) {
	net := network.Devnet()
	b := NewBuilder(net)

	ix, err := b.ExerciseAllocation(ExerciseAllocationParams{
		Payer:      key(1),
		NFTMint:    key(2),
		TokenMints: [3]types.Pubkey{net.UsdcMint},
	})
	require.NoError(t, err)
	assert.Len(t, ix.Data, 8)
	require.Len(t, ix.Accounts, 5+3*4+4)

	k, _, _ := metaAt(t, ix, 5)
	assert.Equal(t, net.UsdcMint, k)
	k, _, _ = metaAt(t, ix, 9)
	assert.Equal(t, net.SolMint, k)
	k, _, _ = metaAt(t, ix, 13)
	assert.Equal(t, net.SolMint, k)
	k, _, _ = metaAt(t, ix, len(ix.Accounts)-1)
	assert.Equal(t, net.AssociatedTokenProgramID, k)
}
