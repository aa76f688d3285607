package network

import (
	"fmt"
	"jewl-sol/internal/config"
	"jewl-sol/internal/consts"
	"jewl-sol/internal/pkg/types"

	"github.com/blocto/solana-go-sdk/common"
)

// Network 描述一个集群上用到的全部程序与 mint 地址，启动时构造一次后只读注入各组件
type Network struct {
	Cluster string

	ProgramID                types.Pubkey // jewl 分配程序
	MetadataProgramID        types.Pubkey
	TokenProgramID           types.Pubkey
	Token2022ProgramID       types.Pubkey
	AssociatedTokenProgramID types.Pubkey
	SystemProgramID          types.Pubkey

	SolMint  types.Pubkey
	UsdcMint types.Pubkey
	UsdtMint types.Pubkey

	ExternalURL string // 链下 metadata 要求的 external_url，为空不校验
}

func base() Network {
	return Network{
		ProgramID:                types.PubkeyFromBase58(consts.JewlProgramStr),
		MetadataProgramID:        types.PubkeyFromBase58(consts.TokenMetaProgramIdStr),
		TokenProgramID:           types.PubkeyFromBase58(consts.TokenProgramStr),
		Token2022ProgramID:       types.PubkeyFromBase58(consts.TokenProgram2022Str),
		AssociatedTokenProgramID: types.PubkeyFromBase58(consts.AssociatedTokenProgramStr),
		SystemProgramID:          types.PubkeyFromBase58(consts.SystemProgramStr),
		SolMint:                  types.PubkeyFromBase58(consts.WSOLMintStr),
	}
}

func Mainnet() Network {
	n := base()
	n.Cluster = consts.ClusterMainnet
	n.UsdcMint = types.PubkeyFromBase58(consts.USDCMintStr)
	n.UsdtMint = types.PubkeyFromBase58(consts.USDTMintStr)
	return n
}

// Devnet 上没有官方 USDT，两个稳定币槽位都指向 devnet USDC
func Devnet() Network {
	n := base()
	n.Cluster = consts.ClusterDevnet
	n.UsdcMint = types.PubkeyFromBase58(consts.DevnetUSDCMintStr)
	n.UsdtMint = n.UsdcMint
	return n
}

func Testnet() Network {
	n := Devnet()
	n.Cluster = consts.ClusterTestnet
	return n
}

// Localnet 的 mint 需要通过配置覆盖
func Localnet() Network {
	n := base()
	n.Cluster = consts.ClusterLocalnet
	return n
}

func Preset(cluster string) (Network, error) {
	switch cluster {
	case consts.ClusterMainnet, "":
		return Mainnet(), nil
	case consts.ClusterDevnet:
		return Devnet(), nil
	case consts.ClusterTestnet:
		return Testnet(), nil
	case consts.ClusterLocalnet:
		return Localnet(), nil
	default:
		return Network{}, fmt.Errorf("unknown cluster %q", cluster)
	}
}

// FromConfig 以集群预设为基础，应用配置中的地址覆盖
func FromConfig(c config.NetworkConfig) (Network, error) {
	n, err := Preset(c.Cluster)
	if err != nil {
		return Network{}, err
	}

	overrides := []struct {
		name string
		val  string
		dst  *types.Pubkey
	}{
		{"program_id", c.ProgramID, &n.ProgramID},
		{"metadata_program_id", c.MetadataProgramID, &n.MetadataProgramID},
		{"token_program_id", c.TokenProgramID, &n.TokenProgramID},
		{"token_2022_program_id", c.Token2022ProgramID, &n.Token2022ProgramID},
		{"associated_token_program_id", c.AssociatedTokenProgram, &n.AssociatedTokenProgramID},
		{"sol_mint", c.SolMint, &n.SolMint},
		{"usdc_mint", c.UsdcMint, &n.UsdcMint},
		{"usdt_mint", c.UsdtMint, &n.UsdtMint},
	}
	for _, o := range overrides {
		if o.val == "" {
			continue
		}
		key, err := types.TryPubkeyFromBase58(o.val)
		if err != nil {
			return Network{}, fmt.Errorf("network.%s: %w", o.name, err)
		}
		*o.dst = key
	}
	n.ExternalURL = c.ExternalURL
	return n, nil
}

// IsTokenProgram 判断 owner 是否为 SPL Token 或 Token-2022 程序
func (n Network) IsTokenProgram(owner types.Pubkey) bool {
	return owner == n.TokenProgramID || owner == n.Token2022ProgramID
}

func findPDA(seeds [][]byte, program types.Pubkey) (types.Pubkey, error) {
	addr, _, err := common.FindProgramAddress(seeds, program.ToCommon())
	if err != nil {
		return types.Pubkey{}, fmt.Errorf("find program address: %w", err)
	}
	return types.PubkeyFromCommon(addr), nil
}

// FeeConfigAddress 全局费率配置 PDA，seeds = ["fee"]
func (n Network) FeeConfigAddress() (types.Pubkey, error) {
	return findPDA([][]byte{[]byte("fee")}, n.ProgramID)
}

// AllocationAddress 某个 NFT 对应的分配账户 PDA，seeds = ["allocation", mint]
func (n Network) AllocationAddress(nftMint types.Pubkey) (types.Pubkey, error) {
	return findPDA([][]byte{[]byte("allocation"), nftMint[:]}, n.ProgramID)
}

// AssociatedTokenAddress seeds = [owner, tokenProgram, mint]，tokenProgram 为零值时使用 SPL Token
func (n Network) AssociatedTokenAddress(owner, mint, tokenProgram types.Pubkey) (types.Pubkey, error) {
	if tokenProgram.IsZero() {
		tokenProgram = n.TokenProgramID
	}
	return findPDA([][]byte{owner[:], tokenProgram[:], mint[:]}, n.AssociatedTokenProgramID)
}

// MetadataAddress Metaplex metadata PDA，seeds = ["metadata", metadataProgram, mint]
func (n Network) MetadataAddress(mint types.Pubkey) (types.Pubkey, error) {
	return findPDA([][]byte{[]byte("metadata"), n.MetadataProgramID[:], mint[:]}, n.MetadataProgramID)
}

// ClusterFromGenesis 根据 genesis hash 判断集群，未知 hash 视为 localnet
func ClusterFromGenesis(genesisHash string) string {
	switch genesisHash {
	case consts.DevnetGenesisHash:
		return consts.ClusterDevnet
	case consts.TestnetGenesisHash:
		return consts.ClusterTestnet
	case consts.MainnetGenesisHash:
		return consts.ClusterMainnet
	default:
		return consts.ClusterLocalnet
	}
}
