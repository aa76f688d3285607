package reader

import (
	"context"
	"errors"
	"fmt"
	"jewl-sol/internal/cache"
	"jewl-sol/internal/chain"
	"jewl-sol/internal/codec"
	"jewl-sol/internal/consts"
	"jewl-sol/internal/network"
	"jewl-sol/internal/pkg/types"
	"time"
)

var ErrFeeConfigNotFound = errors.New("fee config account not found")

type Chain interface {
	GetGenesisHash(ctx context.Context) (string, error)
	GetTokenAccountsByOwner(ctx context.Context, owner, programID types.Pubkey) ([]chain.KeyedAccount, error)
}

type AccountFetcher interface {
	FetchKeys(ctx context.Context, keys []types.Pubkey) ([]*chain.AccountInfo, error)
}

const (
	metadataTTL = 5 * time.Minute
	clusterTTL  = 24 * time.Hour
)

// Reader 链上状态读取：费率配置、分配账户、token 账户、metadata
type Reader struct {
	net     network.Network
	chain   Chain
	fetcher AccountFetcher
	http    HTTPDoer

	offchainTTL time.Duration

	metadata *cache.TTLCache[*codec.Metadata]
	offchain *cache.TTLCache[*OffchainMetadata]
	cluster  *cache.TTLCache[string]
}

type Option func(*Reader)

func WithHTTPDoer(d HTTPDoer) Option {
	return func(r *Reader) {
		if d != nil {
			r.http = d
		}
	}
}

// WithOffchainTTL 链下 metadata 的缓存时长
func WithOffchainTTL(d time.Duration) Option {
	return func(r *Reader) {
		if d > 0 {
			r.offchainTTL = d
		}
	}
}

// WithCacheOptions 作用于链下 metadata 缓存（可挂 Redis 二级缓存、single-flight）
func WithCacheOptions(opts ...cache.Option) Option {
	return func(r *Reader) {
		r.offchain = cache.New[*OffchainMetadata](append([]cache.Option{cache.WithName("offchain_metadata")}, opts...)...)
	}
}

func New(net network.Network, c Chain, fetcher AccountFetcher, opts ...Option) *Reader {
	r := &Reader{
		net:         net,
		chain:       c,
		fetcher:     fetcher,
		http:        httpcDoer{},
		offchainTTL: consts.DefaultCacheTTL,
		metadata:    cache.New[*codec.Metadata](cache.WithName("token_metadata")),
		offchain:    cache.New[*OffchainMetadata](cache.WithName("offchain_metadata")),
		cluster:     cache.New[string](cache.WithName("cluster"), cache.WithSingleFlight()),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reader) Network() network.Network {
	return r.net
}

// DetectCluster 通过 genesis hash 判断 RPC 节点所在集群，结果按进程缓存
func (r *Reader) DetectCluster(ctx context.Context) (string, error) {
	return r.cluster.Get(ctx, "genesis", clusterTTL, func(ctx context.Context) (string, error) {
		hash, err := r.chain.GetGenesisHash(ctx)
		if err != nil {
			return "", fmt.Errorf("get genesis hash: %w", err)
		}
		return network.ClusterFromGenesis(hash), nil
	})
}

func (r *Reader) GetFeeConfig(ctx context.Context) (*FeeConfigView, error) {
	addr, err := r.net.FeeConfigAddress()
	if err != nil {
		return nil, err
	}
	infos, err := r.fetcher.FetchKeys(ctx, []types.Pubkey{addr})
	if err != nil {
		return nil, err
	}
	if infos[0] == nil {
		return nil, ErrFeeConfigNotFound
	}
	cfg, err := codec.DecodeFeeConfig(r.net.ProgramID, infos[0].Owner, infos[0].Data)
	if err != nil {
		return nil, fmt.Errorf("fee config %s: %w", addr, err)
	}
	return &FeeConfigView{Address: addr, FeeConfig: *cfg}, nil
}

// GetFeeTokenAccounts 费率配置 PDA 持有的所有 SPL token 账户，IsAta 表示是否为其关联账户
func (r *Reader) GetFeeTokenAccounts(ctx context.Context) ([]*FeeTokenAccount, error) {
	feeConfig, err := r.net.FeeConfigAddress()
	if err != nil {
		return nil, err
	}
	holdings, err := r.getTokenAccountsForOwner(ctx, feeConfig, r.net.TokenProgramID)
	if err != nil {
		return nil, err
	}
	out := make([]*FeeTokenAccount, 0, len(holdings))
	for _, h := range holdings {
		ata, err := r.net.AssociatedTokenAddress(feeConfig, h.Account.Mint, h.ProgramID)
		if err != nil {
			return nil, err
		}
		out = append(out, &FeeTokenAccount{TokenHolding: *h, IsAta: ata == h.Address})
	}
	return out, nil
}

// GetTokenAccounts 批量读取 token 账户及其 mint，输出与输入一一对应，不存在的为 nil
func (r *Reader) GetTokenAccounts(ctx context.Context, addrs []types.Pubkey) ([]*TokenHolding, error) {
	out := make([]*TokenHolding, len(addrs))
	if len(addrs) == 0 {
		return out, nil
	}
	infos, err := r.fetcher.FetchKeys(ctx, addrs)
	if err != nil {
		return nil, err
	}

	accounts := make([]*codec.TokenAccount, len(addrs))
	mints := make([]types.Pubkey, 0, len(addrs))
	mintIndex := make([]int, len(addrs))
	for i, info := range infos {
		mintIndex[i] = -1
		if info == nil {
			continue
		}
		acc, err := codec.DecodeTokenAccount(r.expectedTokenProgram(info.Owner), info.Owner, info.Data)
		if err != nil {
			return nil, fmt.Errorf("token account %s: %w", addrs[i], err)
		}
		accounts[i] = acc
		mintIndex[i] = len(mints)
		mints = append(mints, acc.Mint)
	}

	mintInfos, err := r.fetcher.FetchKeys(ctx, mints)
	if err != nil {
		return nil, err
	}
	for i, acc := range accounts {
		if acc == nil {
			continue
		}
		mintInfo := mintInfos[mintIndex[i]]
		if mintInfo == nil {
			continue
		}
		mint, err := codec.DecodeMint(r.expectedTokenProgram(mintInfo.Owner), mintInfo.Owner, mintInfo.Data)
		if err != nil {
			return nil, fmt.Errorf("mint %s: %w", acc.Mint, err)
		}
		out[i] = &TokenHolding{Address: addrs[i], ProgramID: infos[i].Owner, Account: *acc, Mint: *mint}
	}
	return out, nil
}

// GetTokenAccountsForOwner owner 在指定 token 程序下的全部 token 账户
func (r *Reader) GetTokenAccountsForOwner(ctx context.Context, owner, programID types.Pubkey) ([]*TokenHolding, error) {
	return r.getTokenAccountsForOwner(ctx, owner, programID)
}

// GetNonFungibleTokenAccountsForOwner 只保留 NFT mint（supply 为 1、精度为 0）
func (r *Reader) GetNonFungibleTokenAccountsForOwner(ctx context.Context, owner, programID types.Pubkey) ([]*TokenHolding, error) {
	all, err := r.getTokenAccountsForOwner(ctx, owner, programID)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, h := range all {
		if h.Mint.IsNonFungible() {
			out = append(out, h)
		}
	}
	return out, nil
}

func (r *Reader) getTokenAccountsForOwner(ctx context.Context, owner, programID types.Pubkey) ([]*TokenHolding, error) {
	keyed, err := r.chain.GetTokenAccountsByOwner(ctx, owner, programID)
	if err != nil {
		return nil, fmt.Errorf("get token accounts by owner %s: %w", owner, err)
	}
	accounts := make([]*codec.TokenAccount, len(keyed))
	mints := make([]types.Pubkey, len(keyed))
	for i, k := range keyed {
		acc, err := codec.DecodeTokenAccount(programID, k.Account.Owner, k.Account.Data)
		if err != nil {
			return nil, fmt.Errorf("token account %s: %w", k.Address, err)
		}
		accounts[i] = acc
		mints[i] = acc.Mint
	}

	mintInfos, err := r.fetcher.FetchKeys(ctx, mints)
	if err != nil {
		return nil, err
	}
	out := make([]*TokenHolding, 0, len(keyed))
	for i, info := range mintInfos {
		if info == nil {
			continue
		}
		mint, err := codec.DecodeMint(programID, info.Owner, info.Data)
		if err != nil {
			return nil, fmt.Errorf("mint %s: %w", mints[i], err)
		}
		out = append(out, &TokenHolding{Address: keyed[i].Address, ProgramID: programID, Account: *accounts[i], Mint: *mint})
	}
	return out, nil
}

func (r *Reader) expectedTokenProgram(owner types.Pubkey) types.Pubkey {
	if r.net.IsTokenProgram(owner) {
		return owner
	}
	return r.net.TokenProgramID
}
