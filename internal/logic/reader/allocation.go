package reader

import (
	"context"
	"fmt"
	"jewl-sol/internal/codec"
	"jewl-sol/internal/pkg/types"
)

// GetAllocation 按 NFT mint 读取分配账户，账户不存在返回 nil
func (r *Reader) GetAllocation(ctx context.Context, nftMint types.Pubkey) (*AllocationView, error) {
	addr, err := r.net.AllocationAddress(nftMint)
	if err != nil {
		return nil, err
	}
	infos, err := r.fetcher.FetchKeys(ctx, []types.Pubkey{addr})
	if err != nil {
		return nil, err
	}
	if infos[0] == nil {
		return nil, nil
	}
	alloc, err := codec.DecodeAllocation(r.net.ProgramID, infos[0].Owner, infos[0].Data)
	if err != nil {
		return nil, fmt.Errorf("allocation %s: %w", addr, err)
	}

	views := []*AllocationView{{Address: addr, NFTMint: nftMint, Allocation: *alloc}}
	if err := r.fillAllocationTokens(ctx, views); err != nil {
		return nil, err
	}
	return views[0], nil
}

// GetAllocations 钱包持有的所有 Token-2022 NFT 对应的分配账户
func (r *Reader) GetAllocations(ctx context.Context, wallet types.Pubkey) ([]*AllocationView, error) {
	holdings, err := r.GetNonFungibleTokenAccountsForOwner(ctx, wallet, r.net.Token2022ProgramID)
	if err != nil {
		return nil, err
	}
	if len(holdings) == 0 {
		return nil, nil
	}

	addrs := make([]types.Pubkey, len(holdings))
	for i, h := range holdings {
		if addrs[i], err = r.net.AllocationAddress(h.Account.Mint); err != nil {
			return nil, err
		}
	}
	infos, err := r.fetcher.FetchKeys(ctx, addrs)
	if err != nil {
		return nil, err
	}

	views := make([]*AllocationView, 0, len(holdings))
	for i, info := range infos {
		if info == nil {
			continue
		}
		alloc, err := codec.DecodeAllocation(r.net.ProgramID, info.Owner, info.Data)
		if err != nil {
			return nil, fmt.Errorf("allocation %s: %w", addrs[i], err)
		}
		views = append(views, &AllocationView{
			Address:    addrs[i],
			NFTMint:    holdings[i].Account.Mint,
			Holding:    holdings[i],
			Allocation: *alloc,
		})
	}
	if err := r.fillAllocationTokens(ctx, views); err != nil {
		return nil, err
	}
	return views, nil
}

// fillAllocationTokens 一次批量读取所有分配账户三个槽位的关联 token 账户
func (r *Reader) fillAllocationTokens(ctx context.Context, views []*AllocationView) error {
	addrs := make([]types.Pubkey, 0, len(views)*3)
	for _, v := range views {
		for _, slot := range v.Allocation.Tokens() {
			ata, err := r.net.AssociatedTokenAddress(v.Address, slot.Mint, types.Pubkey{})
			if err != nil {
				return err
			}
			addrs = append(addrs, ata)
		}
	}
	holdings, err := r.GetTokenAccounts(ctx, addrs)
	if err != nil {
		return err
	}
	for i, v := range views {
		copy(v.Balances[:], holdings[i*3:i*3+3])
	}
	return nil
}
