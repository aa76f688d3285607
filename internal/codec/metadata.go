package codec

import (
	"jewl-sol/internal/pkg/types"
)

// Metaplex Token Metadata v1 账户布局
// 参考: https://github.com/metaplex-foundation/mpl-token-metadata/blob/main/programs/token-metadata/program/src/state/metadata.rs
const (
	NameSlot   = 36  // 4 字节长度 + 32 字节内容
	SymbolSlot = 14  // 4 + 10
	URISlot    = 204 // 4 + 200

	creatorSize = 32 + 1 + 1
)

type Creator struct {
	Address  types.Pubkey
	Verified bool
	Share    uint8
}

type Collection struct {
	Verified bool
	Key      types.Pubkey
}

type Uses struct {
	UseMethod uint8
	Remaining uint64
	Total     uint64
}

type Metadata struct {
	Key                  uint8
	UpdateAuthority      types.Pubkey
	Mint                 types.Pubkey
	Name                 string
	Symbol               string
	URI                  string
	SellerFeeBasisPoints uint16

	Creators Option[[]Creator]

	PrimarySaleHappened bool
	IsMutable           bool
	EditionNonce        Option[uint8]
	TokenStandard       Option[uint8]
	Collection          Option[Collection]
	Uses                Option[Uses]
}

// DecodeMetadata 按布局顺序解析，尾部多余字节（链上账户的零填充）忽略
func DecodeMetadata(expectedOwner, actualOwner types.Pubkey, data []byte) (*Metadata, error) {
	if err := CheckOwner(expectedOwner, actualOwner); err != nil {
		return nil, err
	}

	r := newReader(data)
	m := &Metadata{}
	var err error

	// 1. 定长前缀
	if m.Key, err = r.u8("key"); err != nil {
		return nil, err
	}
	if m.UpdateAuthority, err = r.pubkey("update_authority"); err != nil {
		return nil, err
	}
	if m.Mint, err = r.pubkey("mint"); err != nil {
		return nil, err
	}
	if m.Name, err = r.slotString("name", NameSlot); err != nil {
		return nil, err
	}
	if m.Symbol, err = r.slotString("symbol", SymbolSlot); err != nil {
		return nil, err
	}
	if m.URI, err = r.slotString("uri", URISlot); err != nil {
		return nil, err
	}
	if m.SellerFeeBasisPoints, err = r.u16("seller_fee_basis_points"); err != nil {
		return nil, err
	}

	// 2. creators: presence + u32 数量 + 34 字节条目
	if m.Creators, err = decodeCreators(r); err != nil {
		return nil, err
	}

	// 3. 后缀
	if m.PrimarySaleHappened, err = r.boolean("primary_sale_happened"); err != nil {
		return nil, err
	}
	if m.IsMutable, err = r.boolean("is_mutable"); err != nil {
		return nil, err
	}
	if m.EditionNonce, err = decodeOptionalU8(r, "edition_nonce"); err != nil {
		return nil, err
	}
	if m.TokenStandard, err = decodeOptionalU8(r, "token_standard"); err != nil {
		return nil, err
	}
	if m.Collection, err = decodeCollection(r); err != nil {
		return nil, err
	}
	if m.Uses, err = decodeUses(r); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeCreators(r *reader) (Option[[]Creator], error) {
	present, err := r.presence("creators")
	if err != nil || !present {
		return None[[]Creator](), err
	}
	count, err := r.u32("creators.len")
	if err != nil {
		return None[[]Creator](), err
	}
	// 先校验剩余长度，避免按伪造的数量分配内存
	if remain := len(r.buf) - r.off; uint64(count)*creatorSize > uint64(remain) {
		return None[[]Creator](), truncated("creators", int(count)*creatorSize, remain)
	}
	creators := make([]Creator, 0, count)
	for i := uint32(0); i < count; i++ {
		var c Creator
		if c.Address, err = r.pubkey("creator.address"); err != nil {
			return None[[]Creator](), err
		}
		if c.Verified, err = r.boolean("creator.verified"); err != nil {
			return None[[]Creator](), err
		}
		if c.Share, err = r.u8("creator.share"); err != nil {
			return None[[]Creator](), err
		}
		creators = append(creators, c)
	}
	return Some(creators), nil
}

func decodeOptionalU8(r *reader, what string) (Option[uint8], error) {
	present, err := r.presence(what)
	if err != nil || !present {
		return None[uint8](), err
	}
	v, err := r.u8(what)
	if err != nil {
		return None[uint8](), err
	}
	return Some(v), nil
}

func decodeCollection(r *reader) (Option[Collection], error) {
	present, err := r.presence("collection")
	if err != nil || !present {
		return None[Collection](), err
	}
	var c Collection
	if c.Verified, err = r.boolean("collection.verified"); err != nil {
		return None[Collection](), err
	}
	if c.Key, err = r.pubkey("collection.key"); err != nil {
		return None[Collection](), err
	}
	return Some(c), nil
}

func decodeUses(r *reader) (Option[Uses], error) {
	present, err := r.presence("uses")
	if err != nil || !present {
		return None[Uses](), err
	}
	var u Uses
	if u.UseMethod, err = r.u8("uses.use_method"); err != nil {
		return None[Uses](), err
	}
	if u.Remaining, err = r.u64("uses.remaining"); err != nil {
		return None[Uses](), err
	}
	if u.Total, err = r.u64("uses.total"); err != nil {
		return None[Uses](), err
	}
	return Some(u), nil
}

// EncodeMetadata 是 DecodeMetadata 的逆过程，输出不含尾部填充
func EncodeMetadata(m *Metadata) ([]byte, error) {
	w := newWriter(1 + 32 + 32 + NameSlot + SymbolSlot + URISlot + 2 + 64)

	w.u8(m.Key)
	w.pubkey(m.UpdateAuthority)
	w.pubkey(m.Mint)
	if err := w.slotString("name", m.Name, NameSlot); err != nil {
		return nil, err
	}
	if err := w.slotString("symbol", m.Symbol, SymbolSlot); err != nil {
		return nil, err
	}
	if err := w.slotString("uri", m.URI, URISlot); err != nil {
		return nil, err
	}
	w.u16(m.SellerFeeBasisPoints)

	if creators, ok := m.Creators.Get(); ok {
		w.u8(1)
		w.u32(uint32(len(creators)))
		for _, c := range creators {
			w.pubkey(c.Address)
			w.boolean(c.Verified)
			w.u8(c.Share)
		}
	} else {
		w.u8(0)
	}

	w.boolean(m.PrimarySaleHappened)
	w.boolean(m.IsMutable)
	encodeOptionalU8(w, m.EditionNonce)
	encodeOptionalU8(w, m.TokenStandard)
	if c, ok := m.Collection.Get(); ok {
		w.u8(1)
		w.boolean(c.Verified)
		w.pubkey(c.Key)
	} else {
		w.u8(0)
	}
	if u, ok := m.Uses.Get(); ok {
		w.u8(1)
		w.u8(u.UseMethod)
		w.u64(u.Remaining)
		w.u64(u.Total)
	} else {
		w.u8(0)
	}
	return w.bytes(), nil
}

func encodeOptionalU8(w *writer, o Option[uint8]) {
	if v, ok := o.Get(); ok {
		w.u8(1)
		w.u8(v)
		return
	}
	w.u8(0)
}
