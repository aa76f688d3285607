package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"jewl-sol/internal/pkg/types"
)

// reader 按小端顺序读取定宽字段，越界返回 ErrTruncatedBuffer
type reader struct {
	buf []byte
	off int
}

func newReader(buf []byte) *reader {
	return &reader{buf: buf}
}

func (r *reader) take(what string, n int) ([]byte, error) {
	if len(r.buf)-r.off < n {
		return nil, truncated(fmt.Sprintf("%s at offset %d", what, r.off), n, len(r.buf)-r.off)
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) u8(what string) (uint8, error) {
	b, err := r.take(what, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) boolean(what string) (bool, error) {
	v, err := r.u8(what)
	return v != 0, err
}

func (r *reader) u16(what string) (uint16, error) {
	b, err := r.take(what, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *reader) u32(what string) (uint32, error) {
	b, err := r.take(what, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) u64(what string) (uint64, error) {
	b, err := r.take(what, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *reader) pubkey(what string) (types.Pubkey, error) {
	b, err := r.take(what, types.PubkeyLength)
	if err != nil {
		return types.Pubkey{}, err
	}
	return types.Pubkey(b), nil
}

// presence 读取可选段前的标记字节，只接受 0 / 1
func (r *reader) presence(what string) (bool, error) {
	v, err := r.u8(what)
	if err != nil {
		return false, err
	}
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("%w: %s presence byte %d at offset %d", ErrInvalidDiscriminant, what, v, r.off-1)
	}
}

// slotString 读取定宽字符串槽位：4 字节长度 + 内容，槽位总宽 slot 字节始终被完整消费，
// 内容在第一个 NUL 处截断
func (r *reader) slotString(what string, slot int) (string, error) {
	b, err := r.take(what, slot)
	if err != nil {
		return "", err
	}
	n := int(binary.LittleEndian.Uint32(b[:4]))
	payload := b[4:]
	if n < len(payload) {
		payload = payload[:n]
	}
	if i := bytes.IndexByte(payload, 0); i >= 0 {
		payload = payload[:i]
	}
	return string(payload), nil
}

// writer 是 reader 的逆过程
type writer struct {
	buf []byte
}

func newWriter(capacity int) *writer {
	return &writer{buf: make([]byte, 0, capacity)}
}

func (w *writer) bytes() []byte {
	return w.buf
}

func (w *writer) u8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *writer) boolean(v bool) {
	if v {
		w.u8(1)
	} else {
		w.u8(0)
	}
}

func (w *writer) u16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *writer) u32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *writer) u64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *writer) pubkey(v types.Pubkey) {
	w.buf = append(w.buf, v[:]...)
}

func (w *writer) slotString(what, s string, slot int) error {
	capacity := slot - 4
	if len(s) > capacity {
		return fmt.Errorf("%w: %s is %d bytes, slot holds %d", ErrFieldTooLong, what, len(s), capacity)
	}
	if bytes.IndexByte([]byte(s), 0) >= 0 {
		return fmt.Errorf("%w: %s contains NUL", ErrFieldTooLong, what)
	}
	w.u32(uint32(len(s)))
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, make([]byte, capacity-len(s))...)
	return nil
}
