package codec

import (
	"errors"
	"fmt"
	"jewl-sol/internal/pkg/types"
)

// 解码错误均为确定性错误，调用方不应重试
var (
	ErrOwnerMismatch       = errors.New("account owner mismatch")
	ErrTruncatedBuffer     = errors.New("truncated buffer")
	ErrInvalidDiscriminant = errors.New("invalid discriminant")
	ErrFieldTooLong        = errors.New("field exceeds slot width")
)

// CheckOwner 校验账户 owner，任何解码前都必须先调用
func CheckOwner(expected, actual types.Pubkey) error {
	if expected != actual {
		return fmt.Errorf("%w: expected=%s actual=%s", ErrOwnerMismatch, expected, actual)
	}
	return nil
}

func truncated(what string, need, have int) error {
	return fmt.Errorf("%w: %s needs %d bytes, have %d", ErrTruncatedBuffer, what, need, have)
}
