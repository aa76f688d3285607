package codec

// Option 表示链上以 presence byte 前缀编码的可选字段（0 = 缺省，1 = 存在）。
// 每种字段的 payload 宽度不同，编码时由调用方决定具体写入方式。
type Option[T any] struct {
	value   T
	present bool
}

func Some[T any](v T) Option[T] {
	return Option[T]{value: v, present: true}
}

func None[T any]() Option[T] {
	return Option[T]{}
}

func (o Option[T]) IsPresent() bool {
	return o.present
}

func (o Option[T]) Get() (T, bool) {
	return o.value, o.present
}

// OrElse 缺省时返回 def
func (o Option[T]) OrElse(def T) T {
	if !o.present {
		return def
	}
	return o.value
}
