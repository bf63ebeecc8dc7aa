package botcore

import "context"

// Emitter 将 Dispatcher 产出的事件推送给插件宿主。
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}

// EmitterFunc 允许直接用函数实现。
type EmitterFunc func(ctx context.Context, event Event) error

// Emit 实现 Emitter 接口。
func (f EmitterFunc) Emit(ctx context.Context, event Event) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

// MultiEmitter 依次推送给多个 Emitter，返回第一个错误，但保证每个 Emitter 都被调用。
type MultiEmitter []Emitter

// Emit 实现 Emitter 接口。
func (m MultiEmitter) Emit(ctx context.Context, event Event) error {
	var first error
	for _, e := range m {
		if e == nil {
			continue
		}
		if err := e.Emit(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ChannelEmitter 以 channel 形式向宿主推送事件，保持 Dispatcher 的输出顺序。
type ChannelEmitter struct {
	ch chan Event
}

// NewChannelEmitter 创建带缓冲的 ChannelEmitter，size<=0 时为无缓冲。
func NewChannelEmitter(size int) *ChannelEmitter {
	if size < 0 {
		size = 0
	}
	return &ChannelEmitter{ch: make(chan Event, size)}
}

// Events 返回只读事件通道。
func (c *ChannelEmitter) Events() <-chan Event {
	return c.ch
}

// Emit 阻塞直到事件被接收或 ctx 结束。
func (c *ChannelEmitter) Emit(ctx context.Context, event Event) error {
	select {
	case c.ch <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 关闭事件通道，之后不可再调用 Emit。
func (c *ChannelEmitter) Close() {
	close(c.ch)
}
