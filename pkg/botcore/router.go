package botcore

import "context"

// MatchFunc 尝试把原始输入识别为某种事件。
// 不认识该输入时返回 (nil, nil)，交由后续路由继续匹配；
// 只有底层存储故障等不可恢复的问题才返回 error。
type MatchFunc[R any] func(ctx context.Context, raw R) (Event, error)

// Route 定义单条路由规则。
type Route[R any] struct {
	Name  string
	Match MatchFunc[R]
}

// Chain 按顺序检查路由，第一个返回非 nil 事件的路由胜出并停止后续匹配。
// 路由表在构造时确定，之后不可修改，便于测试时构造精简的 Chain。
type Chain[R any] struct {
	routes []Route[R]
}

// NewChain 创建一个新的责任链路由器。Match 为空的路由会被忽略。
func NewChain[R any](routes ...Route[R]) *Chain[R] {
	kept := make([]Route[R], 0, len(routes))
	for _, r := range routes {
		if r.Match != nil {
			kept = append(kept, r)
		}
	}
	return &Chain[R]{routes: kept}
}

// Routes 返回路由表拷贝。
func (c *Chain[R]) Routes() []Route[R] {
	if c == nil {
		return nil
	}
	out := make([]Route[R], len(c.routes))
	copy(out, c.routes)
	return out
}

// Match 依次执行路由。
// Returns:
//   - Event: 命中的事件，全部未命中时为 nil
//   - string: 命中（或出错）的路由名称
//   - error: 某条路由返回的错误，此时立即停止匹配
func (c *Chain[R]) Match(ctx context.Context, raw R) (Event, string, error) {
	if c == nil {
		return nil, "", nil
	}
	// 1. 遍历路由表
	for _, route := range c.routes {
		event, err := route.Match(ctx, raw)
		if err != nil {
			return nil, route.Name, err
		}
		if event != nil {
			// 匹配成功，停止后续匹配
			return event, route.Name, nil
		}
	}
	// 2. 没有任何匹配
	return nil, "", nil
}

// When 在 match 前加一道廉价的前置判断，pred 不成立时直接返回未命中，不执行 match。
func When[R any](pred func(R) bool, match MatchFunc[R]) MatchFunc[R] {
	return func(ctx context.Context, raw R) (Event, error) {
		if pred != nil && !pred(raw) {
			return nil, nil
		}
		return match(ctx, raw)
	}
}
