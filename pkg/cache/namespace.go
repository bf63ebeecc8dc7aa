// Package cache 实现 Presence Cache：按实体种类划分命名空间的读写缓存。
//
// 缓存本身只负责存取，不包含解析逻辑；未命中时由调用方从外部数据源拉取后回写。
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/IMBotPlatform/wcfbridge/pkg/storage"
)

// Namespace 是某一种实体的类型化视图，值以 JSON 编码后写入底层 Storage。
// 所有操作幂等且后写者胜出，不做合并。
type Namespace[T any] struct {
	name  string
	store storage.Storage
}

func newNamespace[T any](base storage.Storage, name string) *Namespace[T] {
	return &Namespace[T]{name: name, store: storage.Prefixed(base, name)}
}

// Name 返回命名空间前缀，例如 "wcf:contact"。
func (n *Namespace[T]) Name() string {
	return n.name
}

// Get 读取条目。
// Returns:
//   - T: 条目值，不存在时为零值
//   - bool: 条目是否存在
//   - error: 存储或解码失败时返回
func (n *Namespace[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	data, err := n.store.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("%s get %s: %w", n.name, key, err)
	}
	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		return zero, false, fmt.Errorf("%s decode %s: %w", n.name, key, err)
	}
	return value, true, nil
}

// Set 覆盖写入条目。
func (n *Namespace[T]) Set(ctx context.Context, key string, value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%s encode %s: %w", n.name, key, err)
	}
	if err := n.store.Set(ctx, key, data); err != nil {
		return fmt.Errorf("%s set %s: %w", n.name, key, err)
	}
	return nil
}

// Has 判断条目是否存在。
func (n *Namespace[T]) Has(ctx context.Context, key string) (bool, error) {
	ok, err := n.store.Has(ctx, key)
	if err != nil {
		return false, fmt.Errorf("%s has %s: %w", n.name, key, err)
	}
	return ok, nil
}

// Delete 删除条目，不存在时不报错。
func (n *Namespace[T]) Delete(ctx context.Context, key string) error {
	if err := n.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("%s delete %s: %w", n.name, key, err)
	}
	return nil
}

// Keys 返回排序后的全部键，保证遍历顺序稳定。
func (n *Namespace[T]) Keys(ctx context.Context) ([]string, error) {
	keys, err := n.store.Keys(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("%s keys: %w", n.name, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Values 按键顺序返回全部条目。遍历期间被删除的条目直接跳过。
func (n *Namespace[T]) Values(ctx context.Context) ([]T, error) {
	keys, err := n.Keys(ctx)
	if err != nil {
		return nil, err
	}
	values := make([]T, 0, len(keys))
	for _, key := range keys {
		value, ok, err := n.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			values = append(values, value)
		}
	}
	return values, nil
}

// SetList 批量写入。每个条目独立写入，单条失败不影响其余条目，
// 全部尝试后返回第一个错误；读者可能看到部分填充的结果，但不会看到损坏的条目。
func (n *Namespace[T]) SetList(ctx context.Context, items []T, keyOf func(T) string) error {
	var first error
	for _, item := range items {
		key := keyOf(item)
		if key == "" {
			continue
		}
		if err := n.Set(ctx, key, item); err != nil && first == nil {
			first = err
		}
	}
	return first
}
