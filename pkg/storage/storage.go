// Package storage 提供 Presence Cache 使用的键值存储后端。
//
// 所有后端都只处理原始字节，序列化由 cache 包负责。
package storage

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound 表示键不存在。
var ErrNotFound = errors.New("storage: key not found")

// Separator 是命名空间与键之间的分隔符。
const Separator = ":"

// Storage 抽象一个按键读写的存储后端。实现必须可并发调用。
type Storage interface {
	// Get 读取 key 对应的值，不存在时返回 ErrNotFound。
	Get(ctx context.Context, key string) ([]byte, error)
	// Set 覆盖写入，后写者胜出。
	Set(ctx context.Context, key string, value []byte) error
	// Has 判断 key 是否存在。
	Has(ctx context.Context, key string) (bool, error)
	// Delete 删除 key，key 不存在时不报错。
	Delete(ctx context.Context, key string) error
	// Keys 返回所有以 prefix 开头的键（完整键），顺序不保证。
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Prefixed 返回一个命名空间视图：对外暴露的键不含前缀，落盘的键为 prefix + ":" + key。
func Prefixed(s Storage, prefix string) Storage {
	return &prefixed{inner: s, prefix: prefix + Separator}
}

type prefixed struct {
	inner  Storage
	prefix string
}

func (p *prefixed) Get(ctx context.Context, key string) ([]byte, error) {
	return p.inner.Get(ctx, p.prefix+key)
}

func (p *prefixed) Set(ctx context.Context, key string, value []byte) error {
	return p.inner.Set(ctx, p.prefix+key, value)
}

func (p *prefixed) Has(ctx context.Context, key string) (bool, error) {
	return p.inner.Has(ctx, p.prefix+key)
}

func (p *prefixed) Delete(ctx context.Context, key string) error {
	return p.inner.Delete(ctx, p.prefix+key)
}

// Keys 返回去掉命名空间前缀后的键。
func (p *prefixed) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys, err := p.inner.Keys(ctx, p.prefix+prefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, p.prefix))
	}
	return out, nil
}

// cloneBytes 复制字节切片，避免调用方与存储共享底层数组。
func cloneBytes(src []byte) []byte {
	if src == nil {
		return nil
	}
	dst := make([]byte, len(src))
	copy(dst, src)
	return dst
}
