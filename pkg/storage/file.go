package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const fileSuffix = ".json"

// FileStorage 实现了基于文件系统的 Storage。
// 键按最后一个 ":" 拆成命名空间与名称：命名空间对应 baseDir 下的一个子目录，
// 名称对应其中的一个文件，两者都经过转义。不含 ":" 的键直接存放在 baseDir 下。
// 按前缀列举时只读取可能匹配的命名空间目录。
type FileStorage struct {
	baseDir string
	mu      sync.RWMutex // 全局锁，保护文件系统操作并发安全
}

// NewFileStorage 创建一个新的 FileStorage。
// baseDir: 数据目录路径，不存在时自动创建。
func NewFileStorage(baseDir string) (*FileStorage, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &FileStorage{baseDir: baseDir}, nil
}

// splitKey 按最后一个分隔符拆分键。
func splitKey(key string) (namespace, name string) {
	i := strings.LastIndex(key, Separator)
	if i < 0 {
		return "", key
	}
	return key[:i], key[i+len(Separator):]
}

// getFilePath 返回 key 对应的文件路径。
// 各段经过 QueryEscape 转义，不会出现路径分隔符，避免路径遍历。
func (s *FileStorage) getFilePath(key string) string {
	namespace, name := splitKey(key)
	if namespace == "" {
		return filepath.Join(s.baseDir, url.QueryEscape(name)+fileSuffix)
	}
	return filepath.Join(s.baseDir, url.QueryEscape(namespace), url.QueryEscape(name)+fileSuffix)
}

// Get 读取文件内容。
func (s *FileStorage) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.getFilePath(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Set 先写临时文件再 rename，保证单个条目写入完整。
func (s *FileStorage) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.getFilePath(key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// Has 判断文件是否存在。
func (s *FileStorage) Has(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err := os.Stat(s.getFilePath(key))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", key, err)
	}
	return true, nil
}

// Delete 删除文件，文件不存在时忽略。
func (s *FileStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.getFilePath(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Keys 列举以 prefix 开头的键。
// 先读取 baseDir 下的命名空间目录名，只有可能包含匹配键的目录才会被展开。
func (s *FileStorage) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("list storage directory: %w", err)
	}
	var keys []string
	for _, entry := range entries {
		if !entry.IsDir() {
			if key, ok := keyOf("", entry); ok && strings.HasPrefix(key, prefix) {
				keys = append(keys, key)
			}
			continue
		}
		namespace, err := url.QueryUnescape(entry.Name())
		if err != nil {
			continue
		}
		nsPrefix := namespace + Separator
		if !strings.HasPrefix(nsPrefix, prefix) && !strings.HasPrefix(prefix, nsPrefix) {
			continue
		}
		found, err := scanNamespace(filepath.Join(s.baseDir, entry.Name()), nsPrefix, prefix)
		if err != nil {
			return nil, err
		}
		keys = append(keys, found...)
	}
	return keys, nil
}

// scanNamespace 读取单个命名空间目录并还原完整键名。
func scanNamespace(dir, nsPrefix, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list namespace %s: %w", strings.TrimSuffix(nsPrefix, Separator), err)
	}
	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if key, ok := keyOf(nsPrefix, entry); ok && strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// keyOf 由文件名还原键名，非本存储写入的文件返回 false。
func keyOf(nsPrefix string, entry os.DirEntry) (string, bool) {
	name := entry.Name()
	if !strings.HasSuffix(name, fileSuffix) {
		return "", false
	}
	key, err := url.QueryUnescape(strings.TrimSuffix(name, fileSuffix))
	if err != nil {
		return "", false
	}
	return nsPrefix + key, true
}
