// Package sink 提供 botcore.Emitter 的输出后端。
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/IMBotPlatform/wcfbridge/pkg/botcore"
)

// JSONLEmitter 将事件信封逐行写入 JSONL，每行一个 {"type","payload"} 对象。
type JSONLEmitter struct {
	mu     sync.Mutex
	enc    *json.Encoder
	closer io.Closer
}

// NewJSONLEmitter 基于任意 io.Writer 创建 JSONLEmitter，调用方负责关闭 w。
func NewJSONLEmitter(w io.Writer) *JSONLEmitter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false) // 保持原始字符，不转义 <, >, &
	return &JSONLEmitter{enc: enc}
}

// OpenJSONLFile 以追加模式打开（不存在则创建）文件，返回的 Emitter 关闭时一并关闭文件。
func OpenJSONLFile(path string) (*JSONLEmitter, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create sink directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open sink file: %w", err)
	}
	e := NewJSONLEmitter(f)
	e.closer = f
	return e, nil
}

// Emit 实现 botcore.Emitter。json.Encoder 会在末尾追加 \n，符合 JSONL 规范。
func (e *JSONLEmitter) Emit(ctx context.Context, event botcore.Event) error {
	if event == nil {
		return botcore.ErrNilEvent
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enc.Encode(botcore.NewEnvelope(event)); err != nil {
		return fmt.Errorf("write %s event: %w", event.Type(), err)
	}
	return nil
}

// Close 关闭底层文件；由 NewJSONLEmitter 创建时不做任何事。
func (e *JSONLEmitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closer == nil {
		return nil
	}
	err := e.closer.Close()
	e.closer = nil
	return err
}
