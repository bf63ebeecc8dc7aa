package wechat

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
)

// maxReplayLine 是回放文件单行的最大长度。
const maxReplayLine = 5 * 1024 * 1024

// ReadJSONL 逐行读取 RawMessage（JSONL 格式）并按顺序投递到 out。
// 坏行记录日志后跳过；读完后返回 nil，不关闭 out。
func ReadJSONL(ctx context.Context, r io.Reader, out chan<- RawMessage, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	scanner := bufio.NewScanner(r)
	// 默认 64KB 对带缩略图的 XML 不够
	scanner.Buffer(make([]byte, 0, 64*1024), maxReplayLine)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		raw, err := ParseMessage(line)
		if err != nil {
			logger.Warn("跳过无法解析的回放行", zap.Int("line", lineNum), zap.Error(err))
			continue
		}
		select {
		case out <- *raw:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read replay line %d: %w", lineNum+1, err)
	}
	return nil
}

// ReplayFile 打开 path 并调用 ReadJSONL。
func ReplayFile(ctx context.Context, path string, out chan<- RawMessage, logger *zap.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open replay file: %w", err)
	}
	defer f.Close()
	return ReadJSONL(ctx, f, out, logger)
}
