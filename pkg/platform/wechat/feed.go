package wechat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrMaxReconnect 表示连续重连失败次数达到上限。
var ErrMaxReconnect = errors.New("wechat: max reconnect attempts reached")

// FeedOptions 配置 wcf 消息推送的 WebSocket 连接。
type FeedOptions struct {
	URL                  string
	ReconnectInterval    time.Duration // 默认 5s
	MaxReconnectAttempts int           // 0 表示不限
	HandshakeTimeout     time.Duration // 默认 45s
	Header               http.Header
}

// Feed 从 WebSocket 读取 JSON 编码的 RawMessage，按到达顺序投递到通道。
// 连接断开后按固定间隔自动重连。
type Feed struct {
	opts   FeedOptions
	logger *zap.Logger
	dialer *websocket.Dialer

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
}

// NewFeed 创建 Feed，logger 为 nil 时不输出日志。
func NewFeed(opts FeedOptions, logger *zap.Logger) *Feed {
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = 5 * time.Second
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 45 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{
		opts:   opts,
		logger: logger,
		dialer: &websocket.Dialer{
			HandshakeTimeout: opts.HandshakeTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
	}
}

// IsConnected 检查连接状态。
func (f *Feed) IsConnected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connected
}

// Run 连接并持续读取消息，直到 ctx 结束或重连次数用尽。
// out 不会被关闭，由调用方在 Run 返回后自行处理。
func (f *Feed) Run(ctx context.Context, out chan<- RawMessage) error {
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := f.connect(ctx); err != nil {
			attempts++
			f.logger.Error("WebSocket连接失败",
				zap.Error(err),
				zap.Int("attempt", attempts),
				zap.Int("max_attempts", f.opts.MaxReconnectAttempts))
			if f.opts.MaxReconnectAttempts > 0 && attempts >= f.opts.MaxReconnectAttempts {
				return fmt.Errorf("%w: %w", ErrMaxReconnect, err)
			}
		} else {
			// 连接成功，重置重连次数
			attempts = 0
			f.logger.Info("WebSocket连接成功", zap.String("url", f.opts.URL))
			f.handleConnection(ctx, out)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.opts.ReconnectInterval):
		}
	}
}

// connect 建立 WebSocket 连接。
func (f *Feed) connect(ctx context.Context) error {
	u, err := url.Parse(f.opts.URL)
	if err != nil {
		return fmt.Errorf("parse feed url: %w", err)
	}
	conn, resp, err := f.dialer.DialContext(ctx, u.String(), f.opts.Header)
	if err != nil {
		if resp != nil {
			f.logger.Error("WebSocket握手失败",
				zap.String("status", resp.Status),
				zap.Int("status_code", resp.StatusCode))
		}
		return fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}

	f.mu.Lock()
	f.conn = conn
	f.connected = true
	f.mu.Unlock()
	return nil
}

// handleConnection 读取消息直到连接出错或 ctx 结束。无法解析的帧记录日志后丢弃。
func (f *Feed) handleConnection(ctx context.Context, out chan<- RawMessage) {
	done := make(chan struct{})
	defer func() {
		close(done)
		f.mu.Lock()
		if f.conn != nil {
			_ = f.conn.Close()
			f.conn = nil
		}
		f.connected = false
		f.mu.Unlock()
	}()

	f.mu.RLock()
	conn := f.conn
	f.mu.RUnlock()

	// ctx 结束时关闭连接，使阻塞中的 ReadMessage 返回
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				f.logger.Warn("读取WebSocket消息失败", zap.Error(err))
			}
			return
		}
		raw, err := ParseMessage(data)
		if err != nil {
			f.logger.Warn("丢弃无法解析的消息帧", zap.Error(err), zap.Int("size", len(data)))
			continue
		}
		select {
		case out <- *raw:
		case <-ctx.Done():
			return
		}
	}
}
