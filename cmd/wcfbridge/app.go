package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/IMBotPlatform/wcfbridge/pkg/botcore"
	"github.com/IMBotPlatform/wcfbridge/pkg/cache"
	"github.com/IMBotPlatform/wcfbridge/pkg/config"
	"github.com/IMBotPlatform/wcfbridge/pkg/logger"
	"github.com/IMBotPlatform/wcfbridge/pkg/platform/wechat"
	"github.com/IMBotPlatform/wcfbridge/pkg/sink"
	"github.com/IMBotPlatform/wcfbridge/pkg/storage"
)

// feedBuffer 是 Feed 与 Dispatcher 之间的通道缓冲。
const feedBuffer = 256

// app 持有一次运行所需的全部组件。
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	dispatcher *wechat.Dispatcher
	closers    []io.Closer
}

// newApp 读取配置并完成组件装配。
func newApp(ctx context.Context, configPath string) (*app, error) {
	// 1) 读取配置。
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	// 2) 初始化日志。
	lg, err := logger.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	return buildApp(ctx, cfg, lg)
}

// buildApp 根据已加载的配置装配存储、数据源、输出与 Dispatcher。
// 中途失败时关闭已创建的资源。
func buildApp(ctx context.Context, cfg *config.Config, lg *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: lg}

	// 1) 构建 Presence Cache 存储。
	store, err := a.openStorage(ctx)
	if err != nil {
		return nil, err
	}
	manager := cache.NewManager(store)

	// 2) 加载可选的联系人快照作为数据源。
	selfID := cfg.SelfID
	var source wechat.Source
	if cfg.Snapshot != "" {
		snap, err := wechat.LoadSnapshotSource(cfg.Snapshot)
		if err != nil {
			a.Close()
			return nil, err
		}
		source = snap
		if selfID == "" {
			selfID = snap.Self()
		}
	}
	if selfID == "" {
		a.Close()
		return nil, fmt.Errorf("%w: self_id is required when the snapshot does not name one", config.ErrInvalidConfig)
	}

	// 3) 构建事件输出。
	emitter, err := a.openEmitters()
	if err != nil {
		a.Close()
		return nil, err
	}

	// 4) 构建 Dispatcher。
	opts := []wechat.DispatcherOption{
		wechat.WithLogger(lg),
		wechat.WithEmitter(emitter),
		wechat.WithRetry(cfg.Retry.Attempts, cfg.Retry.Backoff),
		wechat.WithClassifierOptions(wechat.WithLocale(wechat.Locale(cfg.Locale))),
	}
	if len(cfg.Routes) > 0 {
		opts = append(opts, wechat.WithRoutes(cfg.Routes...))
	}
	a.dispatcher = wechat.NewDispatcher(selfID, manager, source, opts...)
	lg.Info("wcfbridge 初始化完成",
		zap.String("self_id", selfID),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("locale", cfg.Locale))
	return a, nil
}

// openStorage 按 driver 选择存储后端。
func (a *app) openStorage(ctx context.Context) (storage.Storage, error) {
	sc := a.cfg.Storage
	switch sc.Driver {
	case config.StorageFile:
		return storage.NewFileStorage(sc.Dir)
	case config.StorageRedis:
		rs, err := storage.NewRedisStorage(ctx, storage.RedisOptions{
			Addr:     sc.Redis.Addr,
			Password: sc.Redis.Password,
			DB:       sc.Redis.DB,
			PoolSize: sc.Redis.PoolSize,
			TTL:      sc.Redis.TTL,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rs)
		return rs, nil
	default:
		return storage.NewMemoryStorage(), nil
	}
}

// openEmitters 组合配置中启用的所有输出；都未配置时输出到 stdout。
func (a *app) openEmitters() (botcore.Emitter, error) {
	sc := a.cfg.Sink
	var emitters botcore.MultiEmitter

	switch sc.JSONL {
	case "", "-":
		if sc.JSONL == "-" || len(sc.Kafka.Brokers) == 0 {
			emitters = append(emitters, sink.NewJSONLEmitter(os.Stdout))
		}
	default:
		fe, err := sink.OpenJSONLFile(sc.JSONL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, fe)
		emitters = append(emitters, fe)
	}

	if len(sc.Kafka.Brokers) > 0 {
		ke, err := sink.NewKafkaEmitter(sink.KafkaOptions{
			Brokers:      sc.Kafka.Brokers,
			Topic:        sc.Kafka.Topic,
			WriteTimeout: sc.Kafka.WriteTimeout,
			RequireAll:   sc.Kafka.RequireAll,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, ke)
		emitters = append(emitters, ke)
	}
	return emitters, nil
}

// Serve 预加载缓存后连接 wcf 消息流，直到 ctx 结束或重连次数用尽。
func (a *app) Serve(ctx context.Context) error {
	if a.cfg.Feed.URL == "" {
		return fmt.Errorf("%w: feed.url is required for serve", config.ErrInvalidConfig)
	}
	if err := a.dispatcher.Preload(ctx); err != nil {
		return err
	}

	feed := wechat.NewFeed(wechat.FeedOptions{
		URL:                  a.cfg.Feed.URL,
		ReconnectInterval:    a.cfg.Feed.ReconnectInterval,
		MaxReconnectAttempts: a.cfg.Feed.MaxReconnectAttempts,
	}, a.logger)
	return a.pump(ctx, func(ctx context.Context, out chan<- wechat.RawMessage) error {
		return feed.Run(ctx, out)
	})
}

// Replay 预加载缓存后按顺序回放 JSONL 文件中的原始消息。
func (a *app) Replay(ctx context.Context, path string) error {
	if err := a.dispatcher.Preload(ctx); err != nil {
		return err
	}
	return a.pump(ctx, func(ctx context.Context, out chan<- wechat.RawMessage) error {
		return wechat.ReplayFile(ctx, path, out, a.logger)
	})
}

// pump 在独立 goroutine 中运行 produce，Dispatcher 在当前 goroutine 串行消费。
// produce 返回后关闭通道，Dispatcher 处理完剩余消息再返回。
func (a *app) pump(ctx context.Context, produce func(context.Context, chan<- wechat.RawMessage) error) error {
	ch := make(chan wechat.RawMessage, feedBuffer)
	produced := make(chan error, 1)
	go func() {
		defer close(ch)
		produced <- produce(ctx, ch)
	}()

	runErr := a.dispatcher.Run(ctx, ch)
	prodErr := <-produced
	if errors.Is(prodErr, context.Canceled) {
		prodErr = nil
	}
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	return errors.Join(prodErr, runErr)
}

// Close 按创建的逆序释放资源并刷新日志。
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn("关闭资源失败", zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
}
