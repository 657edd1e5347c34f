package svc

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	redisclient "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"stradfeed/internal/application/port"
	"stradfeed/internal/application/subscription"
	"stradfeed/internal/application/synthetic"
	"stradfeed/internal/application/usecase/monitor"
	"stradfeed/internal/infrastructure/config"
	redisrepo "stradfeed/internal/infrastructure/storage/redis"

	compositerepo "stradfeed/internal/infrastructure/storage/composite"
	pgrepo "stradfeed/internal/infrastructure/storage/postgres"
	sqliterepo "stradfeed/internal/infrastructure/storage/sqlite"
	"stradfeed/internal/infrastructure/tickfeed"
	"stradfeed/internal/infrastructure/websocket"
	"stradfeed/internal/interfaces/console"

	// 数据源包自注册
	_ "stradfeed/internal/infrastructure/exchange/kite"
)

type ServiceContext struct {
	Ctx    context.Context
	Config *config.Config

	// 基础设施层（第一层初始化）
	redisClient *redisclient.Client
	redisRepo   *redisrepo.Repo
	sqliteRepo  *sqliterepo.Repo
	pgRepo      *pgrepo.Repo
	repo        port.Repository

	// 连接状态机：每个行情 symbol 一台
	ConnManager *websocket.Manager
	sessionUp   atomic.Bool

	// 输出端口
	Sink port.Sink

	// 应用业务组件（依赖基础设施）
	tickFeeds []port.TickFeed
	store     *synthetic.Store
	reg       *subscription.Registry

	// 资源管理
	closerChain []func() error
}

// New 创建并初始化 ServiceContext
// 这是应用启动的唯一入口点，所有依赖初始化都在这里完成
func New(ctx context.Context, cfg *config.Config) (*ServiceContext, error) {
	sc := &ServiceContext{
		Ctx:         ctx,
		Config:      cfg,
		Sink:        console.NewSink(),
		reg:         subscription.NewRegistry(),
		closerChain: make([]func() error, 0),
	}

	// 初始化所有组件，按依赖顺序
	if err := sc.initializeComponents(); err != nil {
		// 清理已初始化的资源
		_ = sc.Close()
		return nil, err
	}
	return sc, nil
}

// initializeComponents 初始化所有应用组件
// 按照依赖关系有序初始化，确保不会有循环依赖
func (sc *ServiceContext) initializeComponents() error {
	// 0. 初始化存储层 (最基础，最后被其他依赖使用)
	if err := sc.initializeStorage(); err != nil {
		return fmt.Errorf("storage initialization failed: %w", err)
	}

	// 1. 合成标的定义表
	store, err := synthetic.NewStore(straddleDefs(sc.Config))
	if err != nil {
		return fmt.Errorf("straddle table initialization failed: %w", err)
	}
	sc.store = store

	// 2. 每 symbol 一台连接状态机
	sc.ConnManager = websocket.NewManager(sc.Ctx, websocket.RetryConfig{
		InitialDelay: time.Duration(sc.Config.Connection.InitialDelaySec) * time.Second,
		MaxDelay:     time.Duration(sc.Config.Connection.MaxDelaySec) * time.Second,
		MaxRetries:   sc.Config.Connection.MaxRetries,
	}, sc.dialSymbol, nil)
	sc.closerChain = append(sc.closerChain, func() error {
		sc.ConnManager.Close()
		return nil
	})

	// 3. 行情源
	if err := sc.initFeeds(); err != nil {
		return err
	}

	log.Info().
		Int("feeds", len(sc.tickFeeds)).
		Int("straddles", len(sc.Config.Straddles)).
		Msg("✓ All components initialized")

	return nil
}

// initFeeds 根据配置从 registry 取出行情源工厂并初始化
func (sc *ServiceContext) initFeeds() error {
	var feeds []port.TickFeed

	if src := sc.Config.Feed.Source; src != "" {
		factory, ok := tickfeed.Get(src)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownFeedSource, src)
		}

		feed := factory(tickfeed.Options{
			WsURL:       sc.Config.Kite.WsURL,
			APIKey:      sc.Config.Kite.APIKey,
			AccessToken: sc.Config.Kite.AccessToken,
			Tokens:      sc.Config.InstrumentTokens(),
			OnSessionUp: func() {
				sc.sessionUp.Store(true)
			},
			OnSessionDown: func(err error) {
				sc.sessionUp.Store(false)
				// 单条复用 ws 掉线时，所有 symbol 的状态机都要感知
				for _, sym := range sc.Config.FeedSymbols() {
					sc.ConnManager.MarkDropped(sym)
				}
			},
		})
		feeds = append(feeds, feed)
		log.Info().Str("source", feed.Name()).Msg("✓ Tick feed initialized")
	}

	if len(feeds) == 0 {
		return ErrNoFeedsEnabled
	}
	sc.tickFeeds = feeds
	return nil
}

// dialSymbol 是状态机的握手函数。Kite 走单条复用 ws，per-symbol 的"握手"
// 即等待会话就绪；等待窗口覆盖 feed 自身的重连退避。
func (sc *ServiceContext) dialSymbol(ctx context.Context, symbol string) error {
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		if sc.sessionUp.Load() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return fmt.Errorf("session not ready for %s", symbol)
}

// initializeStorage 初始化存储层 (Redis / SQLite / Postgres 任意组合)
func (sc *ServiceContext) initializeStorage() error {
	var repos []port.Repository

	// Redis 初始化
	if sc.Config.Redis.Enabled {
		if err := sc.initRedis(); err != nil {
			return fmt.Errorf("redis initialization failed: %w", err)
		}
		repos = append(repos, sc.redisRepo)
	}

	// SQLite 初始化
	if sc.Config.SQLite.Enabled {
		if err := sc.initSQLite(); err != nil {
			return fmt.Errorf("sqlite initialization failed: %w", err)
		}
		repos = append(repos, sc.sqliteRepo)
	}

	// Postgres 初始化
	if sc.Config.Postgres.Enabled {
		if err := sc.initPostgres(); err != nil {
			return fmt.Errorf("postgres initialization failed: %w", err)
		}
		repos = append(repos, sc.pgRepo)
	}

	switch len(repos) {
	case 0:
		sc.repo = monitor.NewNoopRepo()
	case 1:
		sc.repo = repos[0]
	default:
		sc.repo = compositerepo.New(repos...)
	}

	return nil
}

// initRedis 初始化 Redis 连接
func (sc *ServiceContext) initRedis() error {
	rdb := redisclient.NewClient(&redisclient.Options{
		Addr:     sc.Config.Redis.Addr,
		Password: sc.Config.Redis.Password,
		DB:       sc.Config.Redis.DB,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(sc.Ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}

	sc.redisClient = rdb
	ttl := time.Duration(sc.Config.Redis.TTLSeconds) * time.Second

	sc.redisRepo = redisrepo.New(
		rdb,
		sc.Config.Redis.Prefix,
		ttl,
		sc.Config.Redis.CombinedStream,
		sc.Config.Redis.CombinedChannel,
	)

	// 注册关闭回调
	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing redis connection")
		return rdb.Close()
	})

	log.Info().
		Str("addr", sc.Config.Redis.Addr).
		Int("db", sc.Config.Redis.DB).
		Msg("✓ Redis initialized")

	return nil
}

// initSQLite 初始化 SQLite 数据库
func (sc *ServiceContext) initSQLite() error {
	repo, err := sqliterepo.New(sc.Config.SQLite.Path)
	if err != nil {
		return fmt.Errorf("sqlite repo creation failed: %w", err)
	}

	sc.sqliteRepo = repo

	// 注册关闭回调
	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing sqlite connection")
		return repo.Close()
	})

	log.Info().
		Str("path", sc.Config.SQLite.Path).
		Msg("✓ SQLite initialized")

	return nil
}

// initPostgres 初始化 Postgres 连接
func (sc *ServiceContext) initPostgres() error {
	repo, err := pgrepo.New(sc.Config.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("postgres repo creation failed: %w", err)
	}

	sc.pgRepo = repo

	// 注册关闭回调
	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing postgres connection")
		return repo.Close()
	})

	log.Info().Msg("✓ Postgres initialized")
	return nil
}

// GetRepository 获取聚合后的仓储
func (sc *ServiceContext) GetRepository() port.Repository {
	return sc.repo
}

// GetStore 获取合成标的定义表
func (sc *ServiceContext) GetStore() *synthetic.Store {
	return sc.store
}

// BuildMonitorServiceDeps 构建 Monitor Service 所需的所有依赖
// 这个方法由 Application 层 UseCase 调用
func (sc *ServiceContext) BuildMonitorServiceDeps() monitor.ServiceDeps {
	return monitor.ServiceDeps{
		Feeds:       sc.tickFeeds,
		FeedSymbols: sc.Config.FeedSymbols(),
		PipelineCfg: synthetic.Config{
			Workers:         sc.Config.Pipeline.Workers,
			InputCap:        sc.Config.Pipeline.InputCap,
			OutputCap:       sc.Config.Pipeline.OutputCap,
			Batch:           sc.Config.Pipeline.Batch,
			ShutdownTimeout: time.Duration(sc.Config.Pipeline.ShutdownTimeoutSec) * time.Second,
		},
		Registry:      sc.reg,
		Store:         sc.store,
		Conn:          sc.ConnManager,
		Sink:          sc.Sink,
		Repo:          sc.repo,
		PrintEveryMin: sc.Config.App.PrintEveryMin,
	}
}

// GetRegistry 获取订阅注册表
func (sc *ServiceContext) GetRegistry() *subscription.Registry {
	return sc.reg
}

// Close 关闭 ServiceContext 中的所有资源
// 应该在应用退出时调用
func (sc *ServiceContext) Close() error {
	// 适配器断开：清空全部订阅注册
	sc.reg.Close()

	// 按照相反的顺序关闭所有资源
	for i := len(sc.closerChain) - 1; i >= 0; i-- {
		if err := sc.closerChain[i](); err != nil {
			log.Error().Err(err).Msg("error closing resource")
		}
	}
	return nil
}

// straddleDefs 把配置里的 straddle 段转成领域定义
func straddleDefs(cfg *config.Config) []synthetic.Definition {
	defs := make([]synthetic.Definition, 0, len(cfg.Straddles))
	for _, s := range cfg.Straddles {
		defs = append(defs, synthetic.Definition{
			Synthetic: s.Synthetic,
			LegA:      s.LegA,
			LegB:      s.LegB,
		})
	}
	return defs
}
