package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"ChatGate/internal/api"
	"ChatGate/internal/auth"
	"ChatGate/internal/chat"
	"ChatGate/internal/config"
	"ChatGate/internal/history"
	"ChatGate/internal/job"
	"ChatGate/internal/observability/metrics"
	"ChatGate/internal/prompts"
	"ChatGate/internal/provider"
	"ChatGate/internal/provider/registry"
	redisstorage "ChatGate/internal/storage/redis"
	"ChatGate/pkg/logger"
	"ChatGate/pkg/plugin"
)

// main 是 ChatGate 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("chatgated 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("CHATGATE_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "chatgate.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	auditPath := cfg.Auth.AuditLog
	if auditPath == "" {
		auditPath = cfg.Log.AuditPath
	}
	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled: auditPath != "",
			Path:    auditPath,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	// 初始化 AI 服务注册表。
	providerRegistry, err := registry.NewRegistry(cfg)
	if err != nil {
		return err
	}

	// 对话历史存储。
	historyRepo, err := createHistoryRepository(cfg)
	if err != nil {
		return err
	}
	if closer, ok := historyRepo.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	// 异步作业存储与队列。
	jobStore, err := createJobStore(cfg)
	if err != nil {
		return err
	}

	jobQueue, err := createJobQueue(cfg)
	if err != nil {
		_ = jobStore.Close()
		return err
	}

	// 对话服务的可选依赖。
	chatOpts := []chat.Option{
		chat.WithMemoryDepth(cfg.Chat.MemoryDepth),
		chat.WithChatTimeout(time.Duration(cfg.Chat.TimeoutSeconds) * time.Second),
	}
	if cfg.Prompts.Source != "" {
		promptProvider, err := prompts.LoadStaticProvider(cfg.Prompts.Source, cfg.Prompts.MaxResults)
		if err != nil {
			return err
		}
		chatOpts = append(chatOpts, chat.WithPromptProvider(promptProvider))
	}
	if cfg.Cache.Enabled {
		cache, err := redisstorage.NewResponseCache(redisstorage.CacheConfig{
			Address:  cfg.Cache.Address,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
			TTL:      time.Duration(cfg.Cache.TTLSeconds) * time.Second,
		})
		if err != nil {
			return err
		}
		defer cache.Close()
		chatOpts = append(chatOpts, chat.WithCache(cache))
	}

	// 插件管理器,processor 类插件参与结果后处理。
	var pluginManager *plugin.Manager
	if cfg.Plugins.Manifest != "" {
		manifest, err := plugin.LoadManagerConfig(cfg.Plugins.Manifest)
		if err != nil {
			return err
		}
		pluginManager, err = plugin.NewManager(manifest)
		if err != nil {
			return err
		}
		if err := pluginManager.StartAll(ctx); err != nil {
			return err
		}
		defer func() {
			if err := pluginManager.StopAll(context.Background()); err != nil {
				logger.L().Warn("停止插件失败", slog.Any("error", err))
			}
		}()
		chatOpts = append(chatOpts, chat.WithResultProcessor(&pluginProcessor{manager: pluginManager}))
	}

	chatService := chat.New(providerRegistry, historyRepo, chatOpts...)

	// 身份认证。
	authStore, err := createAuthStore(ctx, cfg)
	if err != nil {
		return err
	}
	if closer, ok := authStore.(interface{ Close() error }); ok {
		defer closer.Close()
	}
	authService, err := auth.NewService(ctx, buildAuthConfig(cfg), authStore)
	if err != nil {
		return err
	}

	// 作业服务与处理器。摘要与助手会话走异步链路。
	jobService := job.NewService(jobStore, jobQueue, cfg.Storage.JobStore.Retries)
	defer jobService.Close()

	summaries, _ := providerRegistry.Summaries()
	assistants, _ := providerRegistry.Assistants()
	runner := job.NewRunner(summaries, assistants)
	processor := job.NewProcessor(runner, jobStore, jobQueue, jobQueue,
		job.WithWorkerCount(cfg.JobQueue.Worker),
		job.WithProcessorLogger(logger.Named("job-processor")),
	)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()
	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("作业处理器异常退出", slog.Any("error", err))
		}
	}()

	// 指标服务独立端口暴露。
	if cfg.Server.MetricsAddress != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Server.MetricsAddress); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Warn("指标服务退出", slog.Any("error", err))
			}
		}()
	}

	server := api.NewServer(api.Config{
		Address:  cfg.Server.Address,
		Chat:     chatService,
		Registry: providerRegistry,
		Jobs:     jobService,
		Auth:     authService,
		History:  historyRepo,
	})
	return server.Start(ctx)
}

func createHistoryRepository(cfg *config.Config) (history.Repository, error) {
	switch cfg.Storage.History.Driver {
	case "", "memory":
		return history.NewMemoryRepository(cfg.Runtime.DataDir)
	case "mysql":
		return history.NewSQLRepository(cfg.Storage.History.DSN)
	default:
		return nil, fmt.Errorf("未知的历史存储驱动: %s", cfg.Storage.History.Driver)
	}
}

func createJobStore(cfg *config.Config) (job.Store, error) {
	switch cfg.Storage.JobStore.Driver {
	case "", "memory":
		return job.NewMemoryStore(), nil
	case "mysql":
		return job.NewMySQLStore(cfg.Storage.JobStore.DSN, job.PoolConfig{
			MaxOpenConns:    cfg.Storage.JobStore.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.JobStore.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Storage.JobStore.ConnMaxLifetimeSeconds) * time.Second,
			ConnMaxIdleTime: time.Duration(cfg.Storage.JobStore.ConnMaxIdleTimeSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的作业存储驱动: %s", cfg.Storage.JobStore.Driver)
	}
}

func createJobQueue(cfg *config.Config) (job.Queue, error) {
	switch cfg.JobQueue.Driver {
	case "", "memory":
		return job.NewMemoryQueue(1024), nil
	case "redis":
		return job.NewRedisQueue(job.RedisQueueConfig{
			Address:   cfg.JobQueue.Redis.Address,
			Password:  cfg.JobQueue.Redis.Password,
			DB:        cfg.JobQueue.Redis.DB,
			Queue:     cfg.JobQueue.Redis.Queue,
			BlockWait: time.Duration(cfg.JobQueue.Redis.BlockWaitSeconds) * time.Second,
		})
	case "rabbitmq":
		return job.NewRabbitMQQueue(job.RabbitMQConfig{
			URL:        cfg.JobQueue.RabbitMQ.URL,
			Queue:      cfg.JobQueue.RabbitMQ.Queue,
			Prefetch:   cfg.JobQueue.RabbitMQ.Prefetch,
			Durable:    cfg.JobQueue.RabbitMQ.Durable,
			AutoDelete: cfg.JobQueue.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.JobQueue.Driver)
	}
}

func createAuthStore(ctx context.Context, cfg *config.Config) (auth.Store, error) {
	if cfg.Auth.Mode == "" || cfg.Auth.Mode == "disabled" {
		return nil, nil
	}
	switch cfg.Auth.Store.Driver {
	case "", "memory":
		return auth.NewMemoryStore(nil)
	case "mysql":
		return auth.NewSQLStore(ctx, cfg.Auth.Store.DSN)
	default:
		return nil, fmt.Errorf("未知的用户存储驱动: %s", cfg.Auth.Store.Driver)
	}
}

func buildAuthConfig(cfg *config.Config) auth.Config {
	bootstrap := make([]auth.BootstrapUser, 0, len(cfg.Auth.Bootstrap))
	for _, user := range cfg.Auth.Bootstrap {
		bootstrap = append(bootstrap, auth.BootstrapUser{
			Username: user.Username,
			Password: user.Password,
			Scopes:   user.Scopes,
		})
	}
	return auth.Config{
		Mode: auth.Mode(cfg.Auth.Mode),
		JWT: auth.JWTOptions{
			Secret:       cfg.ResolveJWTSecret(),
			Issuer:       cfg.Auth.JWT.Issuer,
			TTLSeconds:   int64(cfg.Auth.JWT.TTLSeconds),
			AllowRefresh: cfg.Auth.JWT.AllowRefresh,
		},
		OAuth: auth.OAuthOptions{
			IntrospectionURL: cfg.Auth.OAuth.IntrospectionURL,
			ClientID:         cfg.Auth.OAuth.ClientID,
			ClientSecret:     cfg.Auth.OAuth.ClientSecret,
			TimeoutSeconds:   cfg.Auth.OAuth.TimeoutSeconds,
		},
		Bootstrap: bootstrap,
	}
}

// pluginProcessor 把插件管理器接入对话结果后处理。
type pluginProcessor struct {
	manager *plugin.Manager
}

func (p *pluginProcessor) ProcessResult(ctx context.Context, result *provider.Result) error {
	payload := &plugin.ResultPayload{Text: result.Text, HTML: result.HTML}
	if err := p.manager.ProcessResult(ctx, payload); err != nil {
		return err
	}
	result.Text = payload.Text
	result.HTML = payload.HTML
	return nil
}
