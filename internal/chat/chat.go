package chat

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	xerrors "ChatGate/internal/errors"
	"ChatGate/internal/history"
	"ChatGate/internal/observability/metrics"
	"ChatGate/internal/prompts"
	"ChatGate/internal/provider"
	redisstorage "ChatGate/internal/storage/redis"
	"ChatGate/pkg/logger"
)

// Request 描述一次对话补全请求。
type Request struct {
	SessionID   string             `json:"session_id,omitempty"`
	Provider    string             `json:"provider,omitempty"`
	Model       string             `json:"model,omitempty"`
	Messages    []provider.Message `json:"messages"`
	MaxTokens   int                `json:"max_tokens,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
}

// Response 汇总一次补全的结果。
type Response struct {
	Provider  string          `json:"provider"`
	Model     string          `json:"model,omitempty"`
	Text      string          `json:"text,omitempty"`
	HTML      string          `json:"html,omitempty"`
	Files     []provider.File `json:"files,omitempty"`
	Cached    bool            `json:"cached,omitempty"`
	CreatedAt int64           `json:"created_at"`
}

// ClientSelector 按名称返回对话客户端，空名称返回默认客户端。
// ResolveProvider 把空名称归一化为默认服务的实际名称,保证同一逻辑请求
// 无论是否省略 provider 字段都落在同一个缓存键上。
type ClientSelector interface {
	Chat(name string) (provider.ChatClient, bool)
	ResolveProvider(name string) string
}

// Cache 抽象补全结果缓存。
type Cache interface {
	Get(ctx context.Context, key string) (*provider.Result, error)
	Set(ctx context.Context, key string, result *provider.Result) error
}

// ResultProcessor 在结果返回前做后处理，例如渲染 HTML。
type ResultProcessor interface {
	ProcessResult(ctx context.Context, result *provider.Result) error
}

// Service 协调提示词、历史与 AI 客户端，是对话链路的业务核心。
type Service struct {
	clients     ClientSelector
	repository  history.Repository
	prompts     prompts.Provider
	cache       Cache
	processors  []ResultProcessor
	memoryDepth int
	chatTimeout time.Duration
}

// Option 定义可选的 Service 配置。
type Option func(*Service)

// defaultMemoryDepth 是补全时可参考的历史问答数量的默认值。
const defaultMemoryDepth = 8

// WithMemoryDepth 设置补全时可参考的历史问答数量。
func WithMemoryDepth(depth int) Option {
	return func(s *Service) {
		s.memoryDepth = depth
	}
}

// WithPromptProvider 配置提示词预设，用于在补全前注入系统提示。
func WithPromptProvider(p prompts.Provider) Option {
	return func(s *Service) {
		s.prompts = p
	}
}

// WithCache 配置补全结果缓存。
func WithCache(cache Cache) Option {
	return func(s *Service) {
		s.cache = cache
	}
}

// WithChatTimeout 设置单次调用 AI 客户端的超时时间。
func WithChatTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout <= 0 {
			s.chatTimeout = 0
			return
		}
		s.chatTimeout = timeout
	}
}

// WithResultProcessor 追加一个结果后处理器。
func WithResultProcessor(processor ResultProcessor) Option {
	return func(s *Service) {
		if processor != nil {
			s.processors = append(s.processors, processor)
		}
	}
}

// New 创建对话服务。
func New(clients ClientSelector, repo history.Repository, opts ...Option) *Service {
	s := &Service{
		clients:     clients,
		repository:  repo,
		memoryDepth: defaultMemoryDepth,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.memoryDepth < 0 {
		s.memoryDepth = 0
	}
	return s
}

// Complete 执行一次补全，必要时命中缓存。
func (s *Service) Complete(ctx context.Context, req Request) (*Response, error) {
	client, providerName, messages, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	cacheKey := ""
	if s.cache != nil {
		cacheKey = redisstorage.CacheKey(providerName, req.Model, messages)
		if cached, cacheErr := s.cache.Get(ctx, cacheKey); cacheErr != nil {
			logger.L().Warn("读取补全缓存失败", slog.Any("error", cacheErr))
		} else if cached != nil {
			return &Response{
				Provider:  providerName,
				Model:     req.Model,
				Text:      cached.Text,
				HTML:      cached.HTML,
				Files:     cached.Files,
				Cached:    true,
				CreatedAt: time.Now().Unix(),
			}, nil
		}
	}

	callCtx := ctx
	if s.chatTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.chatTimeout)
		defer cancel()
	}

	start := time.Now()
	result, err := client.Complete(callCtx, provider.ChatRequest{
		Messages:    messages,
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	metrics.ObserveProviderRequest(providerName, "chat", err, time.Since(start))
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "对话补全超时")
		}
		return nil, err
	}

	return s.finish(ctx, req, providerName, messages, cacheKey, result)
}

// Stream 执行一次流式补全，增量文本通过 handler 回调。流式结果不读写缓存。
func (s *Service) Stream(ctx context.Context, req Request, handler provider.StreamHandler) (*Response, error) {
	client, providerName, messages, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	callCtx := ctx
	if s.chatTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.chatTimeout)
		defer cancel()
	}

	start := time.Now()
	result, err := client.Stream(callCtx, provider.ChatRequest{
		Messages:    messages,
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}, handler)
	metrics.ObserveProviderRequest(providerName, "chat_stream", err, time.Since(start))
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "对话补全超时")
		}
		return nil, err
	}

	return s.finish(ctx, req, providerName, messages, "", result)
}

// prepare 校验请求并拼装最终发送给客户端的消息序列。
func (s *Service) prepare(ctx context.Context, req Request) (provider.ChatClient, string, []provider.Message, error) {
	if s.clients == nil {
		return nil, "", nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置对话客户端")
	}
	if len(req.Messages) == 0 {
		return nil, "", nil, xerrors.New(xerrors.CodeInvalidArgument, "消息列表不能为空")
	}
	latest := latestUserText(req.Messages)
	if strings.TrimSpace(latest) == "" {
		return nil, "", nil, xerrors.New(xerrors.CodeInvalidArgument, "缺少用户消息")
	}

	client, ok := s.clients.Chat(req.Provider)
	if !ok || client == nil {
		return nil, "", nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的对话服务 %s", req.Provider))
	}
	providerName := s.clients.ResolveProvider(req.Provider)
	if providerName == "" {
		providerName = req.Provider
	}

	messages := make([]provider.Message, 0, len(req.Messages)+2*s.memoryDepth+2)
	if s.prompts != nil {
		for _, preset := range s.prompts.Match(latest, providerName) {
			if strings.TrimSpace(preset.Prompt) == "" {
				continue
			}
			messages = append(messages, provider.Message{Role: provider.RoleSystem, Content: preset.Prompt})
		}
	}
	messages = append(messages, s.loadHistory(ctx, req.SessionID)...)
	messages = append(messages, req.Messages...)
	return client, providerName, messages, nil
}

// finish 做结果后处理、落库与缓存写入。
func (s *Service) finish(ctx context.Context, req Request, providerName string, messages []provider.Message, cacheKey string, result *provider.Result) (*Response, error) {
	if result == nil {
		result = &provider.Result{}
	}
	for _, processor := range s.processors {
		if err := processor.ProcessResult(ctx, result); err != nil {
			logger.L().Warn("结果后处理失败", slog.Any("error", err))
		}
	}

	now := time.Now().Unix()
	if s.repository != nil {
		record := history.ExchangeRecord{
			SessionID: req.SessionID,
			Provider:  providerName,
			Model:     req.Model,
			UserText:  latestUserText(req.Messages),
			ReplyText: result.Text,
			ReplyHTML: result.HTML,
			CreatedAt: now,
		}
		if err := s.repository.Save(ctx, record); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存对话记录失败")
		}
	}

	if s.cache != nil && cacheKey != "" {
		if err := s.cache.Set(ctx, cacheKey, result); err != nil {
			logger.L().Warn("写入补全缓存失败", slog.Any("error", err))
		}
	}

	return &Response{
		Provider:  providerName,
		Model:     req.Model,
		Text:      result.Text,
		HTML:      result.HTML,
		Files:     result.Files,
		CreatedAt: now,
	}, nil
}

// loadHistory 加载历史问答并转换为消息序列。
func (s *Service) loadHistory(ctx context.Context, sessionID string) []provider.Message {
	if s.repository == nil || s.memoryDepth <= 0 || sessionID == "" {
		return nil
	}
	records, err := s.repository.ListLatest(ctx, sessionID, s.memoryDepth)
	if err != nil {
		logger.L().Warn("加载历史对话失败", slog.Any("error", err), slog.String("session_id", sessionID))
		return nil
	}
	// 仓库按时间倒序返回，这里恢复为正序。
	messages := make([]provider.Message, 0, 2*len(records))
	for i := len(records) - 1; i >= 0; i-- {
		record := records[i]
		if record.UserText != "" {
			messages = append(messages, provider.Message{Role: provider.RoleUser, Content: record.UserText})
		}
		if record.ReplyText != "" {
			messages = append(messages, provider.Message{Role: provider.RoleAssistant, Content: record.ReplyText})
		}
	}
	return messages
}

func latestUserText(messages []provider.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == provider.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}
