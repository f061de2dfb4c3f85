package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ChatGate/internal/auth"
	"ChatGate/internal/chat"
	xerrors "ChatGate/internal/errors"
	"ChatGate/internal/history"
	"ChatGate/internal/job"
	"ChatGate/internal/observability/metrics"
	"ChatGate/internal/provider"
	"ChatGate/internal/provider/registry"
	"ChatGate/pkg/logger"
)

// maxAudioBytes 限制上传音频的体积。
const maxAudioBytes = 25 << 20

// Config 汇总 HTTP 服务依赖的组件。
type Config struct {
	Address  string
	Chat     *chat.Service
	Registry *registry.Registry
	Jobs     *job.Service
	Auth     *auth.Service
	History  history.Repository
}

// Server 暴露 REST 接口,是浏览器聊天组件对接的入口。
type Server struct {
	addr     string
	chat     *chat.Service
	registry *registry.Registry
	jobs     *job.Service
	auth     *auth.Service
	history  history.Repository
}

// NewServer 构造 API 服务实例。
func NewServer(cfg Config) *Server {
	return &Server{
		addr:     cfg.Address,
		chat:     cfg.Chat,
		registry: cfg.Registry,
		jobs:     cfg.Jobs,
		auth:     cfg.Auth,
		history:  cfg.History,
	}
}

// Handler 组装全部路由。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	chatScopes := map[string][]string{"*": {auth.ScopeChat}}
	mediaScopes := map[string][]string{"*": {auth.ScopeMedia}}
	jobScopes := map[string][]string{
		http.MethodGet:  {auth.ScopeJobsRead},
		http.MethodPost: {auth.ScopeJobsWrite},
	}

	mux.Handle("POST /api/v1/chat", s.protect("chat", chatScopes, s.handleChat))
	mux.Handle("GET /api/v1/chat/history", s.protect("chat_history", chatScopes, s.handleChatHistory))
	mux.Handle("GET /api/v1/providers", s.protect("providers", chatScopes, s.handleProviders))
	mux.Handle("POST /api/v1/images", s.protect("images", mediaScopes, s.handleImages))
	mux.Handle("POST /api/v1/speech", s.protect("speech", mediaScopes, s.handleSpeech))
	mux.Handle("POST /api/v1/transcriptions", s.protect("transcriptions", mediaScopes, s.handleTranscriptions))
	mux.Handle("POST /api/v1/translations", s.protect("translations", mediaScopes, s.handleTranslations))
	mux.Handle("POST /api/v1/jobs", s.protect("jobs", jobScopes, s.handleSubmitJob))
	mux.Handle("GET /api/v1/jobs", s.protect("jobs", jobScopes, s.handleListJobs))
	mux.Handle("GET /api/v1/jobs/stats", s.protect("job_stats", jobScopes, s.handleJobStats))
	mux.Handle("GET /api/v1/jobs/{id}", s.protect("job_get", jobScopes, s.handleGetJob))
	mux.Handle("POST /api/v1/auth/token", s.instrument("auth_token", s.handleToken))
	mux.Handle("GET /healthz", s.instrument("healthz", s.handleHealth))

	return mux
}

// Start 启动 HTTP 服务,直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.L().Info("HTTP 服务启动", slog.String("addr", s.addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// resultEnvelope 是所有接口统一的结果信封。
type resultEnvelope struct {
	Text     string          `json:"text,omitempty"`
	HTML     string          `json:"html,omitempty"`
	Files    []provider.File `json:"files,omitempty"`
	Provider string          `json:"provider,omitempty"`
	Cached   bool            `json:"cached,omitempty"`
	Error    string          `json:"error,omitempty"`
}

type chatPayload struct {
	chat.Request
	Stream bool `json:"stream,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "对话服务未初始化"))
		return
	}
	var payload chatPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}
	if payload.Stream {
		s.streamChat(w, r, payload.Request)
		return
	}
	resp, err := s.chat.Complete(r.Context(), payload.Request)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resultEnvelope{
		Text:     resp.Text,
		HTML:     resp.HTML,
		Files:    resp.Files,
		Provider: resp.Provider,
		Cached:   resp.Cached,
	})
}

// streamChat 以 SSE 推送增量文本:每段增量一条 data 事件,
// 结束时发送 done 事件携带完整信封,失败时发送 error 事件。
func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, req chat.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "当前连接不支持流式输出"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	resp, err := s.chat.Stream(r.Context(), req, func(delta string) error {
		if err := r.Context().Err(); err != nil {
			return err
		}
		return writeSSE(w, flusher, "", map[string]string{"delta": delta})
	})
	if err != nil {
		_ = writeSSE(w, flusher, "error", map[string]string{"error": publicMessage(err)})
		return
	}
	_ = writeSSE(w, flusher, "done", resultEnvelope{
		Text:     resp.Text,
		HTML:     resp.HTML,
		Files:    resp.Files,
		Provider: resp.Provider,
	})
}

func writeSSE(w io.Writer, flusher http.Flusher, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "历史存储未初始化"))
		return
	}
	limit := parseIntQuery(r, "limit", 20)
	sessionID := r.URL.Query().Get("session_id")
	records, err := s.history.ListLatest(r.Context(), sessionID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"exchanges": records})
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "服务注册表未初始化"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chat": s.registry.ChatProviders()})
}

func (s *Server) handleImages(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "服务注册表未初始化"))
		return
	}
	client, err := s.registry.Images()
	if err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "图片生成能力未配置"))
		return
	}
	var req provider.ImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}
	result, err := client.GenerateImages(r.Context(), req)
	writeResult(w, result, err)
}

func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "服务注册表未初始化"))
		return
	}
	client, err := s.registry.Speech()
	if err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "语音合成能力未配置"))
		return
	}
	var req provider.SpeechRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}
	result, err := client.Synthesize(r.Context(), req)
	writeResult(w, result, err)
}

// transcriptionPayload 是 JSON 形式上传音频的请求体,Data 为 base64。
type transcriptionPayload struct {
	FileName string `json:"file_name"`
	MIMEType string `json:"mime_type,omitempty"`
	Data     string `json:"data"`
	Model    string `json:"model,omitempty"`
	Language string `json:"language,omitempty"`
}

func (s *Server) handleTranscriptions(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "服务注册表未初始化"))
		return
	}
	client, err := s.registry.Transcriptions()
	if err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "语音转写能力未配置"))
		return
	}
	req, err := decodeTranscription(r)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := client.Transcribe(r.Context(), *req)
	writeResult(w, result, err)
}

// decodeTranscription 同时支持 multipart 表单与 JSON+base64 两种上传方式。
func decodeTranscription(r *http.Request) (*provider.TranscriptionRequest, error) {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(maxAudioBytes); err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "解析上传表单失败")
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "缺少音频文件字段 file")
		}
		defer file.Close()
		data, err := io.ReadAll(io.LimitReader(file, maxAudioBytes))
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "读取音频失败")
		}
		return &provider.TranscriptionRequest{
			FileName: header.Filename,
			MIMEType: header.Header.Get("Content-Type"),
			Data:     data,
			Model:    r.FormValue("model"),
			Language: r.FormValue("language"),
		}, nil
	}

	var payload transcriptionPayload
	if err := json.NewDecoder(io.LimitReader(r.Body, maxAudioBytes)).Decode(&payload); err != nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败")
	}
	data, err := base64.StdEncoding.DecodeString(payload.Data)
	if err != nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "音频数据必须是 base64 编码")
	}
	return &provider.TranscriptionRequest{
		FileName: payload.FileName,
		MIMEType: payload.MIMEType,
		Data:     data,
		Model:    payload.Model,
		Language: payload.Language,
	}, nil
}

func (s *Server) handleTranslations(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "服务注册表未初始化"))
		return
	}
	client, err := s.registry.Translations()
	if err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "文本翻译能力未配置"))
		return
	}
	var req provider.TranslationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}
	result, err := client.Translate(r.Context(), req)
	writeResult(w, result, err)
}

// submitJobPayload 是提交异步作业的请求体。
type submitJobPayload struct {
	ID        string                     `json:"id,omitempty"`
	Kind      job.Kind                   `json:"kind"`
	Summary   *provider.SummaryRequest   `json:"summary,omitempty"`
	Assistant *provider.AssistantRequest `json:"assistant,omitempty"`
	Metadata  map[string]any             `json:"metadata,omitempty"`
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "作业服务未初始化"))
		return
	}
	var payload submitJobPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}
	submitted, err := s.jobs.Submit(r.Context(), job.SubmitRequest{
		ID:   payload.ID,
		Kind: payload.Kind,
		Payload: job.Payload{
			Summary:   payload.Summary,
			Assistant: payload.Assistant,
		},
		Metadata: payload.Metadata,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitted)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "作业服务未初始化"))
		return
	}
	found, err := s.jobs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "作业服务未初始化"))
		return
	}
	opts, err := listOptionsFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	jobs, err := s.jobs.List(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleJobStats(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "作业服务未初始化"))
		return
	}
	opts, err := listOptionsFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := s.jobs.Stats(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// listOptionsFromQuery 把查询参数翻译为作业列表选项。
func listOptionsFromQuery(r *http.Request) ([]job.ListOption, error) {
	query := r.URL.Query()
	var opts []job.ListOption
	if limit := parseIntQuery(r, "limit", 0); limit > 0 {
		opts = append(opts, job.WithLimit(limit))
	}
	if offset := parseIntQuery(r, "offset", 0); offset > 0 {
		opts = append(opts, job.WithOffset(offset))
	}
	if raw := query.Get("status"); raw != "" {
		var statuses []job.Status
		for _, value := range strings.Split(raw, ",") {
			status := job.Status(strings.TrimSpace(value))
			if !job.IsValidStatus(status) {
				return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("无效的作业状态 %s", value))
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, job.WithStatuses(statuses...))
	}
	if raw := query.Get("kind"); raw != "" {
		var kinds []job.Kind
		for _, value := range strings.Split(raw, ",") {
			kind := job.Kind(strings.TrimSpace(value))
			if !job.IsValidKind(kind) {
				return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("无效的作业类型 %s", value))
			}
			kinds = append(kinds, kind)
		}
		opts = append(opts, job.WithKinds(kinds...))
	}
	if raw := query.Get("query"); raw != "" {
		opts = append(opts, job.WithQuery(raw))
	}
	return opts, nil
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil || s.auth.Mode() == auth.ModeDisabled {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "认证功能未启用"))
		return
	}
	var req auth.TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}
	pair, err := s.auth.Authenticate(r.Context(), req)
	if err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, auth.ErrUnsupportedGrant) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, resultEnvelope{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// protect 按路由叠加认证与指标中间件。
func (s *Server) protect(name string, scopes map[string][]string, handler http.HandlerFunc) http.Handler {
	wrapped := s.instrument(name, handler)
	if s.auth == nil {
		return wrapped
	}
	return s.auth.Middleware(auth.MiddlewareConfig{RequiredScopes: scopes})(wrapped)
}

// instrument 记录每个路由的请求数与耗时。
func (s *Server) instrument(name string, handler http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func writeResult(w http.ResponseWriter, result *provider.Result, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	if result == nil {
		result = &provider.Result{}
	}
	writeJSON(w, http.StatusOK, resultEnvelope{
		Text:  result.Text,
		HTML:  result.HTML,
		Files: result.Files,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.L().Warn("写入响应失败", slog.Any("error", err))
	}
}

// writeError 把内部错误翻译为统一的 {error} 信封。
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusOf(err), resultEnvelope{Error: publicMessage(err)})
}

func statusOf(err error) int {
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidArgument, job.CodeJobValidation:
		return http.StatusBadRequest
	case xerrors.CodeNotFound, job.CodeJobNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict, xerrors.CodeAlreadyCompleted, job.CodeJobConflict, job.CodeJobCompleted:
		return http.StatusConflict
	case xerrors.CodeRateLimited:
		return http.StatusTooManyRequests
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case xerrors.CodeProviderRejected:
		return http.StatusUnprocessableEntity
	case xerrors.CodeProviderFailure:
		return http.StatusBadGateway
	case xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func publicMessage(err error) string {
	if err == nil {
		return ""
	}
	if typed, ok := xerrors.From(err); ok {
		return typed.Message()
	}
	return err.Error()
}

func parseIntQuery(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
