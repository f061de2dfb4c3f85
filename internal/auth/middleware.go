package auth

import (
	"log/slog"
	"net/http"
	"time"

	loggerpkg "ChatGate/pkg/logger"
)

// MiddlewareConfig 配置认证中间件的行为。
type MiddlewareConfig struct {
	// RequiredScopes 按 HTTP 方法定义所需权限范围,键 "*" 匹配全部方法。
	RequiredScopes map[string][]string
	// AuditEvent 指定审计日志使用的事件名,默认取请求路径。
	AuditEvent string
}

// Middleware 返回处理认证与授权的 HTTP 中间件。认证关闭时直接放行。
func (s *Service) Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s == nil || s.mode == ModeDisabled {
				next.ServeHTTP(w, r)
				return
			}
			// 认证。
			subject, err := s.AuthenticateRequest(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				status := http.StatusUnauthorized
				switch err {
				case ErrScopeDenied, ErrSubjectRevoked:
					status = http.StatusForbidden
				}
				http.Error(w, http.StatusText(status), status)
				s.auditLogger().Warn("access_denied",
					"path", r.URL.Path,
					"method", r.Method,
					"status", status,
					"error", err.Error(),
				)
				return
			}
			// 授权。
			scopes := cfg.RequiredScopes[r.Method]
			if len(scopes) == 0 {
				scopes = cfg.RequiredScopes["*"]
			}
			if len(scopes) > 0 {
				if err := subject.Authorize(scopes...); err != nil {
					http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
					s.auditLogger().Warn("scope_denied",
						"path", r.URL.Path,
						"method", r.Method,
						"error", err.Error(),
						"user", subject.Username,
					)
					return
				}
			}
			// 记录审计日志。
			start := time.Now()
			aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			ctx := WithSubject(r.Context(), subject)
			next.ServeHTTP(aw, r.WithContext(ctx))
			event := cfg.AuditEvent
			if event == "" {
				event = r.URL.Path
			}
			s.auditLogger().Info("api_request",
				"event", event,
				"method", r.Method,
				"path", r.URL.Path,
				"status", aw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"user", subject.Username,
			)
		})
	}
}

func (s *Service) auditLogger() *slog.Logger {
	if s != nil && s.audit != nil {
		return s.audit
	}
	return loggerpkg.Audit()
}

// auditWriter 包装 ResponseWriter 以捕获响应状态码。
type auditWriter struct {
	http.ResponseWriter
	status int
}

func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush 透传给底层实现,SSE 推流依赖它。
func (w *auditWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
