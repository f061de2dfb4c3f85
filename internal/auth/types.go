package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// 身份认证子系统的公共错误。
var (
	ErrDisabled           = errors.New("authentication disabled")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnsupportedGrant   = errors.New("unsupported grant type")
	ErrInvalidToken       = errors.New("invalid token")
	ErrMissingToken       = errors.New("missing bearer token")
	ErrScopeDenied        = errors.New("scope denied")
	ErrSubjectRevoked     = errors.New("subject is disabled")
)

// 接口访问所需的权限范围。
const (
	ScopeChat      = "chat:invoke"
	ScopeMedia     = "media:invoke"
	ScopeJobsRead  = "jobs:read"
	ScopeJobsWrite = "jobs:write"
)

// Store 抽象用户凭证的持久化存储,实现必须支持并发访问。
type Store interface {
	FindUserByUsername(ctx context.Context, username string) (*User, error)
	LoadSubject(ctx context.Context, userID int64) (*Subject, error)
}

// Bootstrapper 由支持初始化账号写入的存储实现。
type Bootstrapper interface {
	ApplyBootstrap(ctx context.Context, user BootstrapUser) error
}

// User 表示带凭证的持久化账号。
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Disabled     bool
}

// Subject 是访问令牌中携带、并通过上下文传给处理函数的主体信息。
type Subject struct {
	ID       int64
	Username string
	Scopes   []string
	Disabled bool

	scopeSet map[string]struct{}
}

// normalise 构建权限范围的查找集合。
func (s *Subject) normalise() {
	if s == nil {
		return
	}
	if s.scopeSet == nil {
		s.scopeSet = make(map[string]struct{}, len(s.Scopes))
		for _, scope := range s.Scopes {
			s.scopeSet[strings.ToLower(strings.TrimSpace(scope))] = struct{}{}
		}
	}
}

// HasScope 判断主体是否拥有指定权限范围。
func (s *Subject) HasScope(scope string) bool {
	if s == nil {
		return false
	}
	s.normalise()
	_, ok := s.scopeSet[strings.ToLower(strings.TrimSpace(scope))]
	return ok
}

// Authorize 确认主体拥有全部所需权限范围。
func (s *Subject) Authorize(scopes ...string) error {
	if s == nil {
		return ErrInvalidToken
	}
	if s.Disabled {
		return ErrSubjectRevoked
	}
	for _, scope := range scopes {
		if scope == "" {
			continue
		}
		if !s.HasScope(scope) {
			return fmt.Errorf("%w: missing %s", ErrScopeDenied, scope)
		}
	}
	return nil
}

// Clone 返回主体的浅拷贝。
func (s *Subject) Clone() *Subject {
	if s == nil {
		return nil
	}
	clone := &Subject{
		ID:       s.ID,
		Username: s.Username,
		Scopes:   append([]string(nil), s.Scopes...),
		Disabled: s.Disabled,
	}
	clone.normalise()
	return clone
}

// TokenRequest 是令牌签发端点接受的请求体。
type TokenRequest struct {
	GrantType string   `json:"grant_type"`
	Username  string   `json:"username"`
	Password  string   `json:"password"`
	Scope     []string `json:"scope,omitempty"`
}

// TokenPair 是签发出的访问令牌与可选的刷新令牌。
type TokenPair struct {
	AccessToken      string   `json:"access_token"`
	ExpiresIn        int64    `json:"expires_in"`
	RefreshToken     string   `json:"refresh_token,omitempty"`
	RefreshExpiresIn int64    `json:"refresh_expires_in,omitempty"`
	TokenType        string   `json:"token_type"`
	Subject          *Subject `json:"-"`
	GrantedScopes    []string `json:"scope,omitempty"`
}

// Config 配置身份认证服务。
type Config struct {
	Mode      Mode
	JWT       JWTOptions
	OAuth     OAuthOptions
	Bootstrap []BootstrapUser
}

// Mode 枚举支持的认证方式。
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeJWT      Mode = "jwt"
	ModeOAuth    Mode = "oauth"
)

// JWTOptions 是本地签发 JWT 所需的参数。
type JWTOptions struct {
	Secret       string
	Issuer       string
	TTLSeconds   int64
	AllowRefresh bool
}

// OAuthOptions 是委托给外部 OAuth2 服务时的配置。
type OAuthOptions struct {
	IntrospectionURL string
	ClientID         string
	ClientSecret     string
	TimeoutSeconds   int
	UsernameClaim    string
}

// BootstrapUser 定义初始化时写入的账号。
type BootstrapUser struct {
	Username string
	Password string
	Scopes   []string
	Disabled bool
}
