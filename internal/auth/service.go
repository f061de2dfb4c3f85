package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ChatGate/pkg/logger"
)

const (
	tokenTypeAccess   = "access"
	tokenTypeRefresh  = "refresh"
	grantTypePassword = "password"
	grantTypeRefresh  = "refresh_token"
	jwtHeaderJSON     = `{"alg":"HS256","typ":"JWT"}`
	passwordSaltBytes = 16
)

// encodedJWTHeader 是编码后的 JWT 头部。
var encodedJWTHeader = base64.RawURLEncoding.EncodeToString([]byte(jwtHeaderJSON))

// Service 负责 HTTP 端点的身份验证与授权。
type Service struct {
	mode  Mode
	store Store
	jwt   *jwtManager
	oauth *oauthClient
	audit *slog.Logger
}

// NewService 构造身份认证服务。
func NewService(ctx context.Context, cfg Config, store Store) (*Service, error) {
	mode := Mode(strings.ToLower(string(cfg.Mode)))
	if mode == "" {
		mode = ModeDisabled
	}
	svc := &Service{
		mode:  mode,
		store: store,
		audit: logger.Audit(),
	}

	switch mode {
	case ModeDisabled:
		return svc, nil
	case ModeJWT:
		if store == nil {
			return nil, errors.New("jwt 模式需要配置用户存储")
		}
		if strings.TrimSpace(cfg.JWT.Secret) == "" {
			return nil, errors.New("jwt 模式需要配置签名密钥")
		}
		if cfg.JWT.TTLSeconds <= 0 {
			cfg.JWT.TTLSeconds = 3600
		}
		svc.jwt = &jwtManager{
			secret:       []byte(cfg.JWT.Secret),
			issuer:       cfg.JWT.Issuer,
			accessTTL:    time.Duration(cfg.JWT.TTLSeconds) * time.Second,
			refreshTTL:   time.Duration(cfg.JWT.TTLSeconds) * time.Second * 24,
			allowRefresh: cfg.JWT.AllowRefresh,
		}
	case ModeOAuth:
		client, err := newOAuthClient(cfg.OAuth)
		if err != nil {
			return nil, err
		}
		svc.oauth = client
	default:
		return nil, fmt.Errorf("不支持的认证模式: %s", cfg.Mode)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	if len(cfg.Bootstrap) > 0 && store != nil {
		if writer, ok := store.(Bootstrapper); ok {
			for _, user := range cfg.Bootstrap {
				if err := writer.ApplyBootstrap(ctx, user); err != nil {
					return nil, fmt.Errorf("初始化账号 %s 失败: %w", user.Username, err)
				}
			}
		}
	}
	return svc, nil
}

// Mode 返回当前的认证模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// Authenticate 根据令牌请求签发令牌对。
func (s *Service) Authenticate(ctx context.Context, req TokenRequest) (*TokenPair, error) {
	if s == nil || s.mode == ModeDisabled {
		return nil, ErrDisabled
	}
	switch s.mode {
	case ModeJWT:
		return s.authenticateJWT(ctx, req)
	case ModeOAuth:
		// 令牌由外部 OAuth 服务签发,这里只负责校验。
		return nil, ErrUnsupportedGrant
	default:
		return nil, ErrDisabled
	}
}

func (s *Service) authenticateJWT(ctx context.Context, req TokenRequest) (*TokenPair, error) {
	grant := strings.TrimSpace(strings.ToLower(req.GrantType))
	if grant == "" {
		grant = grantTypePassword
	}
	switch grant {
	case grantTypePassword:
		return s.issueByPassword(ctx, req)
	case grantTypeRefresh:
		return s.issueByRefresh(ctx, req.Password)
	default:
		return nil, ErrUnsupportedGrant
	}
}

func (s *Service) issueByPassword(ctx context.Context, req TokenRequest) (*TokenPair, error) {
	if s.store == nil {
		return nil, errors.New("未配置用户存储")
	}
	user, err := s.store.FindUserByUsername(ctx, strings.TrimSpace(req.Username))
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if user.Disabled {
		return nil, ErrSubjectRevoked
	}
	if !verifyPassword(user.PasswordHash, req.Password) {
		return nil, ErrInvalidCredentials
	}
	subject, err := s.store.LoadSubject(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("加载主体信息失败: %w", err)
	}
	if subject.Disabled {
		return nil, ErrSubjectRevoked
	}
	if s.jwt == nil {
		return nil, errors.New("jwt 管理器未初始化")
	}
	pair, err := s.jwt.Generate(subject)
	if err != nil {
		return nil, err
	}
	pair.Subject = subject.Clone()
	return pair, nil
}

// issueByRefresh 使用刷新令牌换取新的令牌对。刷新令牌放在 password 字段里传递。
func (s *Service) issueByRefresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if s.jwt == nil {
		return nil, errors.New("jwt 管理器未初始化")
	}
	if !s.jwt.allowRefresh {
		return nil, ErrUnsupportedGrant
	}
	claims, err := s.jwt.Verify(strings.TrimSpace(refreshToken))
	if err != nil {
		return nil, err
	}
	if claims.TokenType != tokenTypeRefresh {
		return nil, ErrInvalidToken
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, ErrInvalidToken
	}
	subject, err := s.store.LoadSubject(ctx, userID)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if subject.Disabled {
		return nil, ErrSubjectRevoked
	}
	pair, err := s.jwt.Generate(subject)
	if err != nil {
		return nil, err
	}
	pair.Subject = subject.Clone()
	return pair, nil
}

// AuthenticateRequest 校验 Authorization 头并返回主体信息。
func (s *Service) AuthenticateRequest(ctx context.Context, authorization string) (*Subject, error) {
	if s == nil || s.mode == ModeDisabled {
		return nil, ErrDisabled
	}
	parts := strings.SplitN(strings.TrimSpace(authorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, ErrMissingToken
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return nil, ErrMissingToken
	}
	switch s.mode {
	case ModeJWT:
		return s.verifyJWT(ctx, token)
	case ModeOAuth:
		return s.verifyOAuth(ctx, token)
	default:
		return nil, ErrDisabled
	}
}

func (s *Service) verifyJWT(ctx context.Context, token string) (*Subject, error) {
	if s.jwt == nil {
		return nil, errors.New("jwt 管理器未初始化")
	}
	claims, err := s.jwt.Verify(token)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != tokenTypeAccess {
		return nil, ErrInvalidToken
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if s.store == nil {
		return nil, errors.New("未配置用户存储")
	}
	subject, err := s.store.LoadSubject(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("加载主体信息失败: %w", err)
	}
	if subject.Disabled {
		return nil, ErrSubjectRevoked
	}
	subject.normalise()
	return subject, nil
}

func (s *Service) verifyOAuth(ctx context.Context, token string) (*Subject, error) {
	if s.oauth == nil {
		return nil, errors.New("oauth 客户端未初始化")
	}
	info, err := s.oauth.introspect(ctx, token)
	if err != nil {
		return nil, err
	}
	if !info.Active {
		return nil, ErrInvalidToken
	}
	username := info.Username
	if username == "" {
		username = info.Subject
	}
	if username == "" {
		return nil, ErrInvalidToken
	}
	if s.store == nil {
		// 没有本地账号目录时直接信任外部身份。
		return &Subject{Username: username, Scopes: info.Scopes}, nil
	}
	user, err := s.store.FindUserByUsername(ctx, username)
	if err != nil {
		return nil, ErrInvalidToken
	}
	subject, err := s.store.LoadSubject(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("加载主体信息失败: %w", err)
	}
	if subject.Disabled {
		return nil, ErrSubjectRevoked
	}
	if len(info.Scopes) > 0 {
		// 合并外部权限范围。
		merged := make(map[string]struct{}, len(subject.Scopes)+len(info.Scopes))
		for _, scope := range subject.Scopes {
			merged[scope] = struct{}{}
		}
		for _, scope := range info.Scopes {
			merged[scope] = struct{}{}
		}
		scopes := make([]string, 0, len(merged))
		for key := range merged {
			scopes = append(scopes, key)
		}
		subject.Scopes = scopes
		subject.scopeSet = nil
	}
	subject.normalise()
	return subject, nil
}

// jwtManager 负责 JWT 的签名与校验。
type jwtManager struct {
	secret       []byte
	issuer       string
	accessTTL    time.Duration
	refreshTTL   time.Duration
	allowRefresh bool
}

type jwtClaims struct {
	Username  string   `json:"username,omitempty"`
	Scopes    []string `json:"scopes,omitempty"`
	TokenType string   `json:"type"`
	Subject   string   `json:"sub"`
	Issuer    string   `json:"iss,omitempty"`
	IssuedAt  int64    `json:"iat,omitempty"`
	ExpiresAt int64    `json:"exp,omitempty"`
}

// Generate 为主体生成访问令牌,必要时附带刷新令牌。
func (m *jwtManager) Generate(subject *Subject) (*TokenPair, error) {
	if subject == nil {
		return nil, errors.New("subject required")
	}
	subject.normalise()
	now := time.Now().Unix()

	accessClaims := jwtClaims{
		Username:  subject.Username,
		Scopes:    append([]string(nil), subject.Scopes...),
		TokenType: tokenTypeAccess,
		Subject:   strconv.FormatInt(subject.ID, 10),
		Issuer:    m.issuer,
		IssuedAt:  now,
		ExpiresAt: now + int64(m.accessTTL.Seconds()),
	}
	accessToken, err := m.sign(accessClaims)
	if err != nil {
		return nil, fmt.Errorf("签发访问令牌失败: %w", err)
	}
	pair := &TokenPair{
		AccessToken: accessToken,
		ExpiresIn:   int64(m.accessTTL.Seconds()),
		TokenType:   "Bearer",
	}

	if m.allowRefresh {
		refreshClaims := jwtClaims{
			Username:  subject.Username,
			TokenType: tokenTypeRefresh,
			Subject:   strconv.FormatInt(subject.ID, 10),
			Issuer:    m.issuer,
			IssuedAt:  now,
			ExpiresAt: now + int64(m.refreshTTL.Seconds()),
		}
		refreshToken, err := m.sign(refreshClaims)
		if err != nil {
			return nil, fmt.Errorf("签发刷新令牌失败: %w", err)
		}
		pair.RefreshToken = refreshToken
		pair.RefreshExpiresIn = int64(m.refreshTTL.Seconds())
	}
	return pair, nil
}

func (m *jwtManager) sign(claims jwtClaims) (string, error) {
	payloadBytes, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("编码声明失败: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(payloadBytes)
	signature := m.signature(encodedJWTHeader, payload)
	return strings.Join([]string{encodedJWTHeader, payload, base64.RawURLEncoding.EncodeToString(signature)}, "."), nil
}

func (m *jwtManager) signature(header, payload string) []byte {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(header))
	mac.Write([]byte("."))
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}

// Verify 校验令牌签名与有效期并返回声明。
func (m *jwtManager) Verify(token string) (*jwtClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrInvalidToken
	}
	expected := m.signature(parts[0], parts[1])
	actual, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, ErrInvalidToken
	}
	if subtle.ConstantTimeCompare(expected, actual) != 1 {
		return nil, ErrInvalidToken
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrInvalidToken
	}
	var claims jwtClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrInvalidToken
	}

	now := time.Now().Unix()
	if claims.ExpiresAt != 0 && now > claims.ExpiresAt {
		return nil, ErrInvalidToken
	}
	if m.issuer != "" && claims.Issuer != "" && !strings.EqualFold(m.issuer, claims.Issuer) {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

// oauthClient 调用外部 OAuth2 服务的令牌内省端点。
type oauthClient struct {
	config OAuthOptions
	client *http.Client
}

type introspectionResponse struct {
	Active    bool   `json:"active"`
	Subject   string `json:"sub"`
	Username  string `json:"username"`
	Scope     string `json:"scope"`
	ExpiresAt int64  `json:"exp"`
	ClientID  string `json:"client_id"`
}

type oauthSubject struct {
	Active   bool
	Subject  string
	Username string
	Scopes   []string
}

func newOAuthClient(cfg OAuthOptions) (*oauthClient, error) {
	if strings.TrimSpace(cfg.IntrospectionURL) == "" {
		return nil, errors.New("oauth 模式需要配置 introspection_url")
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 15
	}
	return &oauthClient{
		config: cfg,
		client: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
	}, nil
}

func (c *oauthClient) introspect(ctx context.Context, token string) (*oauthSubject, error) {
	form := url.Values{}
	form.Set("token", token)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.IntrospectionURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c.config.ClientID != "" {
		httpReq.SetBasicAuth(c.config.ClientID, c.config.ClientSecret)
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("oauth 令牌内省失败: %s", resp.Status)
	}
	var introspect introspectionResponse
	if err := json.NewDecoder(resp.Body).Decode(&introspect); err != nil {
		return nil, fmt.Errorf("解析内省响应失败: %w", err)
	}
	var scopes []string
	if introspect.Scope != "" {
		scopes = strings.Fields(introspect.Scope)
	}
	return &oauthSubject{
		Active:   introspect.Active,
		Subject:  introspect.Subject,
		Username: pickClaim(introspect, c.config.UsernameClaim),
		Scopes:   scopes,
	}, nil
}

func pickClaim(resp introspectionResponse, claim string) string {
	switch strings.ToLower(claim) {
	case "sub", "subject":
		return resp.Subject
	case "client_id":
		return resp.ClientID
	default:
		return resp.Username
	}
}

// HashPassword 对密码加盐哈希。
func HashPassword(password string) (string, error) {
	if strings.TrimSpace(password) == "" {
		return "", errors.New("密码不能为空")
	}
	salt := make([]byte, passwordSaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("生成盐失败: %w", err)
	}
	digest := sha256.Sum256(append(salt, []byte(password)...))
	encodedSalt := base64.RawStdEncoding.EncodeToString(salt)
	encodedDigest := base64.RawStdEncoding.EncodeToString(digest[:])
	return encodedSalt + ":" + encodedDigest, nil
}

func verifyPassword(hashed, password string) bool {
	if hashed == "" {
		return false
	}
	parts := strings.SplitN(hashed, ":", 2)
	if len(parts) != 2 {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}
	digest := sha256.Sum256(append(salt, []byte(password)...))
	return subtle.ConstantTimeCompare(expected, digest[:]) == 1
}
