package auth

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// MemoryStore 是 Store 的内存实现,用于开发与测试。
type MemoryStore struct {
	mu     sync.RWMutex
	users  map[string]*User
	byID   map[int64]*Subject
	nextID int64
}

// NewMemoryStore 使用初始化账号构建内存存储。
func NewMemoryStore(users []BootstrapUser) (*MemoryStore, error) {
	store := &MemoryStore{
		users:  make(map[string]*User),
		byID:   make(map[int64]*Subject),
		nextID: 1,
	}
	for _, user := range users {
		if err := store.ApplyBootstrap(context.Background(), user); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// ApplyBootstrap 实现 Bootstrapper。
func (s *MemoryStore) ApplyBootstrap(_ context.Context, bootstrap BootstrapUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	username := strings.TrimSpace(bootstrap.Username)
	if username == "" {
		return errors.New("初始化账号的用户名不能为空")
	}
	hashed, err := HashPassword(bootstrap.Password)
	if err != nil {
		return err
	}
	user, ok := s.users[username]
	if !ok {
		if s.nextID == 0 {
			s.nextID = 1
		}
		user = &User{ID: s.nextID}
		s.nextID++
	}
	user.Username = username
	user.PasswordHash = hashed
	user.Disabled = bootstrap.Disabled
	s.users[username] = user

	subject := &Subject{
		ID:       user.ID,
		Username: username,
		Scopes:   dedupeScopes(bootstrap.Scopes),
		Disabled: bootstrap.Disabled,
	}
	subject.normalise()
	s.byID[user.ID] = subject
	return nil
}

// FindUserByUsername 查找账号记录。
func (s *MemoryStore) FindUserByUsername(_ context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if user, ok := s.users[strings.TrimSpace(username)]; ok {
		clone := *user
		return &clone, nil
	}
	return nil, errors.New("用户不存在")
}

// LoadSubject 返回带权限范围的主体。
func (s *MemoryStore) LoadSubject(_ context.Context, userID int64) (*Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if subject, ok := s.byID[userID]; ok {
		return subject.Clone(), nil
	}
	return nil, errors.New("主体不存在")
}

func dedupeScopes(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		value = strings.ToLower(strings.TrimSpace(value))
		if value == "" {
			continue
		}
		seen[value] = struct{}{}
	}
	result := make([]string, 0, len(seen))
	for key := range seen {
		result = append(result, key)
	}
	sort.Strings(result)
	return result
}
