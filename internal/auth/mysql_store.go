package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
)

// SQLStore 基于 MySQL 持久化账号与权限范围。
type SQLStore struct {
	db *sql.DB
}

const createAuthUsersTable = `
CREATE TABLE IF NOT EXISTS auth_users (
    id BIGINT PRIMARY KEY AUTO_INCREMENT,
    username VARCHAR(128) NOT NULL,
    password_hash VARCHAR(256) NOT NULL,
    scopes TEXT,
    disabled TINYINT(1) NOT NULL DEFAULT 0,
    created_at BIGINT NOT NULL DEFAULT 0,
    updated_at BIGINT NOT NULL DEFAULT 0,
    UNIQUE KEY uniq_username (username)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`

// NewSQLStore 打开数据库连接并确保表结构存在。
func NewSQLStore(ctx context.Context, dsn string) (*SQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("mysql 用户存储需要配置 DSN")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("打开用户数据库失败: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("连接用户数据库失败: %w", err)
	}
	if _, err := db.ExecContext(ctx, createAuthUsersTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化用户表失败: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// ApplyBootstrap 实现 Bootstrapper,按用户名幂等写入。
func (s *SQLStore) ApplyBootstrap(ctx context.Context, bootstrap BootstrapUser) error {
	username := strings.TrimSpace(bootstrap.Username)
	if username == "" {
		return errors.New("初始化账号的用户名不能为空")
	}
	hashed, err := HashPassword(bootstrap.Password)
	if err != nil {
		return err
	}
	scopes, err := json.Marshal(dedupeScopes(bootstrap.Scopes))
	if err != nil {
		return fmt.Errorf("编码权限范围失败: %w", err)
	}
	disabled := 0
	if bootstrap.Disabled {
		disabled = 1
	}
	const query = `
INSERT INTO auth_users (username, password_hash, scopes, disabled, created_at, updated_at)
VALUES (?, ?, ?, ?, UNIX_TIMESTAMP(), UNIX_TIMESTAMP())
ON DUPLICATE KEY UPDATE password_hash = VALUES(password_hash), scopes = VALUES(scopes),
    disabled = VALUES(disabled), updated_at = UNIX_TIMESTAMP()`
	if _, err := s.db.ExecContext(ctx, query, username, hashed, string(scopes), disabled); err != nil {
		return fmt.Errorf("写入初始化账号失败: %w", err)
	}
	return nil
}

// FindUserByUsername 查找账号记录。
func (s *SQLStore) FindUserByUsername(ctx context.Context, username string) (*User, error) {
	const query = `SELECT id, username, password_hash, disabled FROM auth_users WHERE username = ?`
	row := s.db.QueryRowContext(ctx, query, strings.TrimSpace(username))
	var user User
	var disabled int
	if err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &disabled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.New("用户不存在")
		}
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}
	user.Disabled = disabled != 0
	return &user, nil
}

// LoadSubject 返回带权限范围的主体。
func (s *SQLStore) LoadSubject(ctx context.Context, userID int64) (*Subject, error) {
	const query = `SELECT id, username, scopes, disabled FROM auth_users WHERE id = ?`
	row := s.db.QueryRowContext(ctx, query, userID)
	var subject Subject
	var rawScopes sql.NullString
	var disabled int
	if err := row.Scan(&subject.ID, &subject.Username, &rawScopes, &disabled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.New("主体不存在")
		}
		return nil, fmt.Errorf("查询主体失败: %w", err)
	}
	subject.Disabled = disabled != 0
	if rawScopes.Valid && rawScopes.String != "" {
		if err := json.Unmarshal([]byte(rawScopes.String), &subject.Scopes); err != nil {
			return nil, fmt.Errorf("解析权限范围失败: %w", err)
		}
	}
	subject.normalise()
	return &subject, nil
}

// Close 释放数据库连接。
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var (
	_ Store        = (*SQLStore)(nil)
	_ Bootstrapper = (*SQLStore)(nil)
	_ Store        = (*MemoryStore)(nil)
	_ Bootstrapper = (*MemoryStore)(nil)
)
