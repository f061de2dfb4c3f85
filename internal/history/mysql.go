package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// SQLRepository 使用真实的 MySQL 数据库存储对话历史。
type SQLRepository struct {
	db *sql.DB
}

// NewSQLRepository 创建连接池并初始化数据表。
func NewSQLRepository(dsn string) (*SQLRepository, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("连接 MySQL 失败: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("无法连接到 MySQL: %w", err)
	}

	repo := &SQLRepository{db: db}
	if err := repo.initSchema(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (s *SQLRepository) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS exchanges (
        id BIGINT AUTO_INCREMENT PRIMARY KEY,
        session_id VARCHAR(64) NOT NULL DEFAULT '',
        provider VARCHAR(32) NOT NULL DEFAULT '',
        model VARCHAR(64) NOT NULL DEFAULT '',
        user_text TEXT NOT NULL,
        reply_text TEXT NOT NULL,
        reply_html TEXT NOT NULL,
        created_at BIGINT NOT NULL,
        INDEX idx_session_created (session_id, created_at)
)`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("初始化 exchanges 表失败: %w", err)
	}
	return nil
}

// Save 将问答记录写入 MySQL。
func (s *SQLRepository) Save(ctx context.Context, record ExchangeRecord) error {
	const stmt = `INSERT INTO exchanges
        (session_id, provider, model, user_text, reply_text, reply_html, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, stmt,
		record.SessionID,
		record.Provider,
		record.Model,
		record.UserText,
		record.ReplyText,
		record.ReplyHTML,
		record.CreatedAt,
	); err != nil {
		return fmt.Errorf("写入 MySQL 失败: %w", err)
	}
	return nil
}

// ListLatest 查询指定会话最近的若干条问答记录。
func (s *SQLRepository) ListLatest(ctx context.Context, sessionID string, limit int) ([]ExchangeRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT session_id, provider, model, user_text, reply_text, reply_html, created_at
        FROM exchanges`
	args := make([]any, 0, 2)
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询历史记录失败: %w", err)
	}
	defer rows.Close()

	var records []ExchangeRecord
	for rows.Next() {
		var record ExchangeRecord
		if err := rows.Scan(&record.SessionID, &record.Provider, &record.Model, &record.UserText, &record.ReplyText, &record.ReplyHTML, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("解析历史记录失败: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历历史记录失败: %w", err)
	}

	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ Repository = (*SQLRepository)(nil)
