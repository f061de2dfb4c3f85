package history

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ExchangeRecord 表示一次完整问答的落库结构。
type ExchangeRecord struct {
	SessionID string
	Provider  string
	Model     string
	UserText  string
	ReplyText string
	ReplyHTML string
	CreatedAt int64
}

// Repository 抽象对话历史的持久化接口。
type Repository interface {
	Save(ctx context.Context, record ExchangeRecord) error
	ListLatest(ctx context.Context, sessionID string, limit int) ([]ExchangeRecord, error)
}

// MemoryRepository 使用本地 JSON 行文件模拟 MySQL 的效果，方便迭代开发。
type MemoryRepository struct {
	mu       sync.RWMutex
	dataFile string
	records  []ExchangeRecord
}

// NewMemoryRepository 创建一个内存历史仓库。
func NewMemoryRepository(dataDir string) (*MemoryRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	path := filepath.Join(dataDir, "exchanges.log")
	repo := &MemoryRepository{dataFile: path}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Save 以追加写的方式记录问答结果。
func (m *MemoryRepository) Save(_ context.Context, record ExchangeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开历史日志失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化历史记录失败: %w", err)
	}

	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入历史日志失败: %w", err)
	}

	m.records = append([]ExchangeRecord{record}, m.records...)
	if len(m.records) > 512 {
		m.records = m.records[:512]
	}
	return nil
}

// ListLatest 返回指定会话最近的问答记录，按时间倒序排列。
func (m *MemoryRepository) ListLatest(_ context.Context, sessionID string, limit int) ([]ExchangeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = len(m.records)
	}

	results := make([]ExchangeRecord, 0, limit)
	for _, record := range m.records {
		if sessionID != "" && record.SessionID != sessionID {
			continue
		}
		results = append(results, record)
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

func (m *MemoryRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取历史日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var restored []ExchangeRecord
	for scanner.Scan() {
		var record ExchangeRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		restored = append([]ExchangeRecord{record}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析历史日志失败: %w", err)
	}

	if len(restored) > 512 {
		restored = restored[:512]
	}
	if len(restored) > 0 {
		m.records = restored
	}
	return nil
}

var _ Repository = (*MemoryRepository)(nil)
