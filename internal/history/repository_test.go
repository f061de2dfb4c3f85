package history

import (
	"context"
	"testing"
	"time"
)

func TestMemoryRepositorySaveAndList(t *testing.T) {
	t.Parallel()

	repo, err := NewMemoryRepository(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create memory repo: %v", err)
	}

	ctx := context.Background()
	now := time.Now().Unix()
	records := []ExchangeRecord{
		{SessionID: "s1", Provider: "openai", UserText: "你好", ReplyText: "hello", CreatedAt: now},
		{SessionID: "s2", Provider: "openai", UserText: "hi", ReplyText: "hey", CreatedAt: now + 1},
		{SessionID: "s1", Provider: "openai", UserText: "再见", ReplyText: "bye", CreatedAt: now + 2},
	}
	for _, record := range records {
		if err := repo.Save(ctx, record); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	list, err := repo.ListLatest(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 records for s1, got %d", len(list))
	}
	if list[0].ReplyText != "bye" {
		t.Fatalf("records not in reverse order: %+v", list)
	}

	list, err = repo.ListLatest(ctx, "", 2)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected limit to apply, got %d records", len(list))
	}
}

func TestMemoryRepositoryRestoresFromDisk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	repo, err := NewMemoryRepository(dir)
	if err != nil {
		t.Fatalf("failed to create memory repo: %v", err)
	}

	ctx := context.Background()
	if err := repo.Save(ctx, ExchangeRecord{SessionID: "s1", UserText: "q", ReplyText: "a", CreatedAt: 1}); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	reopened, err := NewMemoryRepository(dir)
	if err != nil {
		t.Fatalf("failed to reopen memory repo: %v", err)
	}
	list, err := reopened.ListLatest(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 1 || list[0].ReplyText != "a" {
		t.Fatalf("expected restored record, got %+v", list)
	}
}
