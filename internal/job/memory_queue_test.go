package job

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

func TestMemoryQueuePublishDuringCloseDoesNotPanic(t *testing.T) {
	ctx := context.Background()

	for round := 0; round < 50; round++ {
		queue := NewMemoryQueue(4)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				// 关闭后投递返回错误即可,不允许 panic。
				_ = queue.Publish(ctx, fmt.Sprintf("job-%d", n))
			}(i)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = queue.Close()
		}()
		wg.Wait()
	}
}

func TestMemoryQueuePublishAfterClose(t *testing.T) {
	queue := NewMemoryQueue(4)
	if err := queue.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := queue.Close(); err != nil {
		t.Fatalf("repeated close should be a no-op: %v", err)
	}
	if err := queue.Publish(context.Background(), "job-1"); err == nil {
		t.Fatal("expected publish to fail after close")
	}
}

func TestMemoryQueueRoundtrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	queue := NewMemoryQueue(4)
	defer queue.Close()

	if err := queue.Publish(ctx, "job-1"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	received := make(chan string, 1)
	go func() {
		_ = queue.Consume(ctx, 1, func(_ context.Context, jobID string) error {
			received <- jobID
			cancel()
			return nil
		})
	}()

	if got := <-received; got != "job-1" {
		t.Fatalf("unexpected job: %s", got)
	}
}
