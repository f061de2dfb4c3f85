package job

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	xerrors "ChatGate/internal/errors"
	"ChatGate/internal/observability/alerting"
	"ChatGate/internal/provider"
)

type fakeExecutor struct {
	processed atomic.Int32
	latency   time.Duration
	fail      error
}

func (f *fakeExecutor) Execute(ctx context.Context, job *Job) (*ExecutionResult, error) {
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail != nil {
		return nil, f.fail
	}
	f.processed.Add(1)
	return &ExecutionResult{Text: "ok"}, nil
}

func TestProcessorHandlesConcurrentJobs(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(1024)
	executor := &fakeExecutor{latency: 10 * time.Millisecond}

	service := NewService(store, queue, 3)
	processor := NewProcessor(executor, store, queue, queue, WithWorkerCount(8))

	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()

	total := 200
	for i := 0; i < total; i++ {
		req := SubmitRequest{
			Kind:    KindSummarize,
			Payload: Payload{Summary: &provider.SummaryRequest{Text: fmt.Sprintf("document-%d", i)}},
		}
		if _, err := service.Submit(ctx, req); err != nil {
			t.Fatalf("提交作业失败: %v", err)
		}
	}

	deadline := time.After(5 * time.Second)
	for {
		if int(executor.processed.Load()) >= total {
			cancel()
			break
		}
		select {
		case <-deadline:
			t.Fatalf("作业未能及时处理，已完成 %d", executor.processed.Load())
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestProcessorRetriesRetryableFailure(t *testing.T) {
	ctx := context.Background()

	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	executor := &fakeExecutor{fail: xerrors.New(xerrors.CodeProviderFailure, "upstream unavailable")}

	service := NewService(store, queue, 3)
	processor := NewProcessor(executor, store, queue, queue)

	job, err := service.Submit(ctx, SubmitRequest{
		Kind:    KindSummarize,
		Payload: Payload{Summary: &provider.SummaryRequest{Text: "doc"}},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	// 直接驱动一次处理，确认失败后重新入队。
	if err := processor.handle(ctx, job.ID); err != nil {
		t.Fatalf("handle: %v", err)
	}

	stored, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != StatusFailed || stored.Attempts != 1 {
		t.Fatalf("unexpected state after failure: %+v", stored)
	}

	select {
	case requeued := <-queue.ch:
		// 队列中应有原提交加上一次重投。
		if requeued != job.ID {
			t.Fatalf("unexpected job in queue: %s", requeued)
		}
	default:
		t.Fatalf("expected job to be requeued")
	}
}

func TestProcessorRecoveryFallback(t *testing.T) {
	ctx := context.Background()

	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	executor := &fakeExecutor{fail: xerrors.New(xerrors.CodeProviderRejected, "prompt rejected")}

	service := NewService(store, queue, 3)
	processor := NewProcessor(executor, store, queue, queue,
		WithRecoveryHandler(recoveryFunc(func(_ context.Context, _ *Job, cause error) (*ExecutionResult, error) {
			return &ExecutionResult{Text: "fallback: " + cause.Error()}, nil
		})),
	)

	job, err := service.Submit(ctx, SubmitRequest{
		Kind:    KindSummarize,
		Payload: Payload{Summary: &provider.SummaryRequest{Text: "doc"}},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if err := processor.handle(ctx, job.ID); err != nil {
		t.Fatalf("handle: %v", err)
	}

	stored, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != StatusSucceeded || stored.Result == nil {
		t.Fatalf("expected degraded success, got %+v", stored)
	}
}

func TestProcessorAlertsTerminalOnNonRetryableFailure(t *testing.T) {
	ctx := context.Background()

	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	executor := &fakeExecutor{fail: xerrors.New(xerrors.CodeProviderRejected, "prompt rejected")}

	dispatcher := &captureDispatcher{}
	service := NewService(store, queue, 3)
	processor := NewProcessor(executor, store, queue, queue, WithAlertDispatcher(dispatcher))

	job, err := service.Submit(ctx, SubmitRequest{
		Kind:    KindSummarize,
		Payload: Payload{Summary: &provider.SummaryRequest{Text: "doc"}},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	// 取走提交时的首次投递,便于断言处理后不再重投。
	<-queue.ch

	if err := processor.handle(ctx, job.ID); err != nil {
		t.Fatalf("handle: %v", err)
	}

	stored, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	// 不可重试的失败第一跳就是终态,不再重投。
	if stored.Status != StatusFailed {
		t.Fatalf("expected terminal failure, got %+v", stored)
	}
	if len(dispatcher.events) != 1 {
		t.Fatalf("expected one alert event, got %d", len(dispatcher.events))
	}
	if stage := dispatcher.events[0].Metadata["stage"]; stage != "terminal" {
		t.Fatalf("expected terminal stage, got %q", stage)
	}
	select {
	case requeued := <-queue.ch:
		t.Fatalf("terminal job should not be requeued: %s", requeued)
	default:
	}
}

type captureDispatcher struct {
	events []alerting.Event
}

func (d *captureDispatcher) Notify(_ context.Context, event alerting.Event) error {
	d.events = append(d.events, event)
	return nil
}

type recoveryFunc func(ctx context.Context, job *Job, cause error) (*ExecutionResult, error)

func (f recoveryFunc) Recover(ctx context.Context, job *Job, cause error) (*ExecutionResult, error) {
	return f(ctx, job, cause)
}
