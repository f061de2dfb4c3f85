package job

import (
	"context"
	"testing"
	"time"

	"ChatGate/internal/provider"
)

func TestMemoryStoreListWithFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().Add(-2 * time.Minute)

	jobs := []*Job{
		{ID: "j1", Kind: KindSummarize, Payload: Payload{Summary: &provider.SummaryRequest{Text: "长文档一"}}, Status: StatusPending, MaxRetries: 3},
		{ID: "j2", Kind: KindSummarize, Payload: Payload{Summary: &provider.SummaryRequest{Text: "长文档二"}}, Status: StatusFailed, MaxRetries: 3},
		{ID: "j3", Kind: KindAssistantChat, Payload: Payload{Assistant: &provider.AssistantRequest{AssistantID: "asst_1"}}, Status: StatusSucceeded, MaxRetries: 3},
	}

	for _, job := range jobs {
		if err := store.Create(ctx, job); err != nil {
			t.Fatalf("create job %s: %v", job.ID, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := store.MarkFailed(ctx, "j2", CodeJobProcessing, "boom", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "j3", ExecutionResult{Text: "ok"}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	store.mu.Lock()
	store.jobs["j1"].UpdatedAt = base.Unix()
	store.jobs["j2"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.jobs["j3"].UpdatedAt = base.Add(60 * time.Second).Unix()
	store.mu.Unlock()

	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(all))
	}
	if all[0].ID != "j3" {
		t.Fatalf("expected newest job first, got %s", all[0].ID)
	}

	failed, err := store.List(ctx, buildListOptions([]ListOption{WithStatuses(StatusFailed)}))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != "j2" {
		t.Fatalf("unexpected failed list: %+v", failed)
	}

	summaries, err := store.List(ctx, buildListOptions([]ListOption{WithKinds(KindSummarize)}))
	if err != nil {
		t.Fatalf("list by kind: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summarize jobs, got %d", len(summaries))
	}

	succeeded, err := store.List(ctx, buildListOptions([]ListOption{WithResultPresence(true)}))
	if err != nil {
		t.Fatalf("list with result: %v", err)
	}
	if len(succeeded) != 1 || succeeded[0].ID != "j3" {
		t.Fatalf("unexpected result list: %+v", succeeded)
	}

	since := base.Add(15 * time.Second)
	recent, err := store.List(ctx, buildListOptions([]ListOption{WithUpdatedSince(since)}))
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 jobs to match since filter, got %d", len(recent))
	}

	matched, err := store.List(ctx, buildListOptions([]ListOption{WithQuery("长文档二")}))
	if err != nil {
		t.Fatalf("list by query: %v", err)
	}
	if len(matched) != 1 || matched[0].ID != "j2" {
		t.Fatalf("unexpected query list: %+v", matched)
	}
}

func TestMemoryStoreClaimLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	job := &Job{ID: "j1", Kind: KindSummarize, Payload: Payload{Summary: &provider.SummaryRequest{Text: "doc"}}, Status: StatusPending, MaxRetries: 2}
	if err := store.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}

	claimed, err := store.Claim(ctx, "j1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != StatusRunning || claimed.Attempts != 1 {
		t.Fatalf("unexpected claimed state: %+v", claimed)
	}

	if _, err := store.Claim(ctx, "j1"); !IsJobError(err, CodeJobConflict) {
		t.Fatalf("expected conflict for running job, got %v", err)
	}

	if err := store.MarkSucceeded(ctx, "j1", ExecutionResult{Text: "summary"}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}
	if _, err := store.Claim(ctx, "j1"); !IsJobError(err, CodeJobCompleted) {
		t.Fatalf("expected completed error, got %v", err)
	}

	if _, err := store.Claim(ctx, "missing"); !IsJobError(err, CodeJobNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreStats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	jobs := []*Job{
		{ID: "a", Kind: KindSummarize, Payload: Payload{Summary: &provider.SummaryRequest{Text: "g1"}}, Status: StatusPending, MaxRetries: 3},
		{ID: "b", Kind: KindSummarize, Payload: Payload{Summary: &provider.SummaryRequest{Text: "g2"}}, Status: StatusPending, MaxRetries: 3},
		{ID: "c", Kind: KindAssistantChat, Payload: Payload{Assistant: &provider.AssistantRequest{AssistantID: "asst_1"}}, Status: StatusPending, MaxRetries: 3},
	}

	for _, job := range jobs {
		if err := store.Create(ctx, job); err != nil {
			t.Fatalf("create job %s: %v", job.ID, err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	if err := store.MarkFailed(ctx, "b", CodeJobProcessing, "boom", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "c", ExecutionResult{Text: "ok"}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Pending != 1 || stats.Failed != 1 || stats.Succeeded != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	withResults, err := store.Stats(ctx, buildListOptions([]ListOption{WithResultPresence(true)}))
	if err != nil {
		t.Fatalf("stats with result: %v", err)
	}
	if withResults.Total != 1 || withResults.Succeeded != 1 {
		t.Fatalf("unexpected stats with result: %+v", withResults)
	}

	assistantOnly, err := store.Stats(ctx, buildListOptions([]ListOption{WithKinds(KindAssistantChat)}))
	if err != nil {
		t.Fatalf("stats by kind: %v", err)
	}
	if assistantOnly.Total != 1 || assistantOnly.Succeeded != 1 {
		t.Fatalf("unexpected assistant stats: %+v", assistantOnly)
	}
}
