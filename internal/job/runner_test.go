package job

import (
	"context"
	"testing"

	"ChatGate/internal/provider"
)

type fakeSummaryClient struct {
	result *provider.Result
	err    error
}

func (f *fakeSummaryClient) Summarize(_ context.Context, _ provider.SummaryRequest) (*provider.Result, error) {
	return f.result, f.err
}

type fakeAssistantClient struct {
	result *provider.Result
	err    error
}

func (f *fakeAssistantClient) RunAssistant(_ context.Context, _ provider.AssistantRequest) (*provider.Result, error) {
	return f.result, f.err
}

func TestRunnerDispatchesSummarize(t *testing.T) {
	runner := NewRunner(&fakeSummaryClient{result: &provider.Result{Text: "第一句。第二句。"}}, nil)

	result, err := runner.Execute(context.Background(), &Job{
		ID:      "j1",
		Kind:    KindSummarize,
		Payload: Payload{Summary: &provider.SummaryRequest{Text: "long document"}},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Text != "第一句。第二句。" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRunnerDispatchesAssistantChat(t *testing.T) {
	runner := NewRunner(nil, &fakeAssistantClient{result: &provider.Result{Text: "assistant reply"}})

	result, err := runner.Execute(context.Background(), &Job{
		ID:   "j1",
		Kind: KindAssistantChat,
		Payload: Payload{Assistant: &provider.AssistantRequest{
			AssistantID: "asst_1",
			Messages:    []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
		}},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Text != "assistant reply" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRunnerRejectsMissingCapability(t *testing.T) {
	runner := NewRunner(nil, nil)

	if _, err := runner.Execute(context.Background(), &Job{
		Kind:    KindSummarize,
		Payload: Payload{Summary: &provider.SummaryRequest{Text: "doc"}},
	}); err == nil {
		t.Fatalf("expected error without summary client")
	}

	if _, err := runner.Execute(context.Background(), &Job{Kind: Kind("unknown")}); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}
