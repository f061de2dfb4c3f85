package job

import (
	"context"
	"time"

	xerrors "ChatGate/internal/errors"
	"ChatGate/internal/observability/metrics"
	"ChatGate/internal/provider"
)

// Runner 将作业分派给对应的 AI 客户端执行。
type Runner struct {
	summaries  provider.SummaryClient
	assistants provider.AssistantClient
}

// NewRunner 构造作业执行器，未配置的能力可以传 nil。
func NewRunner(summaries provider.SummaryClient, assistants provider.AssistantClient) *Runner {
	return &Runner{summaries: summaries, assistants: assistants}
}

// Execute 实现 Executor 接口。
func (r *Runner) Execute(ctx context.Context, job *Job) (*ExecutionResult, error) {
	if job == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "job 不能为空")
	}
	switch job.Kind {
	case KindSummarize:
		return r.runSummarize(ctx, job)
	case KindAssistantChat:
		return r.runAssistantChat(ctx, job)
	default:
		return nil, xerrors.New(CodeJobValidation, "不支持的作业类型")
	}
}

func (r *Runner) runSummarize(ctx context.Context, job *Job) (*ExecutionResult, error) {
	if r.summaries == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置文本摘要客户端")
	}
	if job.Payload.Summary == nil {
		return nil, xerrors.New(CodeJobValidation, "摘要作业缺少 payload")
	}

	start := time.Now()
	result, err := r.summaries.Summarize(ctx, *job.Payload.Summary)
	metrics.ObserveProviderRequest("azure", "summarize", err, time.Since(start))
	if err != nil {
		return nil, err
	}
	return &ExecutionResult{Text: result.Text, HTML: result.HTML, Files: result.Files}, nil
}

func (r *Runner) runAssistantChat(ctx context.Context, job *Job) (*ExecutionResult, error) {
	if r.assistants == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置助手客户端")
	}
	if job.Payload.Assistant == nil {
		return nil, xerrors.New(CodeJobValidation, "助手作业缺少 payload")
	}

	start := time.Now()
	result, err := r.assistants.RunAssistant(ctx, *job.Payload.Assistant)
	metrics.ObserveProviderRequest("openai", "assistant", err, time.Since(start))
	if err != nil {
		return nil, err
	}
	return &ExecutionResult{Text: result.Text, HTML: result.HTML, Files: result.Files}, nil
}

var _ Executor = (*Runner)(nil)
