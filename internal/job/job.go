package job

import (
	stdErrors "errors"

	xerrors "ChatGate/internal/errors"
	"ChatGate/internal/provider"
)

// Status 表示作业在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Kind 标识作业的处理类型。
type Kind string

const (
	// KindSummarize 对长文本发起抽取式摘要。
	KindSummarize Kind = "summarize"
	// KindAssistantChat 通过助手线程完成一次对话。
	KindAssistantChat Kind = "assistant_chat"
)

// Payload 保存各类作业的输入，按 Kind 只填写对应字段。
type Payload struct {
	Summary   *provider.SummaryRequest   `json:"summary,omitempty"`
	Assistant *provider.AssistantRequest `json:"assistant,omitempty"`
}

// ExecutionResult 保存一次作业执行的结果。
type ExecutionResult struct {
	Text  string          `json:"text,omitempty"`
	HTML  string          `json:"html,omitempty"`
	Files []provider.File `json:"files,omitempty"`
}

// Job 描述了排队执行的异步作业。
type Job struct {
	ID         string           `json:"id"`
	Kind       Kind             `json:"kind"`
	Payload    Payload          `json:"payload"`
	Metadata   map[string]any   `json:"metadata,omitempty"`
	Status     Status           `json:"status"`
	Attempts   int              `json:"attempts"`
	MaxRetries int              `json:"max_retries"`
	LastError  string           `json:"last_error,omitempty"`
	ErrorCode  string           `json:"error_code,omitempty"`
	Result     *ExecutionResult `json:"result,omitempty"`
	CreatedAt  int64            `json:"created_at"`
	UpdatedAt  int64            `json:"updated_at"`
}

var (
	// ErrJobNotFound 表示指定的作业不存在。
	ErrJobNotFound = xerrors.New(CodeJobNotFound, "job not found")
	// ErrJobConflict 表示作业在当前状态下无法进行所请求的操作。
	ErrJobConflict = xerrors.New(CodeJobConflict, "job conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrJobCompleted 表示作业已经成功完成。
	ErrJobCompleted = xerrors.New(CodeJobCompleted, "job already completed", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrJobExhausted 表示作业的重试次数已经耗尽。
	ErrJobExhausted = xerrors.New(CodeJobExhausted, "job retries exhausted", xerrors.WithSeverity(xerrors.SeverityCritical))
)

const (
	CodeJobNotFound   xerrors.Code = "JOB_NOT_FOUND"
	CodeJobConflict   xerrors.Code = "JOB_CONFLICT"
	CodeJobCompleted  xerrors.Code = "JOB_COMPLETED"
	CodeJobExhausted  xerrors.Code = "JOB_RETRIES_EXHAUSTED"
	CodeJobValidation xerrors.Code = "JOB_VALIDATION_FAILED"
	CodeJobPublish    xerrors.Code = "JOB_PUBLISH_FAILED"
	CodeJobProcessing xerrors.Code = "JOB_PROCESSING_FAILED"
	CodeJobCompensate xerrors.Code = "JOB_COMPENSATION_FAILED"
)

func init() {
	xerrors.Register(CodeJobNotFound, xerrors.Attributes{
		Message:   "job not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeJobConflict, xerrors.Attributes{
		Message:   "job conflict",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeJobCompleted, xerrors.Attributes{
		Message:   "job already completed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeJobExhausted, xerrors.Attributes{
		Message:   "job retries exhausted",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeJobValidation, xerrors.Attributes{
		Message:   "job validation failed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeJobPublish, xerrors.Attributes{
		Message:   "failed to publish job",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeJobProcessing, xerrors.Attributes{
		Message:   "job execution failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeJobCompensate, xerrors.Attributes{
		Message:   "job compensation failed",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
}

// IsJobError 判断错误是否为统一作业错误。
func IsJobError(err error, target xerrors.Code) bool {
	if err == nil {
		return false
	}
	if stdErrors.Is(err, ErrJobNotFound) {
		return target == CodeJobNotFound
	}
	if stdErrors.Is(err, ErrJobConflict) {
		return target == CodeJobConflict
	}
	if stdErrors.Is(err, ErrJobCompleted) {
		return target == CodeJobCompleted
	}
	if stdErrors.Is(err, ErrJobExhausted) {
		return target == CodeJobExhausted
	}
	return false
}

func cloneMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	cloned := make(map[string]any, len(metadata))
	for key, value := range metadata {
		cloned[key] = value
	}
	return cloned
}

func clonePayload(payload Payload) Payload {
	cloned := Payload{}
	if payload.Summary != nil {
		summaryCopy := *payload.Summary
		cloned.Summary = &summaryCopy
	}
	if payload.Assistant != nil {
		assistantCopy := *payload.Assistant
		assistantCopy.Messages = append([]provider.Message(nil), payload.Assistant.Messages...)
		cloned.Assistant = &assistantCopy
	}
	return cloned
}

// IsValidStatus 检查给定的作业状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

// IsValidKind 检查给定的作业类型是否受支持。
func IsValidKind(kind Kind) bool {
	switch kind {
	case KindSummarize, KindAssistantChat:
		return true
	default:
		return false
	}
}
