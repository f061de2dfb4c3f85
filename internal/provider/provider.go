package provider

import "context"

// Role 表示会话消息的角色。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message 描述会话中的一条消息，是所有聊天类接口的基础结构。
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// File 描述结果中携带的一个文件。URL 与 Data 二选一：
// Data 保存 base64 编码的文件内容，用于提供方直接返回二进制的场景。
type File struct {
	Name     string `json:"name,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
	URL      string `json:"url,omitempty"`
	Data     string `json:"data,omitempty"`
}

// Result 是所有适配器统一归一化后的结果信封。
// 适配器失败时通过 error 返回，不在信封内携带错误字段。
type Result struct {
	Text  string `json:"text,omitempty"`
	HTML  string `json:"html,omitempty"`
	Files []File `json:"files,omitempty"`
}

// StreamHandler 在流式输出时逐段接收增量文本。
// 返回非 nil 错误会中断流式读取。
type StreamHandler func(delta string) error

// ChatRequest 描述一次聊天补全调用。
type ChatRequest struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

// LatestUserText 返回会话中最后一条用户消息的内容。
// 部分提供方（如摘要、助手）只需要最新输入。
func (r ChatRequest) LatestUserText() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i].Content
		}
	}
	return ""
}

// ImageRequest 描述一次图片生成调用。
type ImageRequest struct {
	Prompt         string `json:"prompt"`
	Model          string `json:"model,omitempty"`
	N              int    `json:"n,omitempty"`
	Size           string `json:"size,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"`
}

// SpeechRequest 描述一次文本转语音调用。
type SpeechRequest struct {
	Input  string `json:"input"`
	Model  string `json:"model,omitempty"`
	Voice  string `json:"voice,omitempty"`
	Format string `json:"format,omitempty"`
}

// TranscriptionRequest 描述一次语音转文字调用。
// Data 为音频原始字节，由外层接口负责解码。
type TranscriptionRequest struct {
	FileName string `json:"file_name"`
	MIMEType string `json:"mime_type,omitempty"`
	Data     []byte `json:"-"`
	Model    string `json:"model,omitempty"`
	Language string `json:"language,omitempty"`
}

// TranslationRequest 描述一次文本翻译调用。
type TranslationRequest struct {
	Text string `json:"text"`
	From string `json:"from,omitempty"`
	To   string `json:"to"`
}

// SummaryRequest 描述一次文本摘要调用。摘要属于长耗时作业，
// 适配器需要轮询远端作业状态直至终态。
type SummaryRequest struct {
	Text          string `json:"text"`
	Language      string `json:"language,omitempty"`
	SentenceCount int    `json:"sentence_count,omitempty"`
}

// AssistantRequest 描述一次托管助手会话。助手运行同样是长耗时作业。
type AssistantRequest struct {
	AssistantID  string    `json:"assistant_id"`
	Messages     []Message `json:"messages"`
	Instructions string    `json:"instructions,omitempty"`
}

// ChatClient 定义聊天补全能力。
type ChatClient interface {
	Complete(ctx context.Context, req ChatRequest) (*Result, error)
	Stream(ctx context.Context, req ChatRequest, handler StreamHandler) (*Result, error)
}

// ImageClient 定义图片生成能力。
type ImageClient interface {
	GenerateImages(ctx context.Context, req ImageRequest) (*Result, error)
}

// SpeechClient 定义文本转语音能力。
type SpeechClient interface {
	Synthesize(ctx context.Context, req SpeechRequest) (*Result, error)
}

// TranscriptionClient 定义语音转文字能力。
type TranscriptionClient interface {
	Transcribe(ctx context.Context, req TranscriptionRequest) (*Result, error)
}

// TranslationClient 定义文本翻译能力。
type TranslationClient interface {
	Translate(ctx context.Context, req TranslationRequest) (*Result, error)
}

// SummaryClient 定义文本摘要能力。
type SummaryClient interface {
	Summarize(ctx context.Context, req SummaryRequest) (*Result, error)
}

// AssistantClient 定义托管助手能力。
type AssistantClient interface {
	RunAssistant(ctx context.Context, req AssistantRequest) (*Result, error)
}
