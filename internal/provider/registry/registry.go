package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"ChatGate/internal/config"
	"ChatGate/internal/provider"
	"ChatGate/internal/provider/azure"
	"ChatGate/internal/provider/command"
	"ChatGate/internal/provider/openai"
)

// Registry 按名称管理可用的 AI 客户端，并暴露各项能力的入口。
type Registry struct {
	defaultChat string
	chats       map[string]provider.ChatClient

	images      provider.ImageClient
	speech      provider.SpeechClient
	transcribe  provider.TranscriptionClient
	assistants  provider.AssistantClient
	translation provider.TranslationClient
	summary     provider.SummaryClient
}

// NewRegistry 根据配置实例化各家服务的客户端。
func NewRegistry(cfg *config.Config) (*Registry, error) {
	reg := &Registry{chats: make(map[string]provider.ChatClient)}

	if key := cfg.ResolveOpenAIKey(); key != "" {
		oa := cfg.Providers.OpenAI
		client, err := openai.NewClient(openai.Config{
			APIKey:          key,
			BaseURL:         oa.BaseURL,
			ChatModel:       oa.ChatModel,
			ImageModel:      oa.ImageModel,
			SpeechModel:     oa.SpeechModel,
			SpeechVoice:     oa.SpeechVoice,
			TranscribeModel: oa.TranscribeModel,
			Timeout:         time.Duration(oa.TimeoutSeconds) * time.Second,
			PollInterval:    time.Duration(oa.PollIntervalSeconds) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("初始化 OpenAI 客户端失败: %w", err)
		}
		reg.chats["openai"] = client
		reg.images = client
		reg.speech = client
		reg.transcribe = client
		reg.assistants = client
	}

	if cfg.Providers.Command.Enabled {
		cc := cfg.Providers.Command
		execPath := command.ResolveExecPath(cc.WorkingDir, cc.ExecPath)
		client, err := command.NewClient(execPath, cc.Args, cc.WorkingDir)
		if err != nil {
			return nil, fmt.Errorf("初始化外部命令客户端失败: %w", err)
		}
		reg.chats["command"] = client
	}

	if key := cfg.ResolveAzureLanguageKey(); key != "" {
		lang := cfg.Providers.Azure.Language
		client, err := azure.NewLanguageClient(azure.LanguageConfig{
			Endpoint:     lang.Endpoint,
			APIKey:       key,
			APIVersion:   lang.APIVersion,
			Timeout:      time.Duration(lang.TimeoutSeconds) * time.Second,
			PollInterval: time.Duration(lang.PollIntervalSeconds) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("初始化 Azure 语言客户端失败: %w", err)
		}
		reg.summary = client
	}

	if key := cfg.ResolveAzureTranslatorKey(); key != "" {
		tr := cfg.Providers.Azure.Translator
		client, err := azure.NewTranslatorClient(azure.TranslatorConfig{
			Endpoint: tr.Endpoint,
			APIKey:   key,
			Region:   tr.Region,
			Timeout:  time.Duration(tr.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("初始化 Azure 翻译客户端失败: %w", err)
		}
		reg.translation = client
	}

	if len(reg.chats) == 0 && reg.summary == nil && reg.translation == nil {
		return nil, errors.New("未配置任何 AI 服务的访问凭证")
	}

	defaultChat := strings.TrimSpace(cfg.Providers.Default)
	if len(reg.chats) > 0 {
		if _, ok := reg.chats[defaultChat]; !ok {
			names := make([]string, 0, len(reg.chats))
			for name := range reg.chats {
				names = append(names, name)
			}
			sort.Strings(names)
			defaultChat = names[0]
		}
		reg.defaultChat = defaultChat
	}

	return reg, nil
}

// DefaultChat 返回默认的对话客户端。
func (r *Registry) DefaultChat() (provider.ChatClient, error) {
	if r == nil || r.defaultChat == "" {
		return nil, errors.New("未配置任何对话客户端")
	}
	client, ok := r.chats[r.defaultChat]
	if !ok {
		return nil, fmt.Errorf("默认对话客户端 %s 未在注册表中", r.defaultChat)
	}
	return client, nil
}

// Chat 返回指定名称的对话客户端。
func (r *Registry) Chat(name string) (provider.ChatClient, bool) {
	if r == nil {
		return nil, false
	}
	if name == "" {
		client, err := r.DefaultChat()
		return client, err == nil
	}
	client, ok := r.chats[name]
	return client, ok
}

// ResolveProvider 返回名称实际对应的服务名,空名称解析为默认服务。
func (r *Registry) ResolveProvider(name string) string {
	name = strings.TrimSpace(name)
	if name != "" {
		return name
	}
	if r == nil {
		return ""
	}
	return r.defaultChat
}

// ChatProviders 返回已注册的对话客户端名称列表。
func (r *Registry) ChatProviders() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.chats))
	for name := range r.chats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Images 返回图片生成客户端。
func (r *Registry) Images() (provider.ImageClient, error) {
	if r == nil || r.images == nil {
		return nil, errors.New("未配置图片生成客户端")
	}
	return r.images, nil
}

// Speech 返回语音合成客户端。
func (r *Registry) Speech() (provider.SpeechClient, error) {
	if r == nil || r.speech == nil {
		return nil, errors.New("未配置语音合成客户端")
	}
	return r.speech, nil
}

// Transcriptions 返回语音转写客户端。
func (r *Registry) Transcriptions() (provider.TranscriptionClient, error) {
	if r == nil || r.transcribe == nil {
		return nil, errors.New("未配置语音转写客户端")
	}
	return r.transcribe, nil
}

// Assistants 返回助手客户端。
func (r *Registry) Assistants() (provider.AssistantClient, error) {
	if r == nil || r.assistants == nil {
		return nil, errors.New("未配置助手客户端")
	}
	return r.assistants, nil
}

// Translations 返回文本翻译客户端。
func (r *Registry) Translations() (provider.TranslationClient, error) {
	if r == nil || r.translation == nil {
		return nil, errors.New("未配置文本翻译客户端")
	}
	return r.translation, nil
}

// Summaries 返回文本摘要客户端。
func (r *Registry) Summaries() (provider.SummaryClient, error) {
	if r == nil || r.summary == nil {
		return nil, errors.New("未配置文本摘要客户端")
	}
	return r.summary, nil
}
