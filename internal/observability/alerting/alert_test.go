package alerting

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	xerrors "ChatGate/internal/errors"
)

type fakeSlackSender struct {
	channel string
	content string
	err     error
}

func (s *fakeSlackSender) Send(_ context.Context, channel, content string) error {
	s.channel = channel
	s.content = content
	return s.err
}

type fakeDingTalkSender struct {
	content string
}

func (s *fakeDingTalkSender) Send(_ context.Context, content string) error {
	s.content = content
	return nil
}

func sampleEvent() Event {
	return Event{
		Code:       xerrors.CodeProviderFailure,
		Message:    "上游返回 500",
		Severity:   xerrors.SeverityWarning,
		JobID:      "job-1",
		Attempts:   2,
		MaxRetries: 3,
		Metadata:   map[string]string{"stage": "execute"},
		OccurredAt: time.Now(),
	}
}

func TestFanoutNotifiesAllChannels(t *testing.T) {
	slack := &fakeSlackSender{}
	dingtalk := &fakeDingTalkSender{}
	dispatcher := NewFanout(
		&SlackNotifier{Sender: slack, ChannelID: "ops"},
		&DingTalkNotifier{Sender: dingtalk},
	)

	if err := dispatcher.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("Notify 不应失败: %v", err)
	}
	if slack.channel != "ops" {
		t.Fatalf("Slack 渠道不符: %s", slack.channel)
	}
	if !strings.Contains(slack.content, "job-1") && !strings.Contains(slack.content, "上游返回 500") {
		t.Fatalf("Slack 内容缺少事件信息: %s", slack.content)
	}
	if !strings.Contains(dingtalk.content, "job-1") {
		t.Fatalf("钉钉内容缺少作业 ID: %s", dingtalk.content)
	}
}

func TestFanoutAggregatesErrors(t *testing.T) {
	sendErr := errors.New("webhook 超时")
	dispatcher := NewFanout(&SlackNotifier{Sender: &fakeSlackSender{err: sendErr}, ChannelID: "ops"})

	err := dispatcher.Notify(context.Background(), sampleEvent())
	if err == nil {
		t.Fatal("期望聚合发送错误")
	}
	if !errors.Is(err, sendErr) {
		t.Fatalf("错误链中应包含原始错误: %v", err)
	}
}

func TestUnconfiguredNotifiersSkipSilently(t *testing.T) {
	dispatcher := NewFanout(
		&EmailNotifier{},
		&SlackNotifier{},
		&DingTalkNotifier{},
	)
	if err := dispatcher.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("未配置的通知器应跳过而非报错: %v", err)
	}
}
