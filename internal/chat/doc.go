// Package chat 实现对话补全的业务编排：
// 注入提示词预设与历史上下文、命中缓存、调用 AI 客户端并落库。
package chat
