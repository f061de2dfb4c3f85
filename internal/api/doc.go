// Package api 暴露面向浏览器聊天组件的 REST 接口:
// 对话补全(含 SSE 流式)、图片、语音、翻译、异步作业与令牌签发。
package api
