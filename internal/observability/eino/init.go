// Package eino 为 Eino 组件调用挂接指标与追踪
package eino

import (
	"sync"

	einocallbacks "github.com/cloudwego/eino/callbacks"
	cbtemplate "github.com/cloudwego/eino/utils/callbacks"
)

var initOnce sync.Once

// Init 注册全局 callbacks，进程内只生效一次。
// 覆盖模型生成、检索工具与向量化三类组件；调用方需用 callbacks.InitCallbacks 标注组件。
func Init() {
	initOnce.Do(func() {
		einocallbacks.AppendGlobalHandlers(cbtemplate.NewHandlerHelper().
			ChatModel(newChatModelCallbackHandler()).
			Tool(newToolCallbackHandler()).
			Embedding(newEmbeddingCallbackHandler()).
			Handler())
	})
}
