// Package history 构建发送给服务商的对话历史：过滤过期文件引用，合并相邻同角色消息。
package history

import (
	"time"

	"filechat/internal/model/conversation"
)

// mergeSeparator 合并同角色消息时的内容分隔符
const mergeSeparator = "\n\n"

// Builder 对话历史构建器
type Builder struct {
	freshness time.Duration
	now       func() time.Time
}

// NewBuilder 创建构建器
// freshness 为用户消息文件引用的有效窗口
func NewBuilder(freshness time.Duration) *Builder {
	return &Builder{freshness: freshness, now: time.Now}
}

// WithClock 替换时钟（测试使用）
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build 生成最终的消息序列
// prior 为按创建时间排序的已持久化消息，excludeID 对应的消息（刚保存的当前输入）会被跳过；
// pending 为当前用户输入，总是以 user 角色参与合并。
func (b *Builder) Build(prior []*conversation.Turn, excludeID string, pending conversation.Message) []conversation.Message {
	now := b.now()

	out := make([]conversation.Message, 0, len(prior)+1)
	for _, turn := range prior {
		if turn == nil || (excludeID != "" && turn.ID == excludeID) {
			continue
		}
		out = appendOrMerge(out, b.contextRecord(turn, now))
	}

	pending.Role = conversation.RoleUser
	return appendOrMerge(out, pending)
}

// contextRecord 只保留新鲜用户消息的文件引用；助手消息的文件（生成物）不再回传
func (b *Builder) contextRecord(turn *conversation.Turn, now time.Time) conversation.Message {
	msg := conversation.Message{Role: turn.Role, Content: turn.Content}
	if turn.Role == conversation.RoleUser && len(turn.FileIDs) > 0 && now.Sub(turn.CreatedAt) < b.freshness {
		msg.FileIDs = append([]string(nil), turn.FileIDs...)
	}
	return msg
}

// appendOrMerge 角色不同则追加，相同则合并到最后一条
func appendOrMerge(out []conversation.Message, msg conversation.Message) []conversation.Message {
	if len(out) == 0 || out[len(out)-1].Role != msg.Role {
		return append(out, msg)
	}
	last := &out[len(out)-1]
	last.Content = last.Content + mergeSeparator + msg.Content
	if len(msg.FileIDs) > 0 {
		last.FileIDs = append(last.FileIDs, msg.FileIDs...)
	}
	return out
}
