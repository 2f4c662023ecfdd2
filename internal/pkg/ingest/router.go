// Package ingest 上传文件路由：按 MIME 类型与大小决定文件是上传到服务商、转换为文本还是拒绝。
package ingest

import (
	"errors"
	"fmt"
	"sort"
)

// MIME 类型常量
const (
	MimePDF  = "application/pdf"
	MimeText = "text/plain"
	MimeCSV  = "text/csv"
	MimeJPEG = "image/jpeg"
	MimePNG  = "image/png"
	MimeGIF  = "image/gif"
	MimeWebP = "image/webp"
	MimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MimeDOC  = "application/msword"
	MimeXLS  = "application/vnd.ms-excel"
)

var (
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrFileTooLarge         = errors.New("file too large")
)

// Action 路由动作
type Action int

const (
	ActionReject Action = iota
	ActionUploadToProvider
	ActionConvertToText
)

// String 返回动作名称
func (a Action) String() string {
	switch a {
	case ActionUploadToProvider:
		return "upload_to_provider"
	case ActionConvertToText:
		return "convert_to_text"
	default:
		return "reject"
	}
}

// Behavior 服务商侧的内容块类别
type Behavior string

const (
	BehaviorDocument Behavior = "document"
	BehaviorImage    Behavior = "image"
	BehaviorConvert  Behavior = "convert_to_text"
)

// Rule MIME 类型对应的处理规则
type Rule struct {
	Behavior           Behavior
	RequiresConversion bool
}

// Rules 支持的 MIME 类型表
// CSV 作为 document 上传，供代码执行环境直接读取
var Rules = map[string]Rule{
	MimePDF:  {Behavior: BehaviorDocument},
	MimeText: {Behavior: BehaviorDocument},
	MimeCSV:  {Behavior: BehaviorDocument},
	MimeJPEG: {Behavior: BehaviorImage},
	MimePNG:  {Behavior: BehaviorImage},
	MimeGIF:  {Behavior: BehaviorImage},
	MimeWebP: {Behavior: BehaviorImage},
	MimeDOCX: {Behavior: BehaviorConvert, RequiresConversion: true},
	MimeXLSX: {Behavior: BehaviorConvert, RequiresConversion: true},
	MimeDOC:  {Behavior: BehaviorConvert, RequiresConversion: true},
	MimeXLS:  {Behavior: BehaviorConvert, RequiresConversion: true},
}

// Decision 路由结果
// Action 为 ActionReject 时 Reason 非空
type Decision struct {
	Action Action
	Reason error
}

// Rejected 是否被拒绝
func (d Decision) Rejected() bool {
	return d.Action == ActionReject
}

// RejectError 被拒绝文件的错误，携带文件名和原因
type RejectError struct {
	Filename string
	MimeType string
	Size     int64
	Reason   error
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("file %q (%s, %d bytes) rejected: %v", e.Filename, e.MimeType, e.Size, e.Reason)
}

func (e *RejectError) Unwrap() error {
	return e.Reason
}

// Router 文件路由器
// 纯函数式分类，无副作用
type Router struct {
	maxSize int64
	rules   map[string]Rule
}

// NewRouter 创建路由器
// maxSize 为单文件大小上限（字节）
func NewRouter(maxSize int64) *Router {
	return &Router{maxSize: maxSize, rules: Rules}
}

// Classify 按顺序评估规则：大小 -> 是否支持 -> 是否需转换 -> 上传
// codeExecutionEnabled 目前不影响结果：CSV 无论开关都上传到服务商
func (r *Router) Classify(mimeType string, size int64, codeExecutionEnabled bool) Decision {
	if size > r.maxSize {
		return Decision{Action: ActionReject, Reason: ErrFileTooLarge}
	}

	rule, ok := r.rules[mimeType]
	if !ok {
		return Decision{Action: ActionReject, Reason: ErrUnsupportedMediaType}
	}

	if mimeType == MimeCSV && codeExecutionEnabled {
		return Decision{Action: ActionUploadToProvider}
	}
	if rule.RequiresConversion {
		return Decision{Action: ActionConvertToText}
	}
	return Decision{Action: ActionUploadToProvider}
}

// Supported 是否为支持的 MIME 类型
func (r *Router) Supported(mimeType string) bool {
	_, ok := r.rules[mimeType]
	return ok
}

// SupportedTypes 返回排序后的支持类型列表
func SupportedTypes() []string {
	types := make([]string, 0, len(Rules))
	for t := range Rules {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
