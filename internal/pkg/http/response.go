package http

// ErrorResponse 错误响应
type ErrorResponse struct {
	Code    int    `json:"code"` // 非0表示错误
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// SuccessResponse 成功响应
type SuccessResponse struct {
	Code    int    `json:"code"` // 0 表示成功
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// ProcessingResponse 请求已被服务商接收但未在读取超时内完成
// 调用方可凭 SessionID 轮询会话状态后重试
type ProcessingResponse struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Status    string `json:"status"`
	SessionID string `json:"session_id,omitempty"`
}

// StatusProcessing ProcessingResponse.Status 的取值
const StatusProcessing = "processing"

// NewSuccessResponse 创建成功响应
func NewSuccessResponse(message string, data any) *SuccessResponse {
	return &SuccessResponse{Message: message, Data: data}
}

// NewErrorResponse 创建错误响应，detail 取第一个非空值
func NewErrorResponse(code int, message string, detail ...string) *ErrorResponse {
	resp := &ErrorResponse{Code: code, Message: message}
	for _, d := range detail {
		if d != "" {
			resp.Detail = d
			break
		}
	}
	return resp
}

// NewProcessingResponse 创建处理中响应
func NewProcessingResponse(code int, sessionID string) *ProcessingResponse {
	return &ProcessingResponse{
		Code:      code,
		Message:   "Response timeout, still processing",
		Status:    StatusProcessing,
		SessionID: sessionID,
	}
}
