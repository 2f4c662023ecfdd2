// Package claude 封装 Anthropic Messages API 与 Files API：
// 发送对话、上传/下载文件，以及解析代码执行产生的异构响应块。
package claude

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"filechat/internal/config"
	"filechat/internal/model/conversation"
	"filechat/internal/pkg/ingest"
)

const (
	messagesPath = "/v1/messages"

	codeExecutionToolType = "code_execution_20250825"
	codeExecutionToolName = "code_execution"

	contentTypeText            = "text"
	contentTypeContainerUpload = "container_upload"

	// maxErrorBody 错误响应体最多读取的字节数
	maxErrorBody = 64 * 1024
)

// Session 调用方传入的服务商会话状态
// SessionID 非空时复用已有的代码执行容器
type Session struct {
	SessionID           string
	EnableCodeExecution bool
}

// Completion 一次对话调用的结果
type Completion struct {
	Text       string
	SessionID  string
	Artifacts  []Artifact
	StopReason string
	Usage      Usage
}

// Client Claude API 客户端
type Client struct {
	baseURL    string
	apiKey     string
	apiVersion string
	beta       string
	maxTokens  int
	router     *ingest.Router
	httpClient *http.Client

	// readTimeout 从请求写完到响应体读完的总时限
	readTimeout time.Duration
}

// NewClient 创建客户端
// API key 通过配置注入，不在调用链中读取环境变量
func NewClient(cfg config.ClaudeConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("claude api key is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = config.DefaultClaudeBaseURL
	}
	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = config.DefaultClaudeAPIVersion
	}
	beta := cfg.BetaFeatures
	if len(beta) == 0 {
		beta = config.DefaultBetaFeatures
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = config.DefaultMaxTokens
	}
	maxSize := cfg.MaxFileSize
	if maxSize <= 0 {
		maxSize = config.DefaultMaxFileSize
	}

	return &Client{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		apiKey:      cfg.APIKey,
		apiVersion:  apiVersion,
		beta:        strings.Join(beta, ","),
		maxTokens:   maxTokens,
		readTimeout: orDefault(cfg.ReadTimeout, config.DefaultReadTimeout),
		router:      ingest.NewRouter(maxSize),
		httpClient:  &http.Client{Transport: newTransport(cfg)},
	}, nil
}

// newTransport 按连接 / 读取 / 写入分别设置超时
func newTransport(cfg config.ClaudeConfig) *http.Transport {
	connectTimeout := orDefault(cfg.ConnectTimeout, config.DefaultConnectTimeout)
	readTimeout := orDefault(cfg.ReadTimeout, config.DefaultReadTimeout)
	writeTimeout := orDefault(cfg.WriteTimeout, config.DefaultWriteTimeout)

	dialer := &net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			return &deadlineConn{Conn: conn, readTimeout: readTimeout, writeTimeout: writeTimeout}, nil
		},
		TLSHandshakeTimeout:   connectTimeout,
		ResponseHeaderTimeout: readTimeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConnsPerHost:   8,
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// deadlineConn 每次读写前刷新对应的截止时间
// 单次读取的截止时间不限制响应总时长，总时限由 Client.do 控制
type deadlineConn struct {
	net.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (c *deadlineConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}

func (c *deadlineConn) Write(p []byte) (int, error) {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return 0, err
	}
	return c.Conn.Write(p)
}

// wire 请求结构

type messagesRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	Messages  []wireMessage `json:"messages"`
	Tools     []wireTool    `json:"tools,omitempty"`
	Container string        `json:"container,omitempty"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string 或 []wireContent
}

type wireContent struct {
	Type   string `json:"type"`
	Text   string `json:"text,omitempty"`
	FileID string `json:"file_id,omitempty"`
}

type wireTool struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// Complete 发送对话并解析响应
// 调用只进行一次，不自动重试；超时与失败交由调用方处理
func (c *Client) Complete(ctx context.Context, messages []conversation.Message, model string, session Session) (*Completion, error) {
	payload := messagesRequest{
		Model:     model,
		MaxTokens: c.maxTokens,
		Messages:  FormatMessages(messages),
		Container: session.SessionID,
	}
	if session.EnableCodeExecution {
		payload.Tools = []wireTool{{Type: codeExecutionToolType, Name: codeExecutionToolName}}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode claude request: %w", err)
	}

	container := session.SessionID
	if container == "" {
		container = "new"
	}
	log.Info().
		Str("model", model).
		Bool("code_execution", session.EnableCodeExecution).
		Str("container", container).
		Int("messages", len(payload.Messages)).
		Msg("claude request")
	log.Debug().RawJSON("body", body).Msg("claude request body")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+messagesPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)
	req.Header.Set("content-type", "application/json")

	respBody, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}

	var resp messagesResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decode claude response: %w", err)
	}
	log.Debug().RawJSON("body", respBody).Msg("claude response body")

	extracted := Extract(ParseBlocks(resp.Content))
	completion := &Completion{
		Text:       extracted.Text,
		Artifacts:  extracted.Artifacts,
		StopReason: resp.StopReason,
		Usage:      resp.Usage,
	}
	if resp.Container != nil {
		completion.SessionID = resp.Container.ID
	}

	log.Info().
		Str("container", completion.SessionID).
		Int("artifacts", len(completion.Artifacts)).
		Int("input_tokens", resp.Usage.InputTokens).
		Int("output_tokens", resp.Usage.OutputTokens).
		Msg("claude response")

	return completion, nil
}

// FormatMessages 将上下文消息转换为 wire 格式
// 只有文本时发送纯字符串；含文件时发送块列表；既无文本也无文件的消息被丢弃
func FormatMessages(messages []conversation.Message) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		hasText := strings.TrimSpace(m.Content) != ""

		files := make([]wireContent, 0, len(m.FileIDs))
		for _, id := range m.FileIDs {
			if strings.TrimSpace(id) == "" {
				continue
			}
			files = append(files, wireContent{Type: contentTypeContainerUpload, FileID: id})
		}

		switch {
		case len(files) > 0:
			blocks := make([]wireContent, 0, len(files)+1)
			if hasText {
				blocks = append(blocks, wireContent{Type: contentTypeText, Text: m.Content})
			}
			out = append(out, wireMessage{Role: m.Role.String(), Content: append(blocks, files...)})
		case hasText:
			out = append(out, wireMessage{Role: m.Role.String(), Content: m.Content})
		}
	}
	return out
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", c.apiVersion)
	req.Header.Set("anthropic-beta", c.beta)
}

// do 执行请求，返回 2xx 响应体
func (c *Client) do(ctx context.Context, req *http.Request) ([]byte, error) {
	// 请求写完后开始计算等待响应的总时长，大文件上传的发送耗时不计入
	var sentAt atomic.Int64
	sentAt.Store(time.Now().UnixNano())
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), &httptrace.ClientTrace{
		WroteRequest: func(httptrace.WroteRequestInfo) { sentAt.Store(time.Now().UnixNano()) },
	}))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = classifyTransportError(ctx, err)
		log.Error().Err(err).Str("path", req.URL.Path).Msg("claude request failed")
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		svcErr := &ServiceError{StatusCode: resp.StatusCode, Body: string(errorBody)}
		log.Error().Int("status", resp.StatusCode).Str("path", req.URL.Path).Str("body", svcErr.Body).Msg("claude API error")
		return nil, svcErr
	}

	// 持续慢速返回的响应体同样受总时限约束
	var expired atomic.Bool
	timer := time.AfterFunc(c.readTimeout-time.Since(time.Unix(0, sentAt.Load())), func() {
		expired.Store(true)
		resp.Body.Close()
	})
	defer timer.Stop()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if expired.Load() && ctx.Err() == nil {
			err = fmt.Errorf("%w: response body not completed within %s", ErrReadTimeout, c.readTimeout)
			log.Error().Err(err).Str("path", req.URL.Path).Msg("claude request failed")
			return nil, err
		}
		return nil, classifyTransportError(ctx, err)
	}
	return body, nil
}
