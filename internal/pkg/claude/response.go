package claude

import (
	"encoding/json"
	"fmt"
	"strings"
)

// 服务商响应块类型
const (
	blockTypeText             = "text"
	blockTypeServerToolUse    = "server_tool_use"
	blockTypeBashResult       = "bash_code_execution_tool_result"
	blockTypeTextEditorResult = "text_editor_code_execution_tool_result"

	toolBashExecution       = "bash_code_execution"
	toolTextEditorExecution = "text_editor_code_execution"

	resultTypeBash       = "bash_code_execution_result"
	resultTypeTextEditor = "text_editor_code_execution_result"

	outputTypeFile = "file"
	outputTypeBash = "bash_code_execution_output"
)

// NoResponseText 响应不含任何内容块时的文本
const NoResponseText = "No response generated"

// defaultArtifactName 生成文件缺少文件名时使用
const defaultArtifactName = "generated_file"

// Artifact 代码执行过程中生成的文件
type Artifact struct {
	FileID   string `json:"file_id"`
	Filename string `json:"filename"`
}

// Block 响应内容块（封闭的和类型，仅本包内实现）
type Block interface {
	blockKind() string
}

// TextBlock 文本
type TextBlock struct {
	Text string
}

// BashCommandBlock 代码执行工具调用：shell 命令
type BashCommandBlock struct {
	ID      string
	Command *string
}

// FileOperationBlock 代码执行工具调用：文件编辑器操作
type FileOperationBlock struct {
	ID      string
	Command string
	Path    string
}

// BashResultBlock shell 执行结果
// IsResult 为 false 表示内层不是执行结果（例如错误对象），此时不渲染输出
type BashResultBlock struct {
	ToolUseID string
	IsResult  bool
	Stdout    string
	Stderr    string
	Outputs   []OutputFile
}

// OutputFile shell 执行结果中的嵌套文件项
type OutputFile struct {
	Type     string
	FileID   string
	Filename string
}

// FileEditorResultBlock 文件编辑器执行结果
type FileEditorResultBlock struct {
	ToolUseID string
	IsResult  bool
	Content   string
	FileID    string
	Filename  string
	// Path 来自对应的工具调用块
	Path string
}

// IgnoredBlock 未识别的块
type IgnoredBlock struct {
	Type string
}

func (TextBlock) blockKind() string             { return blockTypeText }
func (BashCommandBlock) blockKind() string      { return blockTypeServerToolUse }
func (FileOperationBlock) blockKind() string    { return blockTypeServerToolUse }
func (BashResultBlock) blockKind() string       { return blockTypeBashResult }
func (FileEditorResultBlock) blockKind() string { return blockTypeTextEditorResult }
func (b IgnoredBlock) blockKind() string        { return b.Type }

// wire 结构：只用于解码

type rawBlock struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Text      string          `json:"text"`
	ToolUseID string          `json:"tool_use_id"`
	Input     json.RawMessage `json:"input"`
	Content   json.RawMessage `json:"content"`
}

type rawToolInput struct {
	Command *string `json:"command"`
	Path    string  `json:"path"`
}

type rawToolResult struct {
	Type     string          `json:"type"`
	Stdout   string          `json:"stdout"`
	Stderr   string          `json:"stderr"`
	Content  json.RawMessage `json:"content"`
	FileID   string          `json:"file_id"`
	Filename string          `json:"filename"`
}

type rawOutputFile struct {
	Type     string `json:"type"`
	FileID   string `json:"file_id"`
	Filename string `json:"filename"`
}

// messagesResponse Messages API 响应
type messagesResponse struct {
	ID         string            `json:"id"`
	Model      string            `json:"model"`
	StopReason string            `json:"stop_reason"`
	Content    []json.RawMessage `json:"content"`
	Container  *struct {
		ID        string `json:"id"`
		ExpiresAt string `json:"expires_at"`
	} `json:"container"`
	Usage Usage `json:"usage"`
}

// Usage Token 使用统计
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ParseBlocks 将原始块解码为类型化的块列表
// 无法解码的块按 IgnoredBlock 处理
func ParseBlocks(raw []json.RawMessage) []Block {
	blocks := make([]Block, 0, len(raw))
	toolPaths := make(map[string]string)

	for _, r := range raw {
		var rb rawBlock
		if err := json.Unmarshal(r, &rb); err != nil {
			blocks = append(blocks, IgnoredBlock{})
			continue
		}
		blocks = append(blocks, decodeBlock(rb, toolPaths))
	}
	return blocks
}

func decodeBlock(rb rawBlock, toolPaths map[string]string) Block {
	switch rb.Type {
	case blockTypeText:
		return TextBlock{Text: rb.Text}

	case blockTypeServerToolUse:
		var in rawToolInput
		_ = json.Unmarshal(rb.Input, &in)
		switch rb.Name {
		case toolBashExecution:
			return BashCommandBlock{ID: rb.ID, Command: in.Command}
		case toolTextEditorExecution:
			if in.Path != "" {
				toolPaths[rb.ID] = in.Path
			}
			cmd := ""
			if in.Command != nil {
				cmd = *in.Command
			}
			return FileOperationBlock{ID: rb.ID, Command: cmd, Path: in.Path}
		}

	case blockTypeBashResult:
		var res rawToolResult
		if err := json.Unmarshal(rb.Content, &res); err != nil {
			return BashResultBlock{ToolUseID: rb.ToolUseID}
		}
		return BashResultBlock{
			ToolUseID: rb.ToolUseID,
			IsResult:  res.Type == resultTypeBash,
			Stdout:    res.Stdout,
			Stderr:    res.Stderr,
			Outputs:   decodeOutputs(res.Content),
		}

	case blockTypeTextEditorResult:
		block := FileEditorResultBlock{ToolUseID: rb.ToolUseID, Path: toolPaths[rb.ToolUseID]}
		var res rawToolResult
		if err := json.Unmarshal(rb.Content, &res); err != nil {
			return block
		}
		block.IsResult = res.Type == resultTypeTextEditor
		// 查看文件时 content 为字符串
		var text string
		if json.Unmarshal(res.Content, &text) == nil {
			block.Content = text
		}
		block.FileID = res.FileID
		block.Filename = res.Filename
		return block
	}

	return IgnoredBlock{Type: rb.Type}
}

// decodeOutputs 解析嵌套的文件数组，非数组或非对象项忽略
func decodeOutputs(raw json.RawMessage) []OutputFile {
	var items []json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &items) != nil {
		return nil
	}
	outputs := make([]OutputFile, 0, len(items))
	for _, item := range items {
		var o rawOutputFile
		if json.Unmarshal(item, &o) != nil {
			continue
		}
		outputs = append(outputs, OutputFile(o))
	}
	return outputs
}

// Extraction 响应解析结果
type Extraction struct {
	Text      string
	Artifacts []Artifact
}

// Extract 将块列表折叠为可读文本与生成文件列表
func Extract(blocks []Block) Extraction {
	if len(blocks) == 0 {
		return Extraction{Text: NoResponseText, Artifacts: []Artifact{}}
	}

	parts := make([]string, 0, len(blocks))
	artifacts := make([]Artifact, 0)
	for _, b := range blocks {
		parts = append(parts, render(b)...)
		artifacts = append(artifacts, discover(b)...)
	}

	return Extraction{
		Text:      strings.TrimSpace(strings.Join(parts, "\n\n")),
		Artifacts: artifacts,
	}
}

// ExtractBody 解码完整响应体并提取内容
func ExtractBody(body []byte) (Extraction, error) {
	var resp messagesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Extraction{}, fmt.Errorf("decode claude response: %w", err)
	}
	return Extract(ParseBlocks(resp.Content)), nil
}

func render(b Block) []string {
	switch v := b.(type) {
	case TextBlock:
		if present(v.Text) {
			return []string{v.Text}
		}
	case BashCommandBlock:
		if v.Command != nil {
			return []string{toolPart("```bash\n" + *v.Command + "\n```")}
		}
	case FileOperationBlock:
		if v.Command != "" && v.Path != "" {
			return []string{toolPart(fmt.Sprintf("[File operation: %s %s]", v.Command, v.Path))}
		}
	case BashResultBlock:
		if !v.IsResult {
			return nil
		}
		var out []string
		if present(v.Stdout) {
			out = append(out, toolPart("```\n"+v.Stdout+"\n```"))
		}
		if present(v.Stderr) {
			out = append(out, toolPart("Error: "+v.Stderr))
		}
		return out
	case FileEditorResultBlock:
		if v.IsResult && present(v.Content) {
			return []string{toolPart("```\n" + v.Content + "\n```")}
		}
	}
	return nil
}

// toolPart 工具调用相关的片段前多空一行，与正文区分
func toolPart(s string) string {
	return "\n" + s
}

func discover(b Block) []Artifact {
	switch v := b.(type) {
	case BashResultBlock:
		var found []Artifact
		for _, o := range v.Outputs {
			if (o.Type == outputTypeFile || o.Type == outputTypeBash) && o.FileID != "" {
				found = append(found, Artifact{FileID: o.FileID, Filename: firstNonEmpty(o.Filename, defaultArtifactName)})
			}
		}
		return found
	case FileEditorResultBlock:
		if v.IsResult && v.FileID != "" {
			return []Artifact{{FileID: v.FileID, Filename: firstNonEmpty(v.Filename, v.Path, defaultArtifactName)}}
		}
	}
	return nil
}

func present(s string) bool {
	return strings.TrimSpace(s) != ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
