// Package docconv 将办公文档转换为纯文本，供无法直接上传的文件以文本形式附加到消息中。
package docconv

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"

	"filechat/internal/pkg/ingest"
)

// ErrConversion 不支持转换的类型（路由应已阻止此情况）
var ErrConversion = errors.New("cannot convert to text")

// ConversionError 转换错误
type ConversionError struct {
	MimeType string
	Err      error
}

func (e *ConversionError) Error() string {
	if e.Err != nil && !errors.Is(e.Err, ErrConversion) {
		return fmt.Sprintf("convert %s to text: %v", e.MimeType, e.Err)
	}
	return fmt.Sprintf("cannot convert %s to text", e.MimeType)
}

func (e *ConversionError) Unwrap() []error {
	return []error{ErrConversion, e.Err}
}

// docxDocumentPart docx 主文档 XML 路径
const docxDocumentPart = "word/document.xml"

var (
	xmlTagPattern     = regexp.MustCompile(`<[^>]+>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// Converter 文档转文本适配器
type Converter struct{}

// NewConverter 创建转换器
func NewConverter() *Converter {
	return &Converter{}
}

// ConvertToText 按 MIME 类型提取文本
func (c *Converter) ConvertToText(path, mimeType string) (string, error) {
	switch mimeType {
	case ingest.MimeDOCX:
		text, err := extractDOCX(path)
		if err != nil {
			return "", &ConversionError{MimeType: mimeType, Err: err}
		}
		return text, nil
	case ingest.MimeXLSX:
		return extractXLSX(path), nil
	case ingest.MimeCSV:
		data, err := os.ReadFile(path)
		if err != nil {
			return "", &ConversionError{MimeType: mimeType, Err: err}
		}
		return string(data), nil
	default:
		return "", &ConversionError{MimeType: mimeType, Err: ErrConversion}
	}
}

// extractDOCX 解压 docx，读取主文档 XML，去除标签并合并空白
// 缺少主文档时返回空字符串
func extractDOCX(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", err
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name != docxDocumentPart {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", err
		}
		return StripXML(string(data)), nil
	}
	return "", nil
}

// StripXML 去除 XML 标签并将空白合并为单个空格
func StripXML(s string) string {
	s = xmlTagPattern.ReplaceAllString(s, " ")
	s = whitespacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// extractXLSX 逐个工作表读取，单元格以制表符连接，每行以换行结束
// 解析失败时退化为占位文本，不让请求失败
func extractXLSX(path string) string {
	f, err := excelize.OpenFile(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("failed to open xlsx, using placeholder")
		return xlsxPlaceholder(path)
	}
	defer f.Close()

	var sb strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Str("sheet", sheet).Msg("failed to read sheet, using placeholder")
			return xlsxPlaceholder(path)
		}
		for _, row := range rows {
			sb.WriteString(strings.Join(row, "\t"))
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func xlsxPlaceholder(path string) string {
	return "Excel file: " + filepath.Base(path)
}

// AppendAttachment 将提取的文本以带标记的块追加到消息内容之后
func AppendAttachment(content, filename, text string) string {
	return fmt.Sprintf("%s\n\n[Attached file: %s]\n%s", content, filename, text)
}
