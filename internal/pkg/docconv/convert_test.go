package docconv

import (
	"archive/zip"
	"errors"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/xuri/excelize/v2"

	"filechat/internal/pkg/ingest"
)

const documentXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>Quarterly</w:t></w:r><w:r><w:t xml:space="preserve">   report</w:t></w:r></w:p>
    <w:p><w:r><w:t>Revenue grew</w:t></w:r></w:p>
  </w:body>
</w:document>`

func writeDOCX(t *testing.T, dir string, parts map[string]string) string {
	path := filepath.Join(dir, "report.docx")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create docx: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, body := range parts {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create part %s: %v", name, err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatalf("write part %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return path
}

func writeXLSX(t *testing.T, dir string) string {
	path := filepath.Join(dir, "data.xlsx")
	f := excelize.NewFile()
	defer f.Close()

	_ = f.SetCellValue("Sheet1", "A1", "name")
	_ = f.SetCellValue("Sheet1", "B1", "score")
	_ = f.SetCellValue("Sheet1", "A2", "alice")
	_ = f.SetCellValue("Sheet1", "B2", 90)
	if _, err := f.NewSheet("Extra"); err != nil {
		t.Fatalf("new sheet: %v", err)
	}
	_ = f.SetCellValue("Extra", "A1", "note")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save xlsx: %v", err)
	}
	return path
}

func TestConverter_ConvertToText(t *testing.T) {
	Convey("Converter.ConvertToText 提取文档文本", t, func() {
		dir := t.TempDir()
		conv := NewConverter()

		Convey("docx: 去除标签、合并空白", func() {
			path := writeDOCX(t, dir, map[string]string{
				"[Content_Types].xml": "<Types/>",
				docxDocumentPart:      documentXML,
			})
			text, err := conv.ConvertToText(path, ingest.MimeDOCX)
			So(err, ShouldBeNil)
			So(text, ShouldEqual, "Quarterly report Revenue grew")
			So(text, ShouldNotContainSubstring, "<")
			So(text, ShouldNotContainSubstring, ">")
		})

		Convey("docx: 缺少主文档时返回空文本", func() {
			path := writeDOCX(t, dir, map[string]string{"other.xml": "<a/>"})
			text, err := conv.ConvertToText(path, ingest.MimeDOCX)
			So(err, ShouldBeNil)
			So(text, ShouldBeEmpty)
		})

		Convey("docx: 非 zip 文件返回转换错误", func() {
			path := filepath.Join(dir, "bad.docx")
			So(os.WriteFile(path, []byte("not a zip"), 0o644), ShouldBeNil)
			_, err := conv.ConvertToText(path, ingest.MimeDOCX)
			So(errors.Is(err, ErrConversion), ShouldBeTrue)
		})

		Convey("xlsx: 单元格以制表符连接，工作表按顺序拼接", func() {
			path := writeXLSX(t, dir)
			text, err := conv.ConvertToText(path, ingest.MimeXLSX)
			So(err, ShouldBeNil)
			So(text, ShouldEqual, "name\tscore\nalice\t90\nnote\n")
		})

		Convey("xlsx: 解析失败时返回占位文本", func() {
			path := filepath.Join(dir, "broken.xlsx")
			So(os.WriteFile(path, []byte("garbage"), 0o644), ShouldBeNil)
			text, err := conv.ConvertToText(path, ingest.MimeXLSX)
			So(err, ShouldBeNil)
			So(text, ShouldEqual, "Excel file: broken.xlsx")
		})

		Convey("csv: 原样返回", func() {
			path := filepath.Join(dir, "rows.csv")
			So(os.WriteFile(path, []byte("a,b\n1,2\n"), 0o644), ShouldBeNil)
			text, err := conv.ConvertToText(path, ingest.MimeCSV)
			So(err, ShouldBeNil)
			So(text, ShouldEqual, "a,b\n1,2\n")
		})

		Convey("其他类型为调用方错误", func() {
			_, err := conv.ConvertToText(filepath.Join(dir, "x.pdf"), ingest.MimePDF)
			So(errors.Is(err, ErrConversion), ShouldBeTrue)

			var convErr *ConversionError
			So(errors.As(err, &convErr), ShouldBeTrue)
			So(convErr.MimeType, ShouldEqual, ingest.MimePDF)

			_, err = conv.ConvertToText(filepath.Join(dir, "x.doc"), ingest.MimeDOC)
			So(errors.Is(err, ErrConversion), ShouldBeTrue)
		})
	})
}

func TestAppendAttachment(t *testing.T) {
	Convey("AppendAttachment 追加带标记的文本块", t, func() {
		out := AppendAttachment("please summarise", "report.docx", "Quarterly report")
		So(out, ShouldEqual, "please summarise\n\n[Attached file: report.docx]\nQuarterly report")

		Convey("转换后的 docx 嵌入后不含 XML 标签", func() {
			body := AppendAttachment("", "r.docx", StripXML(documentXML))
			So(xmlTagPattern.MatchString(body), ShouldBeFalse)
		})
	})
}
