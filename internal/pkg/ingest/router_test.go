package ingest

import (
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

const mb = int64(1024 * 1024)

func TestRouter_Classify(t *testing.T) {
	Convey("Router.Classify 按规则表路由文件", t, func() {
		router := NewRouter(500 * mb)

		Convey("CSV 在开启代码执行时上传到服务商", func() {
			d := router.Classify(MimeCSV, 1000, true)
			So(d.Action, ShouldEqual, ActionUploadToProvider)
		})

		Convey("CSV 在关闭代码执行时同样上传", func() {
			d := router.Classify(MimeCSV, 1000, false)
			So(d.Action, ShouldEqual, ActionUploadToProvider)
		})

		Convey("旧版 Word 文档转换为文本，与开关无关", func() {
			So(router.Classify(MimeDOC, 1000, true).Action, ShouldEqual, ActionConvertToText)
			So(router.Classify(MimeDOC, 1000, false).Action, ShouldEqual, ActionConvertToText)
		})

		Convey("docx/xlsx/xls 转换为文本", func() {
			for _, m := range []string{MimeDOCX, MimeXLSX, MimeXLS} {
				So(router.Classify(m, 10, true).Action, ShouldEqual, ActionConvertToText)
			}
		})

		Convey("PDF、纯文本和图片上传到服务商", func() {
			for _, m := range []string{MimePDF, MimeText, MimeJPEG, MimePNG, MimeGIF, MimeWebP} {
				So(router.Classify(m, 10, false).Action, ShouldEqual, ActionUploadToProvider)
			}
		})

		Convey("不支持的类型被拒绝", func() {
			d := router.Classify("video/mp4", 1000, true)
			So(d.Rejected(), ShouldBeTrue)
			So(errors.Is(d.Reason, ErrUnsupportedMediaType), ShouldBeTrue)
		})

		Convey("超过 500MB 被拒绝，且大小检查优先于类型检查", func() {
			d := router.Classify(MimePDF, 600*mb, true)
			So(d.Rejected(), ShouldBeTrue)
			So(errors.Is(d.Reason, ErrFileTooLarge), ShouldBeTrue)

			d = router.Classify("video/mp4", 600*mb, true)
			So(errors.Is(d.Reason, ErrFileTooLarge), ShouldBeTrue)
		})

		Convey("恰好等于上限时允许", func() {
			So(router.Classify(MimePDF, 500*mb, true).Action, ShouldEqual, ActionUploadToProvider)
		})

		Convey("相同输入得到相同结果", func() {
			for i := 0; i < 5; i++ {
				So(router.Classify(MimeXLSX, 42, true), ShouldResemble, router.Classify(MimeXLSX, 42, true))
			}
		})
	})
}

func TestRejectError(t *testing.T) {
	Convey("RejectError 可通过 errors.Is 判断原因", t, func() {
		err := error(&RejectError{Filename: "a.mp4", MimeType: "video/mp4", Size: 1, Reason: ErrUnsupportedMediaType})
		So(errors.Is(err, ErrUnsupportedMediaType), ShouldBeTrue)
		So(errors.Is(err, ErrFileTooLarge), ShouldBeFalse)
		So(err.Error(), ShouldContainSubstring, "a.mp4")
	})
}

func TestSupportedTypes(t *testing.T) {
	Convey("SupportedTypes 返回全部 11 种类型", t, func() {
		So(len(SupportedTypes()), ShouldEqual, 11)
	})
}
