package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	. "github.com/smartystreets/goconvey/convey"

	"filechat/internal/config"
	"filechat/internal/pkg/ctxutil"
)

func TestConversationLogger(t *testing.T) {
	Convey("子 logger 携带组件、请求ID与对话ID", t, func() {
		var buf bytes.Buffer
		prev := log.Logger
		log.Logger = zerolog.New(&buf)
		Reset(func() { log.Logger = prev })

		ctx := ctxutil.WithRequestID(context.Background(), "req-1")
		l := Conversation(ctx, "chat", "c1")
		l.Info().Msg("hello")

		fields := map[string]any{}
		So(json.Unmarshal(buf.Bytes(), &fields), ShouldBeNil)
		So(fields["component"], ShouldEqual, "chat")
		So(fields["request_id"], ShouldEqual, "req-1")
		So(fields["conversation_id"], ShouldEqual, "c1")

		Convey("无请求ID时不输出该字段", func() {
			buf.Reset()
			l := Component(context.Background(), "artifacts")
			l.Info().Msg("x")
			fields := map[string]any{}
			So(json.Unmarshal(buf.Bytes(), &fields), ShouldBeNil)
			_, ok := fields["request_id"]
			So(ok, ShouldBeFalse)
		})
	})
}

func TestInit(t *testing.T) {
	Convey("Init 配置全局 logger", t, func() {
		prev, prevLevel := log.Logger, zerolog.GlobalLevel()
		Reset(func() {
			log.Logger = prev
			zerolog.SetGlobalLevel(prevLevel)
		})

		Convey("写入文件输出", func() {
			path := filepath.Join(t.TempDir(), "app.log")
			So(Init(&config.LogConfig{Level: "debug", Format: "json", Output: "file", FilePath: path}), ShouldBeNil)
			So(zerolog.GlobalLevel(), ShouldEqual, zerolog.DebugLevel)

			log.Info().Msg("to file")
			data, err := os.ReadFile(path)
			So(err, ShouldBeNil)
			So(string(data), ShouldContainSubstring, "to file")
		})

		Convey("未知级别回退为 info", func() {
			So(Init(&config.LogConfig{Level: "loud", Format: "json", Output: "stdout"}), ShouldBeNil)
			So(zerolog.GlobalLevel(), ShouldEqual, zerolog.InfoLevel)
		})

		Convey("文件无法打开时返回错误", func() {
			path := filepath.Join(t.TempDir(), "missing", "app.log")
			So(Init(&config.LogConfig{Level: "info", Output: "file", FilePath: path}), ShouldNotBeNil)
		})
	})
}
