package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"filechat/internal/config"
	"filechat/internal/model/conversation"
	"filechat/internal/pkg/claude"
	"filechat/internal/pkg/docconv"
	"filechat/internal/pkg/ingest"
)

type testEnv struct {
	svc      *chatService
	provider *fakeProvider
	store    *memoryStore
	storage  *memoryStorage
	sessions *memorySessions
	dir      string
}

func newTestEnv(t *testing.T) *testEnv {
	cfg := config.DefaultClaudeConfig()
	cfg.APIKey = "test"

	env := &testEnv{
		provider: newFakeProvider(),
		store:    &memoryStore{},
		storage:  newMemoryStorage(),
		sessions: newMemorySessions(),
		dir:      t.TempDir(),
	}
	env.svc = NewChatService(cfg, env.provider, env.store, env.storage, env.sessions).(*chatService)

	var mu sync.Mutex
	clock := time.Now()
	tick := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Millisecond)
		return clock
	}
	env.svc.now = tick
	env.svc.downloader.now = tick
	return env
}

func (e *testEnv) file(name, mimeType, content string) UploadedFile {
	path := filepath.Join(e.dir, fmt.Sprintf("%d-%s", time.Now().UnixNano(), name))
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		panic(err)
	}
	return UploadedFile{LocalPath: path, Filename: name, MimeType: mimeType, Size: int64(len(content))}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestChatService_SendMessage(t *testing.T) {
	Convey("SendMessage 串联文件路由、历史构建与服务商调用", t, func() {
		env := newTestEnv(t)
		ctx := context.Background()

		Convey("上传 CSV、转换 DOCX 并保存两条消息", func() {
			env.svc.converter = stubConverter{text: "DOC BODY"}
			csv := env.file("data.csv", ingest.MimeCSV, "a,b\n1,2\n")
			docx := env.file("report.docx", ingest.MimeDOCX, "PK")

			res, err := env.svc.SendMessage(ctx, &SendMessageRequest{
				ConversationID: "c1",
				Text:           "hello",
				Files:          []UploadedFile{csv, docx},
				Model:          "claude-sonnet-4-5",
			})
			So(err, ShouldBeNil)
			So(res.Model, ShouldEqual, "claude-sonnet-4-5-20250929")
			So(res.SessionID, ShouldEqual, "cont_1")

			So(res.UserTurn.Content, ShouldEqual, "hello\n\n[Attached file: report.docx]\nDOC BODY")
			So(res.UserTurn.FileIDs, ShouldResemble, []string{"file_data.csv"})
			So(len(res.UserTurn.Attachments), ShouldEqual, 2)
			So(res.UserTurn.Attachments[0].FileID, ShouldEqual, "file_data.csv")
			So(res.UserTurn.Attachments[1].FileID, ShouldEqual, "")

			So(env.provider.messages, ShouldResemble, []conversation.Message{{
				Role:    conversation.RoleUser,
				Content: "hello\n\n[Attached file: report.docx]\nDOC BODY",
				FileIDs: []string{"file_data.csv"},
			}})
			So(env.provider.session.EnableCodeExecution, ShouldBeTrue)
			So(env.provider.model, ShouldEqual, "claude-sonnet-4-5-20250929")

			So(res.AssistantTurn.Content, ShouldEqual, "ok")
			So(res.AssistantTurn.SessionID, ShouldEqual, "cont_1")

			turns, _ := env.svc.ListTurns(ctx, "c1")
			So(len(turns), ShouldEqual, 2)

			state, _ := env.svc.GetSession(ctx, "c1")
			So(state.SessionID, ShouldEqual, "cont_1")

			So(exists(csv.LocalPath), ShouldBeFalse)
			So(exists(docx.LocalPath), ShouldBeFalse)
			So(len(env.storage.objects), ShouldEqual, 2)
		})

		Convey("被拒绝的文件在任何网络调用前终止", func() {
			video := env.file("clip.mp4", "video/mp4", "xx")
			csv := env.file("data.csv", ingest.MimeCSV, "a")

			_, err := env.svc.SendMessage(ctx, &SendMessageRequest{
				ConversationID: "c1",
				Text:           "look",
				Files:          []UploadedFile{csv, video},
			})
			So(errors.Is(err, ingest.ErrUnsupportedMediaType), ShouldBeTrue)
			var rejectErr *ingest.RejectError
			So(errors.As(err, &rejectErr), ShouldBeTrue)
			So(rejectErr.Filename, ShouldEqual, "clip.mp4")

			So(env.provider.uploads, ShouldBeEmpty)
			So(env.provider.completed, ShouldEqual, 0)
			So(env.store.turns, ShouldBeEmpty)
			So(exists(video.LocalPath), ShouldBeFalse)
			So(exists(csv.LocalPath), ShouldBeFalse)
		})

		Convey("超过大小上限的文件被拒绝", func() {
			pdf := env.file("big.pdf", ingest.MimePDF, "x")
			pdf.Size = 600 * 1024 * 1024

			_, err := env.svc.SendMessage(ctx, &SendMessageRequest{ConversationID: "c1", Files: []UploadedFile{pdf}})
			So(errors.Is(err, ingest.ErrFileTooLarge), ShouldBeTrue)
			So(env.provider.completed, ShouldEqual, 0)
		})

		Convey("转换失败返回转换错误", func() {
			env.svc.converter = docconv.NewConverter()
			doc := env.file("old.doc", ingest.MimeDOC, "binary")

			_, err := env.svc.SendMessage(ctx, &SendMessageRequest{ConversationID: "c1", Text: "x", Files: []UploadedFile{doc}})
			So(errors.Is(err, docconv.ErrConversion), ShouldBeTrue)
			So(env.provider.completed, ShouldEqual, 0)
			So(exists(doc.LocalPath), ShouldBeFalse)
		})

		Convey("未知模型与空消息", func() {
			_, err := env.svc.SendMessage(ctx, &SendMessageRequest{ConversationID: "c1", Text: "x", Model: "gpt-4"})
			So(errors.Is(err, ErrUnknownModel), ShouldBeTrue)

			_, err = env.svc.SendMessage(ctx, &SendMessageRequest{ConversationID: "c1", Text: "  "})
			So(errors.Is(err, ErrEmptyMessage), ShouldBeTrue)

			_, err = env.svc.SendMessage(ctx, &SendMessageRequest{Text: "x"})
			So(errors.Is(err, ErrConversationRequired), ShouldBeTrue)
		})

		Convey("多个上传文件的ID按提交顺序合并", func() {
			files := make([]UploadedFile, 0, 6)
			want := make([]string, 0, 6)
			for i := 0; i < 6; i++ {
				name := fmt.Sprintf("f%d.txt", i)
				files = append(files, env.file(name, ingest.MimeText, "t"))
				want = append(want, "file_"+name)
			}

			res, err := env.svc.SendMessage(ctx, &SendMessageRequest{ConversationID: "c1", Text: "x", Files: files})
			So(err, ShouldBeNil)
			So(res.UserTurn.FileIDs, ShouldResemble, want)
		})

		Convey("上传失败时不调用服务商", func() {
			env.provider.uploadErr["bad.pdf"] = errors.New("boom")
			pdf := env.file("bad.pdf", ingest.MimePDF, "%PDF")

			_, err := env.svc.SendMessage(ctx, &SendMessageRequest{ConversationID: "c1", Text: "x", Files: []UploadedFile{pdf}})
			So(err, ShouldNotBeNil)
			So(env.provider.completed, ShouldEqual, 0)
			So(exists(pdf.LocalPath), ShouldBeFalse)
		})

		Convey("上传超时不视为仍在处理", func() {
			env.provider.uploadErr["slow.pdf"] = fmt.Errorf("%w: deadline", claude.ErrReadTimeout)
			pdf := env.file("slow.pdf", ingest.MimePDF, "%PDF")

			_, err := env.svc.SendMessage(ctx, &SendMessageRequest{ConversationID: "c1", Text: "x", Files: []UploadedFile{pdf}})
			So(errors.Is(err, ErrUploadTimeout), ShouldBeTrue)
			So(errors.Is(err, claude.ErrReadTimeout), ShouldBeFalse)
			So(env.store.turns, ShouldBeEmpty)
			So(env.provider.completed, ShouldEqual, 0)
		})

		Convey("上传连接超时保留原错误", func() {
			env.provider.uploadErr["a.pdf"] = fmt.Errorf("%w: dial", claude.ErrConnectTimeout)
			pdf := env.file("a.pdf", ingest.MimePDF, "%PDF")

			_, err := env.svc.SendMessage(ctx, &SendMessageRequest{ConversationID: "c1", Text: "x", Files: []UploadedFile{pdf}})
			So(errors.Is(err, claude.ErrConnectTimeout), ShouldBeTrue)
			So(errors.Is(err, ErrUploadTimeout), ShouldBeFalse)
		})

		Convey("读取超时原样返回，用户消息已保存", func() {
			env.provider.completeErr = fmt.Errorf("%w: deadline", claude.ErrReadTimeout)

			_, err := env.svc.SendMessage(ctx, &SendMessageRequest{ConversationID: "c1", Text: "slow", SessionID: "cont_0"})
			So(errors.Is(err, claude.ErrReadTimeout), ShouldBeTrue)
			So(env.provider.session.SessionID, ShouldEqual, "cont_0")
			So(len(env.store.turns), ShouldEqual, 1)
			So(env.store.turns[0].Role, ShouldEqual, conversation.RoleUser)
		})

		Convey("历史中的上一条用户消息与当前输入合并", func() {
			env.provider.completeErr = errors.New("down")
			_, _ = env.svc.SendMessage(ctx, &SendMessageRequest{ConversationID: "c1", Text: "first"})

			env.provider.completeErr = nil
			_, err := env.svc.SendMessage(ctx, &SendMessageRequest{ConversationID: "c1", Text: "second"})
			So(err, ShouldBeNil)
			So(env.provider.messages, ShouldResemble, []conversation.Message{{
				Role:    conversation.RoleUser,
				Content: "first\n\nsecond",
			}})
		})

		Convey("生成文件被下载，失败的文件被跳过", func() {
			env.provider.completion = &claude.Completion{
				Text:      "chart attached",
				SessionID: "cont_2",
				Artifacts: []claude.Artifact{
					{FileID: "gen1", Filename: "chart.png"},
					{FileID: "gone", Filename: "lost.csv"},
					{FileID: "gen2", Filename: "generated_file"},
					{FileID: "nometa", Filename: "orphan.txt"},
				},
			}
			env.provider.contents["gen1"] = "\x89PNG\r\n\x1a\n0000"
			env.provider.contents["gen2"] = "a,b\n1,2\n"
			env.provider.contents["nometa"] = "x"
			env.provider.metadata["gen1"] = &claude.FileObject{ID: "gen1", MimeType: "image/png"}
			env.provider.metadata["gen2"] = &claude.FileObject{ID: "gen2", Filename: "summary.csv", MimeType: "text/csv"}
			env.provider.metadata["gone"] = &claude.FileObject{ID: "gone", Filename: "lost.csv"}

			res, err := env.svc.SendMessage(ctx, &SendMessageRequest{ConversationID: "c1", Text: "plot"})
			So(err, ShouldBeNil)
			So(res.AssistantTurn.FileIDs, ShouldResemble, []string{"gen1", "gone", "gen2", "nometa"})
			So(len(res.AssistantTurn.Attachments), ShouldEqual, 2)
			So(res.AssistantTurn.Attachments[0].Filename, ShouldEqual, "chart.png")
			So(res.AssistantTurn.Attachments[0].ContentType, ShouldEqual, "image/png")
			So(res.AssistantTurn.Attachments[0].ByteSize, ShouldEqual, 12)
			So(res.AssistantTurn.Attachments[1].FileID, ShouldEqual, "gen2")
			So(res.AssistantTurn.Attachments[1].Filename, ShouldEqual, "summary.csv")
			So(res.AssistantTurn.Attachments[1].ContentType, ShouldEqual, "text/csv")

			generated, err := env.svc.ListGeneratedFiles(ctx, "c1")
			So(err, ShouldBeNil)
			So(len(generated), ShouldEqual, 2)
			So(generated[0].TurnID, ShouldEqual, res.AssistantTurn.ID)
			So(generated[0].URL, ShouldStartWith, "mem://conversations/c1/")

			uploaded, err := env.svc.ListUploadedFiles(ctx, "c1")
			So(err, ShouldBeNil)
			So(uploaded, ShouldBeEmpty)
		})

		Convey("清空对话删除消息、附件与会话缓存", func() {
			csv := env.file("data.csv", ingest.MimeCSV, "a")
			_, err := env.svc.SendMessage(ctx, &SendMessageRequest{ConversationID: "c1", Text: "x", Files: []UploadedFile{csv}})
			So(err, ShouldBeNil)
			_, err = env.svc.SendMessage(ctx, &SendMessageRequest{ConversationID: "c2", Text: "y"})
			So(err, ShouldBeNil)

			res, err := env.svc.ClearConversation(ctx, "c1")
			So(err, ShouldBeNil)
			So(res.DeletedTurns, ShouldEqual, 2)
			So(res.DeletedFiles, ShouldEqual, 1)

			turns, _ := env.svc.ListTurns(ctx, "c1")
			So(turns, ShouldBeEmpty)
			state, _ := env.svc.GetSession(ctx, "c1")
			So(state, ShouldBeNil)

			others, _ := env.svc.ListTurns(ctx, "c2")
			So(len(others), ShouldEqual, 2)
		})
	})
}
