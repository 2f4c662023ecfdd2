package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"filechat/internal/model/conversation"
	"filechat/internal/pkg/cache"
	"filechat/internal/pkg/claude"
	"filechat/internal/pkg/storage"
)

// fakeProvider 记录调用并返回预设结果
type fakeProvider struct {
	mu sync.Mutex

	completion  *claude.Completion
	completeErr error
	uploadErr   map[string]error
	contents    map[string]string
	metadata    map[string]*claude.FileObject
	metadataErr map[string]error

	uploads   []string
	messages  []conversation.Message
	session   claude.Session
	model     string
	completed int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		completion:  &claude.Completion{Text: "ok", SessionID: "cont_1", Artifacts: []claude.Artifact{}},
		uploadErr:   map[string]error{},
		contents:    map[string]string{},
		metadata:    map[string]*claude.FileObject{},
		metadataErr: map[string]error{},
	}
}

func (p *fakeProvider) Complete(ctx context.Context, messages []conversation.Message, model string, session claude.Session) (*claude.Completion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed++
	p.messages = messages
	p.session = session
	p.model = model
	if p.completeErr != nil {
		return nil, p.completeErr
	}
	return p.completion, nil
}

func (p *fakeProvider) UploadFile(ctx context.Context, path, filename, mimeType string) (*claude.FileObject, error) {
	if err := p.uploadErr[filename]; err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.uploads = append(p.uploads, filename)
	p.mu.Unlock()
	return &claude.FileObject{ID: "file_" + filename, Filename: filename, MimeType: mimeType}, nil
}

func (p *fakeProvider) GetFileMetadata(ctx context.Context, fileID string) (*claude.FileObject, error) {
	if err := p.metadataErr[fileID]; err != nil {
		return nil, err
	}
	meta, ok := p.metadata[fileID]
	if !ok {
		return nil, &claude.ServiceError{StatusCode: 404, Body: "not found"}
	}
	return meta, nil
}

func (p *fakeProvider) DownloadFile(ctx context.Context, fileID string) (io.ReadCloser, error) {
	data, ok := p.contents[fileID]
	if !ok {
		return nil, &claude.ServiceError{StatusCode: 404, Body: "not found"}
	}
	return io.NopCloser(strings.NewReader(data)), nil
}

// memoryStore 内存消息存储
type memoryStore struct {
	mu    sync.Mutex
	turns []*conversation.Turn
}

func (s *memoryStore) Create(ctx context.Context, turn *conversation.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *turn
	cp.FileIDs = append([]string(nil), turn.FileIDs...)
	s.turns = append(s.turns, &cp)
	return nil
}

func (s *memoryStore) ListByConversation(ctx context.Context, conversationID string) ([]*conversation.Turn, error) {
	return s.filter(func(t *conversation.Turn) bool { return t.ConversationID == conversationID }), nil
}

func (s *memoryStore) ListByRole(ctx context.Context, conversationID string, role conversation.Role) ([]*conversation.Turn, error) {
	return s.filter(func(t *conversation.Turn) bool { return t.ConversationID == conversationID && t.Role == role }), nil
}

func (s *memoryStore) filter(keep func(*conversation.Turn) bool) []*conversation.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*conversation.Turn, 0)
	for _, t := range s.turns {
		if keep(t) {
			cp := *t
			cp.Attachments = append([]conversation.Attachment(nil), t.Attachments...)
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *memoryStore) AddAttachment(ctx context.Context, turnID string, att conversation.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.turns {
		if t.ID == turnID {
			t.Attachments = append(t.Attachments, att)
			return nil
		}
	}
	return errors.New("turn not found")
}

func (s *memoryStore) DeleteByConversation(ctx context.Context, conversationID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.turns[:0]
	var deleted int64
	for _, t := range s.turns {
		if t.ConversationID == conversationID {
			deleted++
			continue
		}
		kept = append(kept, t)
	}
	s.turns = kept
	return deleted, nil
}

// memoryStorage 内存附件存储
type memoryStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{objects: map[string][]byte{}}
}

func (m *memoryStorage) Upload(ctx context.Context, key string, data io.Reader, contentType string) (string, error) {
	b, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = b
	return "mem://" + key, nil
}

func (m *memoryStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memoryStorage) GetPresignedDownloadURL(ctx context.Context, key string, expiresIn time.Duration) (string, error) {
	return "mem://" + key, nil
}

func (m *memoryStorage) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memoryStorage) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			delete(m.objects, k)
			n++
		}
	}
	return n, nil
}

func (m *memoryStorage) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memoryStorage) GetFileInfo(ctx context.Context, key string) (*storage.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}
	return &storage.FileInfo{Key: key, Size: int64(len(b))}, nil
}

func (m *memoryStorage) GetStorageType() string { return "memory" }

// memorySessions 内存会话缓存
type memorySessions struct {
	mu     sync.Mutex
	states map[string]cache.SessionState
}

func newMemorySessions() *memorySessions {
	return &memorySessions{states: map[string]cache.SessionState{}}
}

func (m *memorySessions) SetSession(ctx context.Context, conversationID string, state cache.SessionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[conversationID] = state
	return nil
}

func (m *memorySessions) GetSession(ctx context.Context, conversationID string) (*cache.SessionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[conversationID]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

func (m *memorySessions) DeleteSession(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, conversationID)
	return nil
}

// stubConverter 返回预设文本
type stubConverter struct {
	text string
	err  error
}

func (c stubConverter) ConvertToText(path, mimeType string) (string, error) {
	return c.text, c.err
}
