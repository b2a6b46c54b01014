package api

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/kalambet/shopchat/internal/chat"
	"github.com/kalambet/shopchat/internal/session"
)

// fakeConversation records calls and answers with canned messages.
type fakeConversation struct {
	mu       sync.Mutex
	snap     session.Snapshot
	reply    session.Message
	err      error
	texts    []string
	codes    []string
	uploads  map[string]string
	resets   int
}

func newFakeConversation() *fakeConversation {
	return &fakeConversation{
		snap: session.Snapshot{Messages: []session.Message{
			{ID: 1, Role: session.RoleBot, Text: chat.Greeting, CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		}},
		reply: session.Message{
			ID: 3, Role: session.RoleBot, Text: "Mình đã tìm thấy 1 sản phẩm",
			Suggestions: []session.Suggestion{{ID: 7, Name: "Sữa tươi", Price: "32.000 đ", Rating: 4.5}},
		},
		uploads: make(map[string]string),
	}
}

func (f *fakeConversation) Submit(_ context.Context, text string) (session.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return f.reply, f.err
}

func (f *fakeConversation) LookupBarcode(_ context.Context, code string) (session.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes = append(f.codes, code)
	return f.reply, f.err
}

func (f *fakeConversation) ScanImage(_ context.Context, filename string, r io.Reader) (session.Message, error) {
	b, _ := io.ReadAll(r)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads[filename] = string(b)
	return f.reply, f.err
}

func (f *fakeConversation) Snapshot() session.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap.Clone()
}

func (f *fakeConversation) SetDraft(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap.Draft = text
}

func (f *fakeConversation) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.resets++
	return nil
}
