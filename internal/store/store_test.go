package store

import (
	"context"
	"testing"

	"github.com/Taiizor/Zetian-sub004/internal/message"
)

func TestFuncAdapter(t *testing.T) {
	called := false
	var s MessageStore = Func(func(ctx context.Context, sess SessionInfo, m *message.Message) (bool, error) {
		called = true
		if sess.RemoteAddr != "1.2.3.4" {
			t.Errorf("got RemoteAddr %q", sess.RemoteAddr)
		}
		return true, nil
	})

	m := message.New("id", message.Envelope{}, []byte("x\n"))
	queued, err := s.Save(context.Background(), SessionInfo{RemoteAddr: "1.2.3.4"}, m)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !queued {
		t.Error("expected queued=true")
	}
	if !called {
		t.Error("underlying func was not called")
	}
}
