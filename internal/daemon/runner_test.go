package daemon

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/vpolkhovsky/chatx/internal/bus"
	"github.com/vpolkhovsky/chatx/internal/gateway"
	"github.com/vpolkhovsky/chatx/internal/notify"
	"github.com/vpolkhovsky/chatx/internal/profile"
	"github.com/vpolkhovsky/chatx/internal/reconcile"
	"github.com/vpolkhovsky/chatx/internal/status"
	"github.com/vpolkhovsky/chatx/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "chatx.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	return db
}

type fakeRemote struct {
	chats    []gateway.ChatDTO
	members  map[int64][]gateway.UserDTO
	pushMsgs chan gateway.MessageDTO
	pushChat chan gateway.ChatDTO
}

func (f *fakeRemote) ListChats(context.Context) ([]gateway.ChatDTO, error) { return f.chats, nil }
func (f *fakeRemote) CreateChat(context.Context, gateway.CreateChatRequest) error {
	return nil
}
func (f *fakeRemote) JoinByCode(context.Context, string) error        { return nil }
func (f *fakeRemote) ChatCode(context.Context, int64) (string, error) { return "", nil }
func (f *fakeRemote) ListMembers(_ context.Context, chatID int64) ([]gateway.UserDTO, error) {
	return f.members[chatID], nil
}
func (f *fakeRemote) SendMessage(context.Context, gateway.NewMessageRequest) error { return nil }
func (f *fakeRemote) ListMessages(context.Context, int64) ([]gateway.MessageDTO, error) {
	return nil, nil
}
func (f *fakeRemote) SubscribeNewChats(context.Context) <-chan gateway.ChatDTO {
	return f.pushChat
}
func (f *fakeRemote) SubscribeNewMessages(context.Context) <-chan gateway.MessageDTO {
	return f.pushMsgs
}

type fakeProvider struct{ remote reconcile.Remote }

func (p fakeProvider) WithToken(string) reconcile.Remote { return p.remote }

type fakeAuth struct {
	alive   bool
	onCheck func()
}

func (f *fakeAuth) Login(context.Context, string, string) (*gateway.UserDTO, string, error) {
	return nil, "", nil
}

func (f *fakeAuth) TokenAlive(context.Context, string) bool {
	if f.onCheck != nil {
		f.onCheck()
	}
	return f.alive
}

func discard() notify.Notifier { return notify.Func(func(string, string) {}) }

func newTestRunner(t *testing.T, db *store.DB, remote reconcile.Remote, auth profile.Authenticator, b *bus.Bus) (*Runner, *status.Machine) {
	t.Helper()
	provider := fakeProvider{remote: remote}
	offline := reconcile.NewOfflineChats(db)
	messages := reconcile.NewMessages(db, provider, discard(), nil)
	chats := reconcile.NewOnlineChats(db, offline, messages, provider, discard(), nil)
	profiles := profile.NewService(db, auth, discard(), b, nil)
	machine := status.NewMachine(b)
	return NewRunner(profiles, chats, machine, b, nil), machine
}

func waitForState(t *testing.T, m *status.Machine, want status.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.Current() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", m.Current(), want)
}

func TestRunnerAuthRequiredWithoutSessions(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	r, machine := newTestRunner(t, db, &fakeRemote{}, &fakeAuth{}, b)

	r.Start(context.Background())
	defer r.Stop()

	waitForState(t, machine, status.AuthRequired)
}

func TestRunnerSyncsAndPublishesPreviews(t *testing.T) {
	db := testDB(t)
	if err := db.SaveSession(&store.Session{ProfileID: 1, Token: "tok"}, &store.Profile{ID: 1, Username: "vlad"}); err != nil {
		t.Fatal(err)
	}
	b := bus.New()
	remote := &fakeRemote{
		chats: []gateway.ChatDTO{{
			ID:   10,
			Name: "general",
			Members: []gateway.ChatMemberDTO{
				{ChatID: 10, User: gateway.UserDTO{ID: 1, Username: "vlad"}},
			},
			LastMessageTimestamp: 100,
		}},
		members:  map[int64][]gateway.UserDTO{10: {{ID: 1, Username: "vlad"}}},
		pushMsgs: make(chan gateway.MessageDTO, 1),
		pushChat: make(chan gateway.ChatDTO),
	}
	r, machine := newTestRunner(t, db, remote, &fakeAuth{alive: true}, b)

	events, unsub := b.Subscribe(bus.KindChatPreviewUpdated, 10)
	defer unsub()

	r.Start(context.Background())
	defer r.Stop()

	select {
	case evt := <-events:
		payload := evt.Payload.(ProfilePreviews)
		if payload.ProfileID != 1 || len(payload.Previews) != 1 || payload.Previews[0].ChatID != 10 {
			t.Fatalf("unexpected initial previews: %+v", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for initial preview list")
	}
	waitForState(t, machine, status.Ready)

	// A pushed message refreshes the list with the chat in front.
	text := "hello"
	remote.pushMsgs <- gateway.MessageDTO{
		ID: 5, ChatID: 10, Text: &text,
		From: gateway.UserDTO{ID: 1, Username: "vlad"}, Timestamp: 200,
	}

	select {
	case evt := <-events:
		payload := evt.Payload.(ProfilePreviews)
		p := payload.Previews[0]
		if p.ChatID != 10 || p.LastMessage == nil || p.LastMessage.ID != 5 {
			t.Fatalf("push did not refresh preview: %+v", p)
		}
		if len(payload.Previews) != 1 {
			t.Fatalf("push must not duplicate the chat entry: %+v", payload.Previews)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for pushed preview update")
	}
}

func TestRunnerDegradedWhenNoProfileSyncs(t *testing.T) {
	db := testDB(t)
	if err := db.SaveSession(&store.Session{ProfileID: 1, Token: "tok"}, &store.Profile{ID: 1, Username: "vlad"}); err != nil {
		t.Fatal(err)
	}
	// The session vanishes between the liveness sweep and the chat sync, so
	// every per-profile sync fails and the daemon degrades to cache-only.
	auth := &fakeAuth{alive: true, onCheck: func() { _ = db.DeleteSession(1) }}
	b := bus.New()
	r, machine := newTestRunner(t, db, &fakeRemote{}, auth, b)

	r.Start(context.Background())
	defer r.Stop()

	waitForState(t, machine, status.Degraded)
}
