package outbox

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/vpolkhovsky/chatx/internal/bus"
	"github.com/vpolkhovsky/chatx/internal/gateway"
	"github.com/vpolkhovsky/chatx/internal/notify"
	"github.com/vpolkhovsky/chatx/internal/reconcile"
	"github.com/vpolkhovsky/chatx/internal/store"
)

// mockSender records calls and returns configurable results. With failures
// set, only that many calls return err and the rest succeed; with failures
// zero every call returns err.
type mockSender struct {
	calls    []sendCall
	err      error
	failures int
}

type sendCall struct {
	ProfileID int64
	ChatID    int64
	Text      string
}

func (m *mockSender) Send(_ context.Context, fromProfileID, chatID int64, text *string, _ *int64) error {
	var body string
	if text != nil {
		body = *text
	}
	m.calls = append(m.calls, sendCall{ProfileID: fromProfileID, ChatID: chatID, Text: body})
	if m.err == nil {
		return nil
	}
	if m.failures == 0 {
		return m.err
	}
	if len(m.calls) <= m.failures {
		return m.err
	}
	return nil
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSenderProcessesPendingMessages(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	mock := &mockSender{}
	s := NewSender(db, mock, b, nil, 50*time.Millisecond)

	ch, unsub := b.Subscribe(bus.KindMessageSendAck, 10)
	defer unsub()

	clientMsgID, err := s.Queue(1, 10, "hello", nil)
	if err != nil {
		t.Fatal(err)
	}

	s.Start(context.Background())
	defer s.Stop()

	select {
	case evt := <-ch:
		if evt.Kind != bus.KindMessageSendAck {
			t.Errorf("event kind = %q, want %q", evt.Kind, bus.KindMessageSendAck)
		}
		payload := evt.Payload.(map[string]string)
		if payload["client_msg_id"] != clientMsgID {
			t.Errorf("payload id = %q, want %q", payload["client_msg_id"], clientMsgID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for send_ack event")
	}

	if len(mock.calls) != 1 {
		t.Fatalf("got %d send calls, want 1", len(mock.calls))
	}
	if mock.calls[0].ProfileID != 1 || mock.calls[0].ChatID != 10 || mock.calls[0].Text != "hello" {
		t.Errorf("call = %+v, want {1, 10, hello}", mock.calls[0])
	}

	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("got %d pending, want 0 after send", len(pending))
	}
}

func TestSenderFailsPermanentlyOnAuthError(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	mock := &mockSender{err: gateway.ErrUnauthenticated}
	s := NewSender(db, mock, b, nil, 50*time.Millisecond)

	ch, unsub := b.Subscribe(bus.KindMessageSendFailed, 10)
	defer unsub()

	if _, err := s.Queue(1, 10, "hello", nil); err != nil {
		t.Fatal(err)
	}

	s.Start(context.Background())
	defer s.Stop()

	select {
	case evt := <-ch:
		payload := evt.Payload.(map[string]string)
		if payload["error"] == "" {
			t.Error("failure payload should carry the error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for send_failed event")
	}

	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("got %d pending, want 0 (should be marked failed)", len(pending))
	}
}

func TestSenderRetriesTransientFailure(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	mock := &mockSender{err: fmt.Errorf("connection refused"), failures: 2}
	s := NewSender(db, mock, b, nil, 50*time.Millisecond)

	acks, unsubAck := b.Subscribe(bus.KindMessageSendAck, 10)
	defer unsubAck()
	failed, unsubFailed := b.Subscribe(bus.KindMessageSendFailed, 10)
	defer unsubFailed()

	if _, err := s.Queue(1, 10, "hello", nil); err != nil {
		t.Fatal(err)
	}

	s.Start(context.Background())
	defer s.Stop()

	select {
	case <-acks:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for send_ack after retries")
	}
	select {
	case <-failed:
		t.Error("transient failures must not emit send_failed")
	default:
	}

	if len(mock.calls) != 3 {
		t.Errorf("got %d send calls, want 3 (two failures then success)", len(mock.calls))
	}
	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("got %d pending, want 0 after eventual success", len(pending))
	}
}

func TestSenderKeepsEntryWhenServerUnreachable(t *testing.T) {
	db := testDB(t)
	b := bus.New()

	err := db.SaveSession(
		&store.Session{ProfileID: 1, Token: "tok"},
		&store.Profile{ID: 1, Username: "ann"},
	)
	if err != nil {
		t.Fatal(err)
	}

	discard := notify.Func(func(string, string) {})
	provider := gateway.NewProvider("http://127.0.0.1:1", discard, nil, time.Second)
	messages := reconcile.NewMessages(db, reconcile.GatewayProvider{Provider: provider}, discard, nil)
	s := NewSender(db, messages, b, nil, 50*time.Millisecond)

	acks, unsubAck := b.Subscribe(bus.KindMessageSendAck, 10)
	defer unsubAck()
	failed, unsubFailed := b.Subscribe(bus.KindMessageSendFailed, 10)
	defer unsubFailed()

	clientMsgID, err := s.Queue(1, 10, "hello", nil)
	if err != nil {
		t.Fatal(err)
	}

	s.Start(context.Background())
	time.Sleep(300 * time.Millisecond)
	s.Stop()

	select {
	case <-acks:
		t.Error("unreachable server must not ack a send")
	default:
	}
	select {
	case <-failed:
		t.Error("transport failure is transient, must not emit send_failed")
	default:
	}

	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ClientMsgID != clientMsgID {
		t.Fatalf("pending = %+v, want the queued entry to survive", pending)
	}
}

func TestStartRequeuesInterruptedSends(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	mock := &mockSender{}
	s := NewSender(db, mock, b, nil, 50*time.Millisecond)

	ch, unsub := b.Subscribe(bus.KindMessageSendAck, 10)
	defer unsub()

	clientMsgID, err := s.Queue(1, 10, "hello", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxSending(clientMsgID); err != nil {
		t.Fatal(err)
	}

	s.Start(context.Background())
	defer s.Stop()

	select {
	case evt := <-ch:
		payload := evt.Payload.(map[string]string)
		if payload["client_msg_id"] != clientMsgID {
			t.Errorf("payload id = %q, want %q", payload["client_msg_id"], clientMsgID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for requeued entry to be sent")
	}
}

func TestQueueAssignsDistinctClientIDs(t *testing.T) {
	db := testDB(t)
	s := NewSender(db, &mockSender{}, bus.New(), nil, time.Second)

	first, err := s.Queue(1, 10, "a", nil)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Queue(1, 10, "a", nil)
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Fatalf("client ids must be unique, both %q", first)
	}

	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("got %d pending, want 2", len(pending))
	}
}
