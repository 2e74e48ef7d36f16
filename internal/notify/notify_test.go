package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"gopkg.in/telebot.v3"

	"github.com/example/daily-engagement/internal/application"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var liveEvent = application.Event{
	Type:         application.EventSessionLive,
	OccurredAt:   time.Date(2024, 3, 4, 13, 42, 0, 0, time.UTC),
	ScheduleID:   "org-1",
	ScheduleName: "Evening circle",
	SessionID:    "session-1",
	SessionDate:  "2024-03-04",
	StartsAt:     time.Date(2024, 3, 4, 13, 30, 0, 0, time.UTC),
	MeetingLink:  "https://meet.example.com/x",
}

var maturedEvent = application.Event{
	Type:       application.EventTreeMatured,
	OccurredAt: time.Date(2024, 3, 8, 14, 0, 0, 0, time.UTC),
	SessionID:  "session-5",
	UserID:     "user-1",
	Tree:       &application.ForestTree{ID: "tree-1", StartedOn: "2024-03-04", MaturedOn: "2024-03-08", GrowthDays: 5, GrowthPercent: 100},
}

type recordingWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return nil
}

type stubNotifier struct {
	calls int
	err   error
}

func (s *stubNotifier) Notify(context.Context, application.Event) error {
	s.calls++
	return s.err
}

type stubSender struct {
	to   telebot.Recipient
	text string
	err  error
}

func (s *stubSender) Send(to telebot.Recipient, what interface{}, _ ...interface{}) (*telebot.Message, error) {
	s.to = to
	s.text, _ = what.(string)
	return &telebot.Message{}, s.err
}

func TestNewMessage(t *testing.T) {
	t.Parallel()

	live := NewMessage(liveEvent)
	if live.Type != "session.live" || live.StartsAt == nil || live.Tree != nil {
		t.Fatalf("unexpected live message: %+v", live)
	}

	matured := NewMessage(maturedEvent)
	if matured.StartsAt != nil {
		t.Fatalf("expected no start instant, got %v", matured.StartsAt)
	}
	if matured.Tree == nil || matured.Tree.ID != "tree-1" || matured.Tree.GrowthDays != 5 {
		t.Fatalf("unexpected tree: %+v", matured.Tree)
	}
}

func TestText(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		event application.Event
		want  string
	}{
		{name: "live", event: liveEvent, want: "Evening circle is live now. Join: https://meet.example.com/x"},
		{name: "reminder", event: application.Event{Type: application.EventSessionReminder, ScheduleID: "org-1", StartsAt: liveEvent.StartsAt, MeetingLink: "link"}, want: "org-1 starts at 13:30 UTC. Join: link"},
		{name: "matured", event: maturedEvent, want: "User user-1 grew a tree (2024-03-04 to 2024-03-08)."},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Text(tc.event); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestFanoutDeliversToAllAndJoinsErrors(t *testing.T) {
	t.Parallel()

	ok := &stubNotifier{}
	failing := &stubNotifier{err: errors.New("down")}
	fanout := NewFanout(ok, nil, failing)

	err := fanout.Notify(context.Background(), liveEvent)
	if err == nil || !strings.Contains(err.Error(), "down") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if ok.calls != 1 || failing.calls != 1 {
		t.Fatalf("expected every notifier to be called, got %d and %d", ok.calls, failing.calls)
	}
}

func TestLogNotifierWritesEvent(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	notifier := NewLogNotifier(slog.New(slog.NewJSONHandler(&buf, nil)))
	if err := notifier.Notify(context.Background(), maturedEvent); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log entry: %v", err)
	}
	if entry["msg"] != "notification_event" || entry["type"] != "tree.matured" || entry["tree_id"] != "tree-1" {
		t.Fatalf("unexpected log entry: %v", entry)
	}
}

func TestKafkaNotifierPublishesKeyedMessages(t *testing.T) {
	t.Parallel()

	writer := &recordingWriter{}
	notifier := newKafkaNotifierWithWriter(KafkaConfig{Topic: "engagement.events"}, discardLogger(), writer, writer)
	notifier.Start()

	for _, event := range []application.Event{liveEvent, maturedEvent} {
		if err := notifier.Notify(context.Background(), event); err != nil {
			t.Fatalf("Notify: %v", err)
		}
	}
	if err := notifier.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	writer.mu.Lock()
	defer writer.mu.Unlock()
	if len(writer.messages) != 2 || !writer.closed {
		t.Fatalf("expected two delivered messages and a closed writer, got %d closed=%v", len(writer.messages), writer.closed)
	}
	if string(writer.messages[0].Key) != "session-1" || string(writer.messages[1].Key) != "user-1" {
		t.Fatalf("unexpected keys %q and %q", writer.messages[0].Key, writer.messages[1].Key)
	}
	var decoded Message
	if err := json.Unmarshal(writer.messages[1].Value, &decoded); err != nil {
		t.Fatalf("decode value: %v", err)
	}
	if decoded.Type != "tree.matured" || decoded.Tree == nil || decoded.Tree.MaturedOn != "2024-03-08" {
		t.Fatalf("unexpected payload: %+v", decoded)
	}

	if err := notifier.Notify(context.Background(), liveEvent); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped after Stop, got %v", err)
	}
}

func TestKafkaNotifierQueueFull(t *testing.T) {
	t.Parallel()

	writer := &recordingWriter{}
	notifier := newKafkaNotifierWithWriter(KafkaConfig{Topic: "t", QueueSize: 1}, discardLogger(), writer, writer)

	if err := notifier.Notify(context.Background(), liveEvent); err != nil {
		t.Fatalf("first Notify: %v", err)
	}
	if err := notifier.Notify(context.Background(), liveEvent); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestNewKafkaNotifierValidatesConfig(t *testing.T) {
	t.Parallel()

	if _, err := NewKafkaNotifier(KafkaConfig{Brokers: []string{"kafka:9092"}}, nil); err == nil {
		t.Fatal("expected missing topic error")
	}
	if _, err := NewKafkaNotifier(KafkaConfig{Topic: "t"}, nil); err == nil {
		t.Fatal("expected missing broker error")
	}
}

func TestTelegramNotifierSendsText(t *testing.T) {
	t.Parallel()

	sender := &stubSender{}
	notifier := newTelegramNotifierWithSender(sender, 42, discardLogger())
	if err := notifier.Notify(context.Background(), liveEvent); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if sender.to.Recipient() != "42" {
		t.Fatalf("expected chat 42, got %s", sender.to.Recipient())
	}
	if !strings.Contains(sender.text, "is live now") {
		t.Fatalf("unexpected text %q", sender.text)
	}

	sender.err = errors.New("forbidden")
	if err := notifier.Notify(context.Background(), liveEvent); err == nil {
		t.Fatal("expected send error")
	}
}
