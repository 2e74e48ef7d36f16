// Package notify delivers application events to logs, Kafka and Telegram.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/daily-engagement/internal/application"
)

// Message is the wire representation of an application event.
type Message struct {
	Type         string       `json:"type"`
	OccurredAt   time.Time    `json:"occurredAt"`
	ScheduleID   string       `json:"scheduleId,omitempty"`
	ScheduleName string       `json:"scheduleName,omitempty"`
	SessionID    string       `json:"sessionId,omitempty"`
	SessionDate  string       `json:"sessionDate,omitempty"`
	StartsAt     *time.Time   `json:"startsAt,omitempty"`
	MeetingLink  string       `json:"meetingLink,omitempty"`
	UserID       string       `json:"userId,omitempty"`
	Tree         *TreeMessage `json:"tree,omitempty"`
}

// TreeMessage describes a matured tree.
type TreeMessage struct {
	ID         string `json:"id"`
	StartedOn  string `json:"startedOn"`
	MaturedOn  string `json:"maturedOn"`
	GrowthDays int    `json:"growthDays"`
}

// NewMessage converts event into its wire form.
func NewMessage(event application.Event) Message {
	msg := Message{
		Type:         string(event.Type),
		OccurredAt:   event.OccurredAt.UTC(),
		ScheduleID:   event.ScheduleID,
		ScheduleName: event.ScheduleName,
		SessionID:    event.SessionID,
		SessionDate:  event.SessionDate,
		MeetingLink:  event.MeetingLink,
		UserID:       event.UserID,
	}
	if !event.StartsAt.IsZero() {
		startsAt := event.StartsAt.UTC()
		msg.StartsAt = &startsAt
	}
	if event.Tree != nil {
		msg.Tree = &TreeMessage{
			ID:         event.Tree.ID,
			StartedOn:  event.Tree.StartedOn,
			MaturedOn:  event.Tree.MaturedOn,
			GrowthDays: event.Tree.GrowthDays,
		}
	}
	return msg
}

// Text renders event as a short human readable line.
func Text(event application.Event) string {
	name := event.ScheduleName
	if name == "" {
		name = event.ScheduleID
	}
	switch event.Type {
	case application.EventSessionLive:
		return fmt.Sprintf("%s is live now. Join: %s", name, event.MeetingLink)
	case application.EventSessionReminder:
		return fmt.Sprintf("%s starts at %s UTC. Join: %s", name, event.StartsAt.UTC().Format("15:04"), event.MeetingLink)
	case application.EventTreeMatured:
		if event.Tree != nil {
			return fmt.Sprintf("User %s grew a tree (%s to %s).", event.UserID, event.Tree.StartedOn, event.Tree.MaturedOn)
		}
		return fmt.Sprintf("User %s grew a tree.", event.UserID)
	default:
		return string(event.Type)
	}
}

// Fanout forwards each event to every configured notifier.
type Fanout struct {
	notifiers []application.Notifier
}

// NewFanout returns a notifier delivering to all non-nil notifiers.
func NewFanout(notifiers ...application.Notifier) *Fanout {
	f := &Fanout{}
	for _, n := range notifiers {
		if n != nil {
			f.notifiers = append(f.notifiers, n)
		}
	}
	return f
}

// Notify delivers event to every notifier and joins their errors.
func (f *Fanout) Notify(ctx context.Context, event application.Event) error {
	var errs []error
	for _, n := range f.notifiers {
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes every event to a structured logger.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a LogNotifier. A nil logger uses slog.Default.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With(slog.String("component", "notifier"))}
}

// Notify logs event at info level.
func (n *LogNotifier) Notify(ctx context.Context, event application.Event) error {
	attrs := []slog.Attr{
		slog.String("type", string(event.Type)),
		slog.String("schedule_id", event.ScheduleID),
		slog.String("session_id", event.SessionID),
		slog.String("session_date", event.SessionDate),
	}
	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.Tree != nil {
		attrs = append(attrs, slog.String("tree_id", event.Tree.ID))
	}
	n.logger.LogAttrs(ctx, slog.LevelInfo, "notification_event", attrs...)
	return nil
}
