// Package notify delivers reminder notices to borrowers.
package notify

import (
	"context"
	"errors"
	"log/slog"
)

type TemplateKind string

const (
	KindDueSoon TemplateKind = "due_soon"
	KindOverdue TemplateKind = "overdue"
)

// Payload は通知の中身。DaysValue は残り日数または延滞日数。
type Payload struct {
	Title     string
	DueDate   string // YYYY-MM-DD
	DaysValue int
}

type Sender interface {
	Deliver(ctx context.Context, recipientID string, kind TemplateKind, p Payload) error
}

type Reason string

const (
	ReasonNotSubscribed Reason = "recipient_not_subscribed"
	ReasonTransient     Reason = "transient_error"
	ReasonRejected      Reason = "rejected"
)

type DeliveryError struct {
	Reason Reason
	Err    error
}

func (e *DeliveryError) Error() string {
	if e.Err == nil {
		return "delivery failed: " + string(e.Reason)
	}
	return "delivery failed: " + string(e.Reason) + ": " + e.Err.Error()
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// ReasonOf は err から理由を取り出す。DeliveryError 以外は transient 扱い。
func ReasonOf(err error) Reason {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Reason
	}
	return ReasonTransient
}

// LogSender はログに出すだけの Sender。開発環境用。
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Deliver(ctx context.Context, recipientID string, kind TemplateKind, p Payload) error {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	l.InfoContext(ctx, "notification (log only)",
		"recipient", recipientID, "kind", kind, "title", p.Title, "due_date", p.DueDate, "days", p.DaysValue)
	return nil
}
