package pipeline

import (
	"context"
	"log/slog"
)

// Notifier receives out-of-band operator messages: a pending 2FA prompt,
// the final run report. Implementations deliver however they like (mail,
// chat webhook); the default just logs.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// LogNotifier is the default Notifier: structured log lines, nothing else.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(_ context.Context, subject, body string) error {
	n.Logger.Info("notification",
		slog.String("subject", subject),
		slog.String("body", body),
	)

	return nil
}
