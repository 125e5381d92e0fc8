package notifier

import (
	"context"
	"strings"

	"daybook/internal/transport"
	logx "daybook/pkg/logx"
)

// LogSink "delivers" notifications as structured log lines. It is always
// registered so reminders are visible without any chat transport.
type LogSink struct {
	log logx.Logger
}

func NewLogSink(log logx.Logger) *LogSink {
	return &LogSink{log: log.With(logx.String("comp", "notify.log"))}
}

func (l *LogSink) Name() string { return "log" }

func (l *LogSink) Deliver(_ context.Context, n transport.Notification) error {
	actions := make([]string, 0, len(n.Actions))
	for _, a := range n.Actions {
		actions = append(actions, a.ID)
	}
	l.log.Info("reminder",
		logx.Int32("id", n.ID),
		logx.String("category", n.Category),
		logx.String("title", n.Title),
		logx.String("body", n.Body),
		logx.String("actions", strings.Join(actions, ",")),
	)
	return nil
}
