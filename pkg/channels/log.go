package channels

import (
	"context"
	"log/slog"
)

// LogSender writes messages to the log and always succeeds. For development.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With("module", "log_sender")}
}

func (s *LogSender) Send(ctx context.Context, req Request) Result {
	s.logger.InfoContext(ctx, "Delivering message",
		"action_id", req.Action.ID,
		"channel", req.Action.Channel,
		"recipient", req.Recipient,
		"subject", req.Subject,
		"body", req.Body,
	)

	return Result{Success: true, ExternalID: "log-" + req.Action.ID, Detail: "logged"}
}
