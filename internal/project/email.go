package project

import (
	"context"

	"go.uber.org/zap"
)

// EmailSender delivers invitation codes. Implementations are best-effort; the
// invite is already durable when SendInvite runs. inviteeName is empty when
// the invitee has no account yet.
type EmailSender interface {
	SendInvite(ctx context.Context, email, inviteeName, projectName, code string) error
}

// LogEmailSender records the invite instead of delivering it. Deployments
// without an email provider run with this.
type LogEmailSender struct {
	logger *zap.Logger
}

// NewLogEmailSender builds the logging sender.
func NewLogEmailSender(logger *zap.Logger) *LogEmailSender {
	return &LogEmailSender{logger: logger}
}

func (s *LogEmailSender) SendInvite(_ context.Context, email, inviteeName, projectName, code string) error {
	s.logger.Info("invite email",
		zap.String("email", email),
		zap.String("invitee", inviteeName),
		zap.String("project", projectName),
		zap.String("code", code),
	)
	return nil
}
