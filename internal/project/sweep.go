package project

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/demeter-run/fabric-sub000/internal/repository"
)

// InviteSweeper clears expired, unredeemed invites out of the read model.
// Pure read-model hygiene: the sweep emits no events and nothing downstream
// depends on the deleted rows.
type InviteSweeper struct {
	store  *repository.Store
	logger *zap.Logger
}

// NewInviteSweeper builds the sweeper.
func NewInviteSweeper(store *repository.Store, logger *zap.Logger) *InviteSweeper {
	return &InviteSweeper{store: store, logger: logger}
}

// Register schedules the daily sweep on the given cron runner.
func (s *InviteSweeper) Register(c *cron.Cron) error {
	_, err := c.AddFunc("@daily", s.run)
	return err
}

func (s *InviteSweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := s.store.DeleteExpiredInvites(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Error("invite sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("expired invites deleted", zap.Int64("count", n))
	}
}
