// Package notification はアプリ内通知の参照と既読化を提供する。
// 通知はサービス層の各操作で保存されるのみで、外部への配信は行わない。
package notification

import (
	"context"
	"fmt"

	"github.com/hitoshi/chapterhub/internal/auth"
	"github.com/hitoshi/chapterhub/internal/clock"
	"github.com/hitoshi/chapterhub/internal/model"
	"github.com/hitoshi/chapterhub/internal/repository"
)

// DefaultLimit は一覧で返す通知の既定件数。
const DefaultLimit = 50

// Service は通知のサービス層。
type Service struct {
	store repository.Store
	guard *auth.Guard
	clock clock.Clock
}

// NewService はServiceを生成する。
func NewService(store repository.Store, guard *auth.Guard, c clock.Clock) *Service {
	return &Service{store: store, guard: guard, clock: c}
}

// List はログイン中のユーザーの通知を新しい順に最大limit件返す。
// limitが0以下の場合はDefaultLimit。未認証の場合は空のスライスを返す。
func (s *Service) List(ctx context.Context, token string, limit int) ([]*model.Notification, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	notifications := []*model.Notification{}
	err := s.store.View(ctx, func(tx repository.Tx) error {
		user, err := s.guard.CurrentUser(ctx, tx, token)
		if err != nil || user == nil {
			return err
		}
		list, err := tx.Notifications().ListByUser(ctx, user.ID, limit)
		if err != nil {
			return fmt.Errorf("failed to list notifications: %w", err)
		}
		notifications = append(notifications, list...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return notifications, nil
}

// MarkRead は本人の通知を既読にする。既読済みの場合は何もしない。
// 他人の通知や存在しない通知はNOTIFICATION_NOT_FOUNDを返す。
func (s *Service) MarkRead(ctx context.Context, token, notificationID string) error {
	return s.store.WithTx(ctx, func(tx repository.Tx) error {
		user, err := s.guard.RequireAuth(ctx, tx, token)
		if err != nil {
			return err
		}
		found, err := tx.Notifications().MarkRead(ctx, notificationID, user.ID, s.clock.Now())
		if err != nil {
			return fmt.Errorf("failed to mark notification read: %w", err)
		}
		if !found {
			return model.NewNotificationNotFoundError(notificationID)
		}
		return nil
	})
}
