// Package testfixture はサービス層のテストで使用するメモリストアとデータ投入ヘルパーを提供する。
package testfixture

import (
	"context"
	"testing"
	"time"

	"github.com/hitoshi/chapterhub/internal/auth"
	"github.com/hitoshi/chapterhub/internal/clock"
	"github.com/hitoshi/chapterhub/internal/model"
	"github.com/hitoshi/chapterhub/internal/repository"
)

// Now はテストの基準時刻。
var Now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// Env はメモリストア、固定時計、認可ガードの組。
type Env struct {
	Store *repository.MemoryStore
	Clock *clock.Fake
	Guard *auth.Guard
}

// New はEnvを生成する。
func New(t *testing.T) *Env {
	t.Helper()
	clk := clock.NewFake(Now)
	return &Env{Store: repository.NewMemoryStore(), Clock: clk, Guard: auth.NewGuard(clk)}
}

// User は投入するユーザーの指定。
// ProfileStatusが空の場合はプロフィールを作成しない。
type User struct {
	ID            string
	Role          model.Role
	ProfileStatus model.VerificationStatus
	Inactive      bool
}

// AddUser はユーザー（と必要ならプロフィール）を作成し、30日有効なセッションのトークンを返す。
// プロフィールIDは "profile-" + ユーザーID。
func (e *Env) AddUser(t *testing.T, u User) string {
	t.Helper()
	if u.Role == "" {
		u.Role = model.RoleStudent
	}
	ctx := context.Background()
	token := "token-" + u.ID
	err := e.Store.WithTx(ctx, func(tx repository.Tx) error {
		user := &model.User{
			ID: u.ID, Email: u.ID + "@example.com", Name: "User " + u.ID,
			Role: u.Role, IsActive: !u.Inactive, CreatedAt: Now,
		}
		if err := tx.Users().Create(ctx, user); err != nil {
			return err
		}
		if u.ProfileStatus != "" {
			profile := &model.Profile{
				ID: ProfileID(u.ID), UserID: u.ID, FirstName: u.ID, LastName: "Student",
				Grade: 10, StudentNumber: "S-" + u.ID, VerificationStatus: u.ProfileStatus,
				CreatedAt: Now, UpdatedAt: Now,
			}
			if err := tx.Profiles().Create(ctx, profile); err != nil {
				return err
			}
			if err := tx.Users().LinkProfile(ctx, u.ID, profile.ID); err != nil {
				return err
			}
		}
		return tx.Sessions().Create(ctx, &model.Session{
			ID: "session-" + u.ID, TokenHash: auth.HashToken(token), UserID: u.ID,
			CreatedAt: Now, ExpiresAt: Now.Add(30 * 24 * time.Hour),
		})
	})
	if err != nil {
		t.Fatalf("AddUser(%q) error = %v", u.ID, err)
	}
	return token
}

// ProfileID はAddUserが作成するプロフィールのIDを返す。
func ProfileID(userID string) string {
	return "profile-" + userID
}

// AddMeeting はチェックイン未開始のミーティングを作成する。
func (e *Env) AddMeeting(t *testing.T, id, date string) {
	t.Helper()
	ctx := context.Background()
	err := e.Store.WithTx(ctx, func(tx repository.Tx) error {
		return tx.Meetings().Create(ctx, &model.Meeting{
			ID: id, Title: "Meeting " + id, Location: "Room 101",
			ScheduledDate: date, ScheduledStartTime: "15:00", ScheduledEndTime: "16:00",
			CheckInStatus: model.CheckInNotStarted, CreatedBy: "admin", CreatedAt: Now, UpdatedAt: Now,
		})
	})
	if err != nil {
		t.Fatalf("AddMeeting(%q) error = %v", id, err)
	}
}

// Profile はプロフィールを取得する。存在しない場合はテストを失敗させる。
func (e *Env) Profile(t *testing.T, id string) *model.Profile {
	t.Helper()
	var p *model.Profile
	e.view(t, func(ctx context.Context, tx repository.Tx) (err error) {
		p, err = tx.Profiles().FindByID(ctx, id)
		return err
	})
	if p == nil {
		t.Fatalf("profile %q not found", id)
	}
	return p
}

// Meeting はミーティングを取得する。存在しない場合はnilを返す。
func (e *Env) Meeting(t *testing.T, id string) *model.Meeting {
	t.Helper()
	var m *model.Meeting
	e.view(t, func(ctx context.Context, tx repository.Tx) (err error) {
		m, err = tx.Meetings().FindByID(ctx, id)
		return err
	})
	return m
}

// Notifications はユーザーの通知を新しい順に返す。
func (e *Env) Notifications(t *testing.T, userID string) []*model.Notification {
	t.Helper()
	var ns []*model.Notification
	e.view(t, func(ctx context.Context, tx repository.Tx) (err error) {
		ns, err = tx.Notifications().ListByUser(ctx, userID, 100)
		return err
	})
	return ns
}

// Tx はテストデータの投入・変更用にトランザクションを実行する。
func (e *Env) Tx(t *testing.T, fn func(ctx context.Context, tx repository.Tx) error) {
	t.Helper()
	ctx := context.Background()
	if err := e.Store.WithTx(ctx, func(tx repository.Tx) error { return fn(ctx, tx) }); err != nil {
		t.Fatalf("WithTx() error = %v", err)
	}
}

func (e *Env) view(t *testing.T, fn func(ctx context.Context, tx repository.Tx) error) {
	t.Helper()
	ctx := context.Background()
	if err := e.Store.View(ctx, func(tx repository.Tx) error { return fn(ctx, tx) }); err != nil {
		t.Fatalf("View() error = %v", err)
	}
}
