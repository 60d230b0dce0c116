package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/chapterhub/internal/model"
)

var errAbort = errors.New("abort")

func seedProfile(t *testing.T, s *MemoryStore, id, userID string) {
	t.Helper()
	err := s.WithTx(context.Background(), func(tx Tx) error {
		return tx.Profiles().Create(context.Background(), &model.Profile{
			ID: id, UserID: userID, FirstName: "Ada", LastName: "Lovelace", Grade: 11,
			VerificationStatus: model.VerificationVerified,
		})
	})
	if err != nil {
		t.Fatalf("seed profile: %v", err)
	}
}

func TestMemoryStore_WithTx_RollsBackOnError(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx Tx) error {
		if err := tx.Users().Create(ctx, &model.User{ID: "u1", Email: "a@example.com"}); err != nil {
			return err
		}
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("WithTx error = %v, want errAbort", err)
	}

	_ = s.View(ctx, func(tx Tx) error {
		u, _ := tx.Users().FindByID(ctx, "u1")
		if u != nil {
			t.Error("user should not exist after rollback")
		}
		return nil
	})
}

func TestMemoryStore_WithTx_CommitsOnSuccess(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.WithTx(ctx, func(tx Tx) error {
		return tx.Users().Create(ctx, &model.User{ID: "u1", Email: "a@example.com"})
	}); err != nil {
		t.Fatalf("WithTx: %v", err)
	}

	_ = s.View(ctx, func(tx Tx) error {
		u, _ := tx.Users().FindByEmail(ctx, "a@example.com")
		if u == nil || u.ID != "u1" {
			t.Errorf("FindByEmail = %+v, want u1", u)
		}
		return nil
	})
}

func TestMemoryStore_DuplicateEmail(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_ = s.WithTx(ctx, func(tx Tx) error {
		return tx.Users().Create(ctx, &model.User{ID: "u1", Email: "a@example.com"})
	})
	err := s.WithTx(ctx, func(tx Tx) error {
		return tx.Users().Create(ctx, &model.User{ID: "u2", Email: "a@example.com"})
	})
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("err = %v, want ErrDuplicate", err)
	}
}

func TestMemoryStore_DuplicateAttendance(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	rec := &model.AttendanceRecord{ID: "r1", MeetingID: "m1", StudentID: "u1", Status: model.AttendancePresent}
	_ = s.WithTx(ctx, func(tx Tx) error { return tx.Attendance().Create(ctx, rec) })

	dup := &model.AttendanceRecord{ID: "r2", MeetingID: "m1", StudentID: "u1", Status: model.AttendancePresent}
	err := s.WithTx(ctx, func(tx Tx) error { return tx.Attendance().Create(ctx, dup) })
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("err = %v, want ErrDuplicate", err)
	}
}

func TestMemoryStore_AdjustHours_FloorsAtZero(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedProfile(t, s, "p1", "u1")

	_ = s.WithTx(ctx, func(tx Tx) error {
		if err := tx.Profiles().AdjustHours(ctx, "p1", 2, 0); err != nil {
			return err
		}
		return tx.Profiles().AdjustHours(ctx, "p1", -5, -1)
	})

	_ = s.View(ctx, func(tx Tx) error {
		p, _ := tx.Profiles().FindByID(ctx, "p1")
		if p.TotalPendingHours != 0 || p.TotalApprovedHours != 0 {
			t.Errorf("hours = (%v, %v), want (0, 0)", p.TotalPendingHours, p.TotalApprovedHours)
		}
		return nil
	})
}

func TestMemoryStore_AdjustMeetingsAttended_FloorsAtZero(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedProfile(t, s, "p1", "u1")

	_ = s.WithTx(ctx, func(tx Tx) error {
		return tx.Profiles().AdjustMeetingsAttended(ctx, "p1", -1)
	})
	_ = s.View(ctx, func(tx Tx) error {
		p, _ := tx.Profiles().FindByID(ctx, "p1")
		if p.MeetingsAttended != 0 {
			t.Errorf("MeetingsAttended = %d, want 0", p.MeetingsAttended)
		}
		return nil
	})
}

func TestMemoryStore_ReturnedValuesAreCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedProfile(t, s, "p1", "u1")

	_ = s.View(ctx, func(tx Tx) error {
		p, _ := tx.Profiles().FindByID(ctx, "p1")
		p.FirstName = "Mutated"
		return nil
	})
	_ = s.View(ctx, func(tx Tx) error {
		p, _ := tx.Profiles().FindByID(ctx, "p1")
		if p.FirstName != "Ada" {
			t.Errorf("FirstName = %q, want Ada", p.FirstName)
		}
		return nil
	})
}

func TestMemoryStore_DeleteExpiredSessions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_ = s.WithTx(ctx, func(tx Tx) error {
		_ = tx.Sessions().Create(ctx, &model.Session{ID: "s1", TokenHash: "h1", ExpiresAt: now.Add(-time.Minute)})
		return tx.Sessions().Create(ctx, &model.Session{ID: "s2", TokenHash: "h2", ExpiresAt: now.Add(time.Hour)})
	})

	var deleted int64
	_ = s.WithTx(ctx, func(tx Tx) error {
		var err error
		deleted, err = tx.Sessions().DeleteExpired(ctx, now)
		return err
	})
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
	_ = s.View(ctx, func(tx Tx) error {
		if sess, _ := tx.Sessions().FindByTokenHash(ctx, "h2"); sess == nil {
			t.Error("live session should remain")
		}
		return nil
	})
}

func TestMemoryStore_MeetingList_UpcomingAndPast(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_ = s.WithTx(ctx, func(tx Tx) error {
		for _, m := range []model.Meeting{
			{ID: "old", ScheduledDate: "2026-01-10", ScheduledStartTime: "18:00"},
			{ID: "today", ScheduledDate: "2026-03-01", ScheduledStartTime: "18:00"},
			{ID: "next", ScheduledDate: "2026-03-08", ScheduledStartTime: "18:00"},
		} {
			m := m
			if err := tx.Meetings().Create(ctx, &m); err != nil {
				return err
			}
		}
		return nil
	})

	_ = s.View(ctx, func(tx Tx) error {
		upcoming, _ := tx.Meetings().List(ctx, MeetingFilter{Today: "2026-03-01", Upcoming: true})
		if len(upcoming) != 2 || upcoming[0].ID != "today" || upcoming[1].ID != "next" {
			t.Errorf("upcoming = %v", ids(upcoming))
		}
		past, _ := tx.Meetings().List(ctx, MeetingFilter{Today: "2026-03-01", Past: true})
		if len(past) != 1 || past[0].ID != "old" {
			t.Errorf("past = %v", ids(past))
		}
		n, _ := tx.Meetings().CountBefore(ctx, "2026-03-01")
		if n != 1 {
			t.Errorf("CountBefore = %d, want 1", n)
		}
		return nil
	})
}

func TestMemoryStore_NotificationMarkRead_OtherUser(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	_ = s.WithTx(ctx, func(tx Tx) error {
		return tx.Notifications().Create(ctx, &model.Notification{ID: "n1", UserID: "u1", CreatedAt: now})
	})

	var found bool
	_ = s.WithTx(ctx, func(tx Tx) error {
		var err error
		found, err = tx.Notifications().MarkRead(ctx, "n1", "u2", now)
		return err
	})
	if found {
		t.Error("another user's notification must not be marked read")
	}

	_ = s.View(ctx, func(tx Tx) error {
		n, _ := tx.Notifications().CountUnread(ctx, "u1")
		if n != 1 {
			t.Errorf("CountUnread = %d, want 1", n)
		}
		return nil
	})
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.WithTx(ctx, func(tx Tx) error {
		called = true
		return nil
	})
	if err == nil || called {
		t.Errorf("expected canceled context to abort before fn, err=%v called=%v", err, called)
	}
}

func ids(ms []*model.Meeting) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.ID)
	}
	return out
}
