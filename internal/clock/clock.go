// Package clock は現在時刻の取得を抽象化する。
// サービス層はtime.Nowを直接呼ばず、Clockを経由して時刻を得る。
package clock

import (
	"sync"
	"time"
)

// Clock は現在時刻を返すインターフェース。
type Clock interface {
	Now() time.Time
}

// System は実時間を返すClock。
type System struct{}

// Now は現在時刻を返す。
func (System) Now() time.Time { return time.Now() }

// Fake はテスト用の手動で進めるClock。
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake は指定時刻で停止したFakeを生成する。
func NewFake(now time.Time) *Fake {
	return &Fake{now: now}
}

// Now は現在の偽時刻を返す。
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance は偽時刻をdだけ進める。
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Set は偽時刻を指定値に設定する。
func (f *Fake) Set(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}
