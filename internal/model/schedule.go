package model

import (
	"fmt"
	"time"
)

// ParseTimeOfDay は"HH:MM"形式の時刻を0時からの経過分に変換する。
func ParseTimeOfDay(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil || len(s) != 5 {
		return 0, fmt.Errorf("invalid time of day %q: want HH:MM", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// ValidDate は"YYYY-MM-DD"形式の実在する日付かどうかを返す。
func ValidDate(s string) bool {
	_, err := time.Parse(time.DateOnly, s)
	return err == nil
}

// DateOf は時刻のUTC日付を"YYYY-MM-DD"形式で返す。
// 「今日」「過去のミーティング」の判定はこの日付で行う。
func DateOf(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}
