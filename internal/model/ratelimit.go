package model

import "time"

// RateLimitStatus : результат проверки лимита по одному ключу
type RateLimitStatus struct {
	Key        string        `json:"key"`
	Allowed    bool          `json:"allowed"`
	Count      int64         `json:"count"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	ResetAfter time.Duration `json:"-"`
}

// ResetAt : момент, когда окно закончится
func (s RateLimitStatus) ResetAt(now time.Time) time.Time {
	return now.Add(s.ResetAfter)
}

// ResetSeconds : остаток окна в секундах, с округлением вверх
func (s RateLimitStatus) ResetSeconds() int64 {
	return int64((s.ResetAfter + time.Second - 1) / time.Second)
}

// Exhausted : лимит уже выбран полностью
func (s RateLimitStatus) Exhausted() bool {
	return s.Limit > 0 && s.Count >= int64(s.Limit)
}

// IPRateLimitStatus : сводка по всем лимитам одного IP
type IPRateLimitStatus struct {
	IPAddress string                     `json:"ipAddress"`
	Scopes    map[string]RateLimitStatus `json:"scopes"`
}

// RateLimitScope : логическая область лимита. Ключ счетчика = Prefix + идентификатор
// (IP или userId), поэтому разные пользователи за одним IP делят один счетчик.
type RateLimitScope struct {
	Name   string        `json:"name"`
	Prefix string        `json:"prefix"`
	Limit  int           `json:"limit"`
	Window time.Duration `json:"-"`
}

func (s RateLimitScope) Key(identity string) string {
	return s.Prefix + identity
}
