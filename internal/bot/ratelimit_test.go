package bot

import (
	"testing"
	"time"
)

func TestRateLimiter(t *testing.T) {
	r := NewRateLimiter()

	if r.IsLimited(1, "/tariffs") {
		t.Fatal("первый вызов не должен ограничиваться")
	}
	if !r.IsLimited(1, "/tariffs") {
		t.Fatal("повторный вызов сразу же должен отбрасываться")
	}
	// Лимиты независимы по командам и пользователям.
	if r.IsLimited(1, "/mykeys") {
		t.Error("другая команда того же пользователя ограничена")
	}
	if r.IsLimited(2, "/tariffs") {
		t.Error("та же команда другого пользователя ограничена")
	}
}

func TestRateLimiterExpires(t *testing.T) {
	r := NewRateLimiter()
	r.limits["/fast"] = 10 * time.Millisecond

	if r.IsLimited(1, "/fast") {
		t.Fatal("первый вызов ограничен")
	}
	time.Sleep(20 * time.Millisecond)
	if r.IsLimited(1, "/fast") {
		t.Fatal("окно истекло, вызов не должен ограничиваться")
	}
}
