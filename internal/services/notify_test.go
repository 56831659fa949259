package services

import (
	"errors"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/merdocx/veilbot-sub000/internal/db"
)

// fakeSender отказывает первым failures отправкам, дальше принимает.
type fakeSender struct {
	failures int
	sent     []tgbotapi.MessageConfig
}

func (s *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if s.failures > 0 {
		s.failures--
		return tgbotapi.Message{}, errors.New("telegram: 502 Bad Gateway")
	}
	msg, ok := c.(tgbotapi.MessageConfig)
	if !ok {
		return tgbotapi.Message{}, errors.New("unexpected chattable type")
	}
	s.sent = append(s.sent, msg)
	return tgbotapi.Message{MessageID: len(s.sent)}, nil
}

type fakeNotifyStore struct {
	users    map[uint]*db.User
	subs     []db.Subscription
	notified []uint
}

func (s *fakeNotifyStore) GetUser(id uint) (*db.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, errors.New("user not found")
	}
	return u, nil
}

func (s *fakeNotifyStore) UnnotifiedSubscriptions() ([]db.Subscription, error) {
	return s.subs, nil
}

func (s *fakeNotifyStore) MarkSubscriptionNotified(id uint) error {
	s.notified = append(s.notified, id)
	return nil
}

func testNotifier(sender *fakeSender, store *fakeNotifyStore) *UserNotifier {
	n := NewUserNotifier(sender, store, "https://veil.example")
	n.Backoff = time.Millisecond
	return n
}

func TestNotifyIssuedRetriesAndMarks(t *testing.T) {
	sender := &fakeSender{failures: 2}
	store := &fakeNotifyStore{users: map[uint]*db.User{3: {ID: 3, TelegramID: 111222}}}
	n := testNotifier(sender, store)

	res := &Result{
		Protocol:        db.ProtocolV2Ray,
		SubscriptionURL: "https://veil.example/api/subscription/tok",
		SubscriptionID:  8,
		ExpiresAt:       time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
	}
	n.NotifyIssued(3, res)

	if len(sender.sent) != 1 {
		t.Fatalf("sent = %d", len(sender.sent))
	}
	msg := sender.sent[0]
	if msg.ChatID != 111222 {
		t.Errorf("chat_id = %d", msg.ChatID)
	}
	if !strings.Contains(msg.Text, "https://veil.example/api/subscription/tok") {
		t.Errorf("текст без subscription-ссылки: %q", msg.Text)
	}
	if !strings.Contains(msg.Text, "01.10.2026") {
		t.Errorf("текст без срока действия: %q", msg.Text)
	}
	if len(store.notified) != 1 || store.notified[0] != 8 {
		t.Errorf("notified = %v", store.notified)
	}
}

func TestNotifyIssuedGivesUpAfterAttempts(t *testing.T) {
	sender := &fakeSender{failures: 100}
	store := &fakeNotifyStore{users: map[uint]*db.User{3: {ID: 3, TelegramID: 111222}}}
	n := testNotifier(sender, store)

	n.NotifyIssued(3, &Result{SubscriptionID: 8, ExpiresAt: time.Now()})

	if got := 100 - sender.failures; got != n.Attempts {
		t.Errorf("attempts = %d, want %d", got, n.Attempts)
	}
	// Подписка остаётся недоставленной для фонового повтора.
	if len(store.notified) != 0 {
		t.Errorf("notified = %v", store.notified)
	}
}

func TestRetryUnnotified(t *testing.T) {
	sender := &fakeSender{}
	store := &fakeNotifyStore{
		users: map[uint]*db.User{1: {ID: 1, TelegramID: 10}, 2: {ID: 2, TelegramID: 20}},
		subs: []db.Subscription{
			{ID: 4, UserID: 1, Token: "tok-a", ExpiresAt: time.Now().Add(time.Hour)},
			{ID: 5, UserID: 2, Token: "tok-b", ExpiresAt: time.Now().Add(time.Hour)},
		},
	}
	n := testNotifier(sender, store)

	n.RetryUnnotified()

	if len(sender.sent) != 2 {
		t.Fatalf("sent = %d", len(sender.sent))
	}
	if !strings.Contains(sender.sent[0].Text, "/api/subscription/tok-a") {
		t.Errorf("text = %q", sender.sent[0].Text)
	}
	if len(store.notified) != 2 || store.notified[0] != 4 || store.notified[1] != 5 {
		t.Errorf("notified = %v", store.notified)
	}
}
