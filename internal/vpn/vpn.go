// Package vpn содержит тонкие HTTP-клиенты management API VPN-серверов:
// Outline REST API и кастомный V2Ray/Xray API.
package vpn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// KeyInfo — нормализованное описание удалённого ключа.
type KeyInfo struct {
	// ID — идентификатор ключа в management API сервера.
	ID string
	// UUID клиента VLESS; для Outline пусто.
	UUID string
	Name string
	// AccessURL — строка подключения (ss:// или vless://).
	AccessURL string
	// UsedBytes — израсходованный трафик по данным сервера.
	UsedBytes int64
	// ExpiresAt — unix-срок действия, 0 если сервер его не сообщает.
	ExpiresAt int64
}

// Client — общий контракт протокольных клиентов.
type Client interface {
	CreateKey(ctx context.Context, name string) (*KeyInfo, error)
	DeleteKey(ctx context.Context, id string) error
	GetConfig(ctx context.Context, id string) (string, error)
	ListKeys(ctx context.Context) ([]KeyInfo, error)
	GetTraffic(ctx context.Context, id string) (int64, error)
	ResetTraffic(ctx context.Context, id string) error
	SetDataLimit(ctx context.Context, id string, bytes int64) error
}

// APIError — ответ management API вне 2xx либо с нечитаемым телом.
// Сохраняет статус и сырое тело для диагностики; решение о повторе
// принимает вызывающая сторона.
type APIError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, truncate(e.Body, 200))
}

func (e *APIError) Unwrap() error { return e.Err }

// ErrEmptyKeyList — V2Ray API ответил на create-key пустым JSON-списком.
var ErrEmptyKeyList = errors.New("remote API returned empty key list")

// ErrKeyNotFound — ключ отсутствует на сервере.
var ErrKeyNotFound = errors.New("remote key not found")

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// withRetry повторяет fn при транзиентных сетевых ошибках; ошибки API
// (не-2xx) не повторяются.
func withRetry(ctx context.Context, attempts int, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * 500 * time.Millisecond):
		}
	}
	return err
}

func isTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.As(err, &apiErr) && apiErr.Err != nil
}
