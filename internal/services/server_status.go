package services

import (
	"net"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/merdocx/veilbot-sub000/internal/db"
	"github.com/merdocx/veilbot-sub000/internal/logger"
)

// ServerStatus — последний результат проверки доступности сервера.
type ServerStatus struct {
	ServerID    uint      `json:"server_id"`
	Name        string    `json:"name"`
	Online      bool      `json:"online"`
	LastChecked time.Time `json:"last_checked"`
}

// StatusMonitor периодически проверяет доступность management API
// серверов TCP-пробой и держит последний снимок для админ-панели.
type StatusMonitor struct {
	store interface {
		ListServers(protocol string, activeOnly bool) ([]db.Server, error)
	}
	alert interface{ NotifyAdmin(msg string) }

	mu       sync.RWMutex
	statuses []ServerStatus
}

func NewStatusMonitor(store interface {
	ListServers(protocol string, activeOnly bool) ([]db.Server, error)
}, alert interface{ NotifyAdmin(msg string) }) *StatusMonitor {
	return &StatusMonitor{store: store, alert: alert}
}

// Statuses возвращает последний снимок.
func (m *StatusMonitor) Statuses() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ServerStatus, len(m.statuses))
	copy(out, m.statuses)
	return out
}

// Refresh проверяет все активные серверы. Запускается по cron.
func (m *StatusMonitor) Refresh() {
	servers, err := m.store.ListServers("", true)
	if err != nil {
		logger.Error("status refresh: list servers", zap.Error(err))
		return
	}
	statuses := make([]ServerStatus, 0, len(servers))
	for _, srv := range servers {
		st := ServerStatus{ServerID: srv.ID, Name: srv.Name, LastChecked: time.Now()}
		addr, err := dialAddr(srv.APIURL)
		if err != nil {
			logger.Warn("status refresh: bad api url", zap.String("server", srv.Name), zap.Error(err))
			statuses = append(statuses, st)
			continue
		}
		conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
		if err != nil {
			if m.alert != nil {
				m.alert.NotifyAdmin("Сервер " + srv.Name + " (" + addr + ") недоступен!")
			}
		} else {
			st.Online = true
			conn.Close()
		}
		statuses = append(statuses, st)
	}
	m.mu.Lock()
	m.statuses = statuses
	m.mu.Unlock()
}

func dialAddr(apiURL string) (string, error) {
	u, err := url.Parse(apiURL)
	if err != nil {
		return "", err
	}
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		if u.Scheme == "http" {
			port = "80"
		} else {
			port = "443"
		}
	}
	return net.JoinHostPort(host, port), nil
}
