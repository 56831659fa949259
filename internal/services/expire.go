package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/merdocx/veilbot-sub000/internal/db"
	"github.com/merdocx/veilbot-sub000/internal/logger"
	"github.com/merdocx/veilbot-sub000/internal/vpn"
)

// ExpiryStore — срез репозитория для снятия просроченных ключей.
type ExpiryStore interface {
	ExpiredOutlineKeys(now time.Time) ([]db.OutlineKey, error)
	ExpiredV2RayKeys(now time.Time) ([]db.V2RayKey, error)
	GetServer(id uint) (*db.Server, error)
	UpdateOutlineKey(key *db.OutlineKey) error
	UpdateV2RayKey(key *db.V2RayKey) error
}

// ExpiryService отключает ключи с истёкшим сроком: сначала отзыв на
// сервере, деактивация локальной записи только после успешного отзыва.
// Ключ, который не удалось отозвать удалённо, остаётся активным в БД
// и попадает в отчёт — молча "удалённым" он не считается.
type ExpiryService struct {
	Store   ExpiryStore
	Clients func(srv db.Server) (vpn.Client, error)
	Alert   interface{ NotifyAdmin(msg string) }
}

func NewExpiryService(store ExpiryStore) *ExpiryService {
	return &ExpiryService{Store: store, Clients: vpn.ForServer}
}

// CleanupExpired — один проход; возвращает (деактивировано, отказов).
func (s *ExpiryService) CleanupExpired(ctx context.Context) (disabled, failed int) {
	now := time.Now()
	clients := map[uint]vpn.Client{}
	remoteLists := map[uint][]vpn.KeyInfo{}

	clientFor := func(serverID uint) (vpn.Client, error) {
		if c, ok := clients[serverID]; ok {
			return c, nil
		}
		srv, err := s.Store.GetServer(serverID)
		if err != nil {
			return nil, err
		}
		c, err := s.Clients(*srv)
		if err != nil {
			return nil, err
		}
		clients[serverID] = c
		return c, nil
	}

	outline, err := s.Store.ExpiredOutlineKeys(now)
	if err != nil {
		logger.Error("expire: list outline", zap.Error(err))
	}
	for i := range outline {
		key := &outline[i]
		client, err := clientFor(key.ServerID)
		if err != nil {
			failed++
			s.report(fmt.Sprintf("expire: outline key %d: server %d: %v", key.ID, key.ServerID, err))
			continue
		}
		if err := client.DeleteKey(ctx, key.RemoteID); err != nil && err != vpn.ErrKeyNotFound {
			failed++
			s.report(fmt.Sprintf("expire: outline key %d: remote delete: %v", key.ID, err))
			continue
		}
		key.Active = false
		if err := s.Store.UpdateOutlineKey(key); err != nil {
			failed++
			logger.Error("expire: deactivate", zap.Uint("key_id", key.ID), zap.Error(err))
			continue
		}
		disabled++
	}

	v2ray, err := s.Store.ExpiredV2RayKeys(now)
	if err != nil {
		logger.Error("expire: list v2ray", zap.Error(err))
	}
	for i := range v2ray {
		key := &v2ray[i]
		client, err := clientFor(key.ServerID)
		if err != nil {
			failed++
			s.report(fmt.Sprintf("expire: v2ray key %d: server %d: %v", key.ID, key.ServerID, err))
			continue
		}
		list, ok := remoteLists[key.ServerID]
		if !ok {
			list, err = client.ListKeys(ctx)
			if err != nil {
				failed++
				s.report(fmt.Sprintf("expire: v2ray key %d: list remote: %v", key.ID, err))
				continue
			}
			remoteLists[key.ServerID] = list
		}
		id, err := remoteV2RayID(list, key.UUID)
		if err != nil && err != vpn.ErrKeyNotFound {
			failed++
			s.report(fmt.Sprintf("expire: v2ray key %d: lookup: %v", key.ID, err))
			continue
		}
		if err == nil {
			if derr := client.DeleteKey(ctx, id); derr != nil && derr != vpn.ErrKeyNotFound {
				failed++
				s.report(fmt.Sprintf("expire: v2ray key %d: remote delete: %v", key.ID, derr))
				continue
			}
		}
		key.Active = false
		if err := s.Store.UpdateV2RayKey(key); err != nil {
			failed++
			logger.Error("expire: deactivate", zap.Uint("key_id", key.ID), zap.Error(err))
			continue
		}
		disabled++
	}

	if disabled+failed > 0 {
		logger.Info("expire sweep", zap.Int("disabled", disabled), zap.Int("failed", failed))
	}
	return disabled, failed
}

// remoteV2RayID находит идентификатор удалённого ключа по UUID клиента.
func remoteV2RayID(keys []vpn.KeyInfo, uuid string) (string, error) {
	for _, k := range keys {
		if k.UUID == uuid {
			return k.ID, nil
		}
	}
	return "", vpn.ErrKeyNotFound
}

func (s *ExpiryService) report(msg string) {
	logger.Warn("expire", zap.String("msg", msg))
	if s.Alert != nil {
		s.Alert.NotifyAdmin(msg)
	}
}
