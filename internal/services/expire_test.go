package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/merdocx/veilbot-sub000/internal/db"
	"github.com/merdocx/veilbot-sub000/internal/vpn"
)

type fakeExpiryStore struct {
	servers map[uint]*db.Server
	outline []db.OutlineKey
	v2ray   []db.V2RayKey

	deactivatedOutline []uint
	deactivatedV2Ray   []uint
}

func (s *fakeExpiryStore) ExpiredOutlineKeys(now time.Time) ([]db.OutlineKey, error) {
	return s.outline, nil
}

func (s *fakeExpiryStore) ExpiredV2RayKeys(now time.Time) ([]db.V2RayKey, error) {
	return s.v2ray, nil
}

func (s *fakeExpiryStore) GetServer(id uint) (*db.Server, error) {
	srv, ok := s.servers[id]
	if !ok {
		return nil, errors.New("server not found")
	}
	return srv, nil
}

func (s *fakeExpiryStore) UpdateOutlineKey(key *db.OutlineKey) error {
	if !key.Active {
		s.deactivatedOutline = append(s.deactivatedOutline, key.ID)
	}
	return nil
}

func (s *fakeExpiryStore) UpdateV2RayKey(key *db.V2RayKey) error {
	if !key.Active {
		s.deactivatedV2Ray = append(s.deactivatedV2Ray, key.ID)
	}
	return nil
}

type fakeExpiryClient struct {
	remote  []vpn.KeyInfo
	delErr  error
	deleted []string
}

func (c *fakeExpiryClient) CreateKey(ctx context.Context, name string) (*vpn.KeyInfo, error) {
	return nil, errors.New("not implemented")
}

func (c *fakeExpiryClient) DeleteKey(ctx context.Context, id string) error {
	if c.delErr != nil {
		return c.delErr
	}
	c.deleted = append(c.deleted, id)
	return nil
}

func (c *fakeExpiryClient) GetConfig(ctx context.Context, id string) (string, error) { return "", nil }

func (c *fakeExpiryClient) ListKeys(ctx context.Context) ([]vpn.KeyInfo, error) {
	return c.remote, nil
}

func (c *fakeExpiryClient) GetTraffic(ctx context.Context, id string) (int64, error) { return 0, nil }

func (c *fakeExpiryClient) ResetTraffic(ctx context.Context, id string) error { return nil }

func (c *fakeExpiryClient) SetDataLimit(ctx context.Context, id string, bytes int64) error {
	return nil
}

func expiryService(store *fakeExpiryStore, clients map[uint]*fakeExpiryClient) *ExpiryService {
	return &ExpiryService{
		Store: store,
		Clients: func(srv db.Server) (vpn.Client, error) {
			return clients[srv.ID], nil
		},
	}
}

func TestCleanupExpired(t *testing.T) {
	store := &fakeExpiryStore{
		servers: map[uint]*db.Server{
			1: {ID: 1, Name: "out-1", Protocol: db.ProtocolOutline, Active: true},
			2: {ID: 2, Name: "v2-1", Protocol: db.ProtocolV2Ray, Active: true},
		},
		outline: []db.OutlineKey{{ID: 10, ServerID: 1, RemoteID: "r-10", Active: true}},
		v2ray:   []db.V2RayKey{{ID: 20, ServerID: 2, UUID: "uuid-x", Active: true}},
	}
	clients := map[uint]*fakeExpiryClient{
		1: {},
		2: {remote: []vpn.KeyInfo{{ID: "77", UUID: "uuid-x"}}},
	}
	s := expiryService(store, clients)

	disabled, failed := s.CleanupExpired(context.Background())
	if disabled != 2 || failed != 0 {
		t.Fatalf("disabled = %d failed = %d", disabled, failed)
	}
	if got := clients[1].deleted; len(got) != 1 || got[0] != "r-10" {
		t.Errorf("outline deleted = %v", got)
	}
	// V2Ray-ключ удаляется по идентификатору, найденному по UUID.
	if got := clients[2].deleted; len(got) != 1 || got[0] != "77" {
		t.Errorf("v2ray deleted = %v", got)
	}
	if len(store.deactivatedOutline) != 1 || len(store.deactivatedV2Ray) != 1 {
		t.Errorf("deactivated: outline %v, v2ray %v", store.deactivatedOutline, store.deactivatedV2Ray)
	}
}

func TestCleanupExpiredKeepsKeyOnRemoteFailure(t *testing.T) {
	store := &fakeExpiryStore{
		servers: map[uint]*db.Server{1: {ID: 1, Name: "out-1", Protocol: db.ProtocolOutline}},
		outline: []db.OutlineKey{{ID: 10, ServerID: 1, RemoteID: "r-10", Active: true}},
	}
	clients := map[uint]*fakeExpiryClient{1: {delErr: errors.New("timeout")}}
	s := expiryService(store, clients)

	disabled, failed := s.CleanupExpired(context.Background())
	if disabled != 0 || failed != 1 {
		t.Fatalf("disabled = %d failed = %d", disabled, failed)
	}
	// Локальная запись не тронута, ключ попадёт в следующий проход.
	if len(store.deactivatedOutline) != 0 {
		t.Errorf("deactivated = %v", store.deactivatedOutline)
	}
}

func TestCleanupExpiredTreatsMissingRemoteAsGone(t *testing.T) {
	store := &fakeExpiryStore{
		servers: map[uint]*db.Server{1: {ID: 1, Name: "out-1", Protocol: db.ProtocolOutline}},
		outline: []db.OutlineKey{{ID: 10, ServerID: 1, RemoteID: "r-10", Active: true}},
		v2ray:   nil,
	}
	clients := map[uint]*fakeExpiryClient{1: {delErr: vpn.ErrKeyNotFound}}
	s := expiryService(store, clients)

	disabled, failed := s.CleanupExpired(context.Background())
	if disabled != 1 || failed != 0 {
		t.Fatalf("disabled = %d failed = %d", disabled, failed)
	}
}
