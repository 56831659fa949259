package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/merdocx/veilbot-sub000/internal/db"
	"github.com/merdocx/veilbot-sub000/internal/vpn"
)

type fakeSubDeleteStore struct {
	sub     *db.Subscription
	keys    []db.V2RayKey
	servers map[uint]*db.Server

	deletedKeys []uint
	subDeleted  bool
}

func (s *fakeSubDeleteStore) GetSubscription(id uint) (*db.Subscription, error) {
	if s.sub == nil || s.sub.ID != id {
		return nil, errors.New("record not found")
	}
	return s.sub, nil
}

func (s *fakeSubDeleteStore) V2RayKeysBySubscription(subID uint) ([]db.V2RayKey, error) {
	return s.keys, nil
}

func (s *fakeSubDeleteStore) GetServer(id uint) (*db.Server, error) {
	srv, ok := s.servers[id]
	if !ok {
		return nil, errors.New("server not found")
	}
	return srv, nil
}

func (s *fakeSubDeleteStore) DeleteV2RayKey(id uint) error {
	s.deletedKeys = append(s.deletedKeys, id)
	return nil
}

func (s *fakeSubDeleteStore) DeleteSubscription(id uint) error {
	s.subDeleted = true
	return nil
}

// fakeRevokeClient отдаёт фиксированный список ключей, delErr ломает отзыв.
type fakeRevokeClient struct {
	keys    []vpn.KeyInfo
	deleted []string
	delErr  error
}

func (c *fakeRevokeClient) CreateKey(ctx context.Context, name string) (*vpn.KeyInfo, error) {
	return nil, errors.New("not implemented")
}

func (c *fakeRevokeClient) DeleteKey(ctx context.Context, id string) error {
	if c.delErr != nil {
		return c.delErr
	}
	c.deleted = append(c.deleted, id)
	return nil
}

func (c *fakeRevokeClient) GetConfig(ctx context.Context, id string) (string, error) { return "", nil }

func (c *fakeRevokeClient) ListKeys(ctx context.Context) ([]vpn.KeyInfo, error) {
	return c.keys, nil
}

func (c *fakeRevokeClient) GetTraffic(ctx context.Context, id string) (int64, error) { return 0, nil }

func (c *fakeRevokeClient) ResetTraffic(ctx context.Context, id string) error { return nil }

func (c *fakeRevokeClient) SetDataLimit(ctx context.Context, id string, bytes int64) error {
	return nil
}

func deleteSubRouter(store subscriptionDeleter, clients map[uint]*fakeRevokeClient) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.DELETE("/admin/subscriptions/:id", deleteSubscriptionHandler(store, func(srv db.Server) (vpn.Client, error) {
		c, ok := clients[srv.ID]
		if !ok {
			return nil, fmt.Errorf("no client for server %d", srv.ID)
		}
		return c, nil
	}))
	return r
}

func deleteSub(r *gin.Engine, id uint) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/admin/subscriptions/%d", id), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestDeleteSubscriptionRevokesKeys(t *testing.T) {
	store := &fakeSubDeleteStore{
		sub: &db.Subscription{ID: 5, Token: "tok", Active: true},
		keys: []db.V2RayKey{
			{ID: 1, ServerID: 1, UUID: "uuid-a", Active: true},
			{ID: 2, ServerID: 2, UUID: "uuid-b", Active: true},
		},
		servers: map[uint]*db.Server{
			1: {ID: 1, Name: "v2-1", Protocol: db.ProtocolV2Ray},
			2: {ID: 2, Name: "v2-2", Protocol: db.ProtocolV2Ray},
		},
	}
	clients := map[uint]*fakeRevokeClient{
		1: {keys: []vpn.KeyInfo{{ID: "11", UUID: "uuid-a"}}},
		2: {keys: []vpn.KeyInfo{{ID: "22", UUID: "uuid-b"}}},
	}
	r := deleteSubRouter(store, clients)

	w := deleteSub(r, 5)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d, body = %s", w.Code, w.Body.String())
	}
	if len(clients[1].deleted) != 1 || clients[1].deleted[0] != "11" {
		t.Errorf("server 1 deleted = %v", clients[1].deleted)
	}
	if len(clients[2].deleted) != 1 || clients[2].deleted[0] != "22" {
		t.Errorf("server 2 deleted = %v", clients[2].deleted)
	}
	if len(store.deletedKeys) != 2 || !store.subDeleted {
		t.Errorf("deletedKeys = %v, subDeleted = %v", store.deletedKeys, store.subDeleted)
	}
}

func TestDeleteSubscriptionKeepsRecordsOnRemoteFailure(t *testing.T) {
	store := &fakeSubDeleteStore{
		sub:     &db.Subscription{ID: 5, Token: "tok", Active: true},
		keys:    []db.V2RayKey{{ID: 1, ServerID: 1, UUID: "uuid-a", Active: true}},
		servers: map[uint]*db.Server{1: {ID: 1, Name: "v2-1", Protocol: db.ProtocolV2Ray}},
	}
	clients := map[uint]*fakeRevokeClient{
		1: {keys: []vpn.KeyInfo{{ID: "11", UUID: "uuid-a"}}, delErr: errors.New("timeout")},
	}
	r := deleteSubRouter(store, clients)

	w := deleteSub(r, 5)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("code = %d", w.Code)
	}
	// Отзыв не удался, локальные записи остаются на месте.
	if len(store.deletedKeys) != 0 || store.subDeleted {
		t.Errorf("deletedKeys = %v, subDeleted = %v", store.deletedKeys, store.subDeleted)
	}
}

func TestDeleteSubscriptionToleratesMissingRemoteKey(t *testing.T) {
	store := &fakeSubDeleteStore{
		sub:     &db.Subscription{ID: 5, Token: "tok", Active: true},
		keys:    []db.V2RayKey{{ID: 1, ServerID: 1, UUID: "uuid-gone", Active: true}},
		servers: map[uint]*db.Server{1: {ID: 1, Name: "v2-1", Protocol: db.ProtocolV2Ray}},
	}
	clients := map[uint]*fakeRevokeClient{1: {}}
	r := deleteSubRouter(store, clients)

	w := deleteSub(r, 5)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	if len(store.deletedKeys) != 1 || !store.subDeleted {
		t.Errorf("deletedKeys = %v, subDeleted = %v", store.deletedKeys, store.subDeleted)
	}
}

func TestDeleteSubscriptionNotFound(t *testing.T) {
	r := deleteSubRouter(&fakeSubDeleteStore{}, nil)
	if w := deleteSub(r, 99); w.Code != http.StatusNotFound {
		t.Fatalf("code = %d", w.Code)
	}
}
