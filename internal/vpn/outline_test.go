package vpn

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newOutlineTestServer(t *testing.T) (*httptest.Server, *OutlineClient) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /access-keys", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"accessKeys": [
			{"id": "1", "name": "veil-1-10", "accessUrl": "ss://aaa@h:1#k1"},
			{"id": "2", "name": "veil-2-11", "accessUrl": "ss://bbb@h:2#k2"}
		]}`)
	})
	mux.HandleFunc("GET /metrics/transfer", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"bytesTransferredByUserId": {"1": 1024, "2": 0}}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, NewOutlineClient(srv.URL, "")
}

func TestOutlineListKeysMergesTraffic(t *testing.T) {
	_, c := newOutlineTestServer(t)
	keys, err := c.ListKeys(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 {
		t.Fatalf("len = %d", len(keys))
	}
	if keys[0].ID != "1" || keys[0].UsedBytes != 1024 {
		t.Errorf("keys[0] = %+v", keys[0])
	}
	if keys[1].UsedBytes != 0 {
		t.Errorf("keys[1].UsedBytes = %d", keys[1].UsedBytes)
	}
}

func TestOutlineGetConfig(t *testing.T) {
	_, c := newOutlineTestServer(t)
	url, err := c.GetConfig(context.Background(), "2")
	if err != nil {
		t.Fatal(err)
	}
	if url != "ss://bbb@h:2#k2" {
		t.Errorf("url = %q", url)
	}
	if _, err := c.GetConfig(context.Background(), "77"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("err = %v, want ErrKeyNotFound", err)
	}
}

func TestOutlineCreateKey(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/access-keys" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"id": "9", "name": "veil-3-12", "accessUrl": "ss://ccc@h:3#k"}`)
	}))
	defer srv.Close()

	key, err := NewOutlineClient(srv.URL, "").CreateKey(context.Background(), "veil-3-12")
	if err != nil {
		t.Fatal(err)
	}
	if gotBody["name"] != "veil-3-12" {
		t.Errorf("body = %v", gotBody)
	}
	if key.ID != "9" || key.AccessURL != "ss://ccc@h:3#k" {
		t.Errorf("key = %+v", key)
	}
}

func TestOutlineSetDataLimit(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	c := NewOutlineClient(srv.URL, "")

	if err := c.SetDataLimit(context.Background(), "5", 1<<30); err != nil {
		t.Fatal(err)
	}
	if gotMethod != http.MethodPut || gotPath != "/access-keys/5/data-limit" {
		t.Errorf("%s %s", gotMethod, gotPath)
	}
	var payload map[string]map[string]int64
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatal(err)
	}
	if payload["limit"]["bytes"] != 1<<30 {
		t.Errorf("payload = %v", payload)
	}

	// Нулевой лимит — снятие ограничения.
	if err := c.SetDataLimit(context.Background(), "5", 0); err != nil {
		t.Fatal(err)
	}
	if gotMethod != http.MethodDelete {
		t.Errorf("method = %s", gotMethod)
	}
}

func TestOutlineDeleteKeyNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewOutlineClient(srv.URL, "").DeleteKey(context.Background(), "404")
	if !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("err = %v, want ErrKeyNotFound", err)
	}
}
