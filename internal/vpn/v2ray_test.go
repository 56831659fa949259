package vpn

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExtractVLESS(t *testing.T) {
	tests := []struct {
		name   string
		config string
		want   string
		ok     bool
	}{
		{
			name:   "только vless строка",
			config: "vless://uuid@host:443?security=reality#key",
			want:   "vless://uuid@host:443?security=reality#key",
			ok:     true,
		},
		{
			name:   "vless среди инструкций",
			config: "Ваш ключ готов!\n\n  vless://uuid@host:443#key  \n\nИмпортируйте его в приложение.",
			want:   "vless://uuid@host:443#key",
			ok:     true,
		},
		{
			name:   "CRLF переводы строк",
			config: "instructions\r\nvless://abc@1.2.3.4:443#x\r\nmore",
			want:   "vless://abc@1.2.3.4:443#x",
			ok:     true,
		},
		{
			name:   "нет vless строки",
			config: "Ключ ещё не выпущен, попробуйте позже",
			ok:     false,
		},
		{
			name:   "пустой конфиг",
			config: "",
			ok:     false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractVLESS(tt.config)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecodeKeyResponse(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantUUID string
		wantErr  error
	}{
		{
			name:     "объект",
			raw:      `{"id": 7, "uuid": "aaa-bbb", "email": "u1@veilbot"}`,
			wantUUID: "aaa-bbb",
		},
		{
			name:     "список из одного элемента",
			raw:      `[{"id": "7", "uuid": "ccc-ddd", "email": "u1@veilbot"}]`,
			wantUUID: "ccc-ddd",
		},
		{
			name:     "список из нескольких, берём первый",
			raw:      `[{"id": 1, "uuid": "first"}, {"id": 2, "uuid": "second"}]`,
			wantUUID: "first",
		},
		{
			name:     "список с ведущими пробелами",
			raw:      "\n\t [{\"id\": 3, \"uuid\": \"eee\"}]",
			wantUUID: "eee",
		},
		{
			name:    "пустой список",
			raw:     `[]`,
			wantErr: ErrEmptyKeyList,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := decodeKeyResponse([]byte(tt.raw))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if key.UUID != tt.wantUUID {
				t.Errorf("uuid = %q, want %q", key.UUID, tt.wantUUID)
			}
		})
	}
}

func TestDecodeKeyResponseMalformed(t *testing.T) {
	for _, raw := range []string{"", "   ", "not json", "[broken"} {
		if _, err := decodeKeyResponse([]byte(raw)); err == nil {
			t.Errorf("decodeKeyResponse(%q): ожидали ошибку", raw)
		}
	}
}

func TestV2RayClientCreateKey(t *testing.T) {
	var gotAPIKey, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAPIKey = r.Header.Get("X-API-Key")
		gotPath = r.URL.Path
		w.Write([]byte(`[{"id": 12, "uuid": "u-u-i-d", "email": "u1-p2@veilbot"}]`))
	}))
	defer srv.Close()

	c := NewV2RayClient(srv.URL, "secret-key")
	key, err := c.CreateKey(context.Background(), "u1-p2@veilbot")
	if err != nil {
		t.Fatal(err)
	}
	if gotAPIKey != "secret-key" {
		t.Errorf("X-API-Key = %q", gotAPIKey)
	}
	if gotPath != "/api/keys" {
		t.Errorf("path = %q", gotPath)
	}
	if key.ID != "12" || key.UUID != "u-u-i-d" {
		t.Errorf("key = %+v", key)
	}
}

func TestV2RayClientCreateKeyEmptyList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	_, err := NewV2RayClient(srv.URL, "k").CreateKey(context.Background(), "x")
	if !errors.Is(err, ErrEmptyKeyList) {
		t.Fatalf("err = %v, want ErrEmptyKeyList", err)
	}
}

func TestV2RayClientGetConfig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"client_config": "Подключение:\n vless://abc@h:443#veil \nГотово"}`))
	}))
	defer srv.Close()

	got, err := NewV2RayClient(srv.URL, "k").GetConfig(context.Background(), "12")
	if err != nil {
		t.Fatal(err)
	}
	if got != "vless://abc@h:443#veil" {
		t.Errorf("config = %q", got)
	}
}

func TestV2RayClientAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewV2RayClient(srv.URL, "k").ListKeys(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %T, want *APIError", err)
	}
	if apiErr.Status != http.StatusInternalServerError {
		t.Errorf("status = %d", apiErr.Status)
	}
}

func TestV2RayClientKeyNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewV2RayClient(srv.URL, "k").DeleteKey(context.Background(), "99")
	if !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("err = %v, want ErrKeyNotFound", err)
	}
}
