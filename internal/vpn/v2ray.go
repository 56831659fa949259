package vpn

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// V2RayClient — клиент кастомного V2Ray/Xray management API.
// Все запросы идут с заголовком X-API-Key; сертификаты серверов
// самоподписанные, проверка отключена явно.
type V2RayClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewV2RayClient(baseURL, apiKey string) *V2RayClient {
	return &V2RayClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
	}
}

type v2rayKey struct {
	ID        json.Number `json:"id"`
	UUID      string      `json:"uuid"`
	Email     string      `json:"email"`
	ExpiresAt int64       `json:"expires_at"`
	UsedBytes int64       `json:"used_bytes"`
}

func (k v2rayKey) info() KeyInfo {
	return KeyInfo{
		ID:        k.ID.String(),
		UUID:      k.UUID,
		Name:      k.Email,
		UsedBytes: k.UsedBytes,
		ExpiresAt: k.ExpiresAt,
	}
}

// CreateKey создаёт клиента на сервере. API исторически отвечает либо
// объектом ключа, либо списком из одного элемента — нормализуем через
// decodeKeyResponse; пустой список — отдельная ошибка ErrEmptyKeyList.
func (c *V2RayClient) CreateKey(ctx context.Context, name string) (*KeyInfo, error) {
	payload, _ := json.Marshal(map[string]string{"email": name})
	raw, err := c.do(ctx, "v2ray create-key", http.MethodPost, "/api/keys", payload)
	if err != nil {
		return nil, err
	}
	key, err := decodeKeyResponse(raw)
	if err != nil {
		if err == ErrEmptyKeyList {
			return nil, err
		}
		return nil, &APIError{Op: "v2ray create-key", Status: http.StatusOK, Body: string(raw), Err: err}
	}
	info := key.info()
	return &info, nil
}

// decodeKeyResponse разбирает ответ create-key: JSON-объект либо JSON-список.
// Список нормализуется взятием первого элемента; пустой список — ErrEmptyKeyList.
func decodeKeyResponse(raw []byte) (*v2rayKey, error) {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty response body")
	}
	if trimmed[0] == '[' {
		var list []v2rayKey
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("decode key list: %w", err)
		}
		if len(list) == 0 {
			return nil, ErrEmptyKeyList
		}
		return &list[0], nil
	}
	var key v2rayKey
	if err := json.Unmarshal(raw, &key); err != nil {
		return nil, fmt.Errorf("decode key object: %w", err)
	}
	return &key, nil
}

func (c *V2RayClient) DeleteKey(ctx context.Context, id string) error {
	_, err := c.do(ctx, "v2ray delete-key", http.MethodDelete, "/api/keys/"+id, nil)
	return err
}

// GetConfig возвращает только vless:// строку из клиентского конфига.
// Остальное содержимое ответа (QR-текст, инструкции) пользователю не отдаётся.
func (c *V2RayClient) GetConfig(ctx context.Context, id string) (string, error) {
	raw, err := c.do(ctx, "v2ray get-config", http.MethodGet, "/api/keys/"+id+"/config", nil)
	if err != nil {
		return "", err
	}
	var resp struct {
		ClientConfig string `json:"client_config"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", &APIError{Op: "v2ray get-config", Status: http.StatusOK, Body: string(raw), Err: fmt.Errorf("decode: %w", err)}
	}
	uri, ok := ExtractVLESS(resp.ClientConfig)
	if !ok {
		return "", &APIError{Op: "v2ray get-config", Status: http.StatusOK, Body: truncate(resp.ClientConfig, 200), Err: fmt.Errorf("no vless:// uri in client config")}
	}
	return uri, nil
}

// ExtractVLESS выделяет из многострочного client_config ровно строку,
// начинающуюся с vless://, обрезая окружающие пробелы.
func ExtractVLESS(clientConfig string) (string, bool) {
	for _, line := range strings.Split(clientConfig, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "vless://") {
			return line, true
		}
	}
	return "", false
}

func (c *V2RayClient) ListKeys(ctx context.Context) ([]KeyInfo, error) {
	raw, err := c.do(ctx, "v2ray list-keys", http.MethodGet, "/api/keys", nil)
	if err != nil {
		return nil, err
	}
	var list []v2rayKey
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, &APIError{Op: "v2ray list-keys", Status: http.StatusOK, Body: string(raw), Err: fmt.Errorf("decode: %w", err)}
	}
	keys := make([]KeyInfo, 0, len(list))
	for _, k := range list {
		keys = append(keys, k.info())
	}
	return keys, nil
}

// GetTraffic возвращает точный расход трафика ключа в байтах.
func (c *V2RayClient) GetTraffic(ctx context.Context, id string) (int64, error) {
	raw, err := c.do(ctx, "v2ray get-traffic", http.MethodGet, "/api/keys/"+id+"/traffic/exact", nil)
	if err != nil {
		return 0, err
	}
	var resp struct {
		UsedBytes int64 `json:"used_bytes"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return 0, &APIError{Op: "v2ray get-traffic", Status: http.StatusOK, Body: string(raw), Err: fmt.Errorf("decode: %w", err)}
	}
	return resp.UsedBytes, nil
}

func (c *V2RayClient) ResetTraffic(ctx context.Context, id string) error {
	_, err := c.do(ctx, "v2ray reset-traffic", http.MethodPost, "/api/keys/"+id+"/traffic/reset", nil)
	return err
}

func (c *V2RayClient) SetDataLimit(ctx context.Context, id string, limit int64) error {
	payload, _ := json.Marshal(map[string]int64{"limit_bytes": limit})
	_, err := c.do(ctx, "v2ray set-data-limit", http.MethodPut, "/api/keys/"+id+"/limit", payload)
	return err
}

// SyncConfig просит сервер пересобрать и применить конфиг Xray.
func (c *V2RayClient) SyncConfig(ctx context.Context) error {
	_, err := c.do(ctx, "v2ray config-sync", http.MethodPost, "/api/system/config/sync", nil)
	return err
}

// ValidateConfig проверяет конфиг сервера без применения.
func (c *V2RayClient) ValidateConfig(ctx context.Context) error {
	_, err := c.do(ctx, "v2ray config-validate", http.MethodPost, "/api/system/config/validate", nil)
	return err
}

// PortsStatus возвращает статусы портов сервера.
func (c *V2RayClient) PortsStatus(ctx context.Context) (map[string]bool, error) {
	raw, err := c.do(ctx, "v2ray ports-status", http.MethodGet, "/api/system/ports", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Ports map[string]bool `json:"ports"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &APIError{Op: "v2ray ports-status", Status: http.StatusOK, Body: string(raw), Err: fmt.Errorf("decode: %w", err)}
	}
	return resp.Ports, nil
}

// VerifyReality проверяет Reality-настройки сервера.
func (c *V2RayClient) VerifyReality(ctx context.Context) (bool, error) {
	raw, err := c.do(ctx, "v2ray reality-verify", http.MethodGet, "/api/system/reality/verify", nil)
	if err != nil {
		return false, err
	}
	var resp struct {
		Valid bool `json:"valid"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return false, &APIError{Op: "v2ray reality-verify", Status: http.StatusOK, Body: string(raw), Err: fmt.Errorf("decode: %w", err)}
	}
	return resp.Valid, nil
}

func (c *V2RayClient) do(ctx context.Context, op, method, path string, payload []byte) ([]byte, error) {
	var raw []byte
	err := withRetry(ctx, 3, func() error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return &APIError{Op: op, Err: err}
		}
		req.Header.Set("X-API-Key", c.apiKey)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return &APIError{Op: op, Err: err}
		}
		defer resp.Body.Close()
		raw, err = io.ReadAll(resp.Body)
		if err != nil {
			return &APIError{Op: op, Status: resp.StatusCode, Err: err}
		}
		if resp.StatusCode == http.StatusNotFound {
			return ErrKeyNotFound
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &APIError{Op: op, Status: resp.StatusCode, Body: string(raw)}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return raw, nil
}
