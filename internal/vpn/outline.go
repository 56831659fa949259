package vpn

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OutlineClient — клиент Outline management REST API. Сервер Outline
// использует самоподписанный сертификат, подлинность проверяется по
// закреплённому SHA-256 отпечатку из записи сервера.
type OutlineClient struct {
	baseURL string
	http    *http.Client
}

func NewOutlineClient(baseURL, certSHA256 string) *OutlineClient {
	fingerprint := strings.ToLower(strings.ReplaceAll(certSHA256, ":", ""))
	tlsCfg := &tls.Config{
		// Цепочка не проверяется: сертификат самоподписанный,
		// вместо этого сверяем отпечаток листового сертификата.
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if fingerprint == "" {
				return nil
			}
			for _, raw := range rawCerts {
				sum := sha256.Sum256(raw)
				if hex.EncodeToString(sum[:]) == fingerprint {
					return nil
				}
			}
			return fmt.Errorf("certificate fingerprint mismatch")
		},
	}
	return &OutlineClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   30 * time.Second,
			Transport: &http.Transport{TLSClientConfig: tlsCfg},
		},
	}
}

type outlineKey struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AccessURL string `json:"accessUrl"`
	DataLimit *struct {
		Bytes int64 `json:"bytes"`
	} `json:"dataLimit,omitempty"`
}

func (c *OutlineClient) CreateKey(ctx context.Context, name string) (*KeyInfo, error) {
	payload, _ := json.Marshal(map[string]string{"name": name})
	var key outlineKey
	if err := c.do(ctx, "outline create-key", http.MethodPost, "/access-keys", payload, &key); err != nil {
		return nil, err
	}
	return &KeyInfo{ID: key.ID, Name: key.Name, AccessURL: key.AccessURL}, nil
}

func (c *OutlineClient) DeleteKey(ctx context.Context, id string) error {
	return c.do(ctx, "outline delete-key", http.MethodDelete, "/access-keys/"+id, nil, nil)
}

// GetConfig возвращает ss:// строку подключения ключа.
func (c *OutlineClient) GetConfig(ctx context.Context, id string) (string, error) {
	keys, err := c.ListKeys(ctx)
	if err != nil {
		return "", err
	}
	for _, k := range keys {
		if k.ID == id {
			return k.AccessURL, nil
		}
	}
	return "", ErrKeyNotFound
}

// ListKeys возвращает все ключи сервера вместе с расходом трафика
// (один дополнительный запрос /metrics/transfer на весь список).
func (c *OutlineClient) ListKeys(ctx context.Context) ([]KeyInfo, error) {
	var resp struct {
		AccessKeys []outlineKey `json:"accessKeys"`
	}
	if err := c.do(ctx, "outline list-keys", http.MethodGet, "/access-keys", nil, &resp); err != nil {
		return nil, err
	}
	usage, err := c.transfer(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]KeyInfo, 0, len(resp.AccessKeys))
	for _, k := range resp.AccessKeys {
		keys = append(keys, KeyInfo{
			ID:        k.ID,
			Name:      k.Name,
			AccessURL: k.AccessURL,
			UsedBytes: usage[k.ID],
		})
	}
	return keys, nil
}

func (c *OutlineClient) GetTraffic(ctx context.Context, id string) (int64, error) {
	usage, err := c.transfer(ctx)
	if err != nil {
		return 0, err
	}
	return usage[id], nil
}

// ResetTraffic: у Outline нет сброса счётчиков per-key, метрики
// накопительные. Сбрасываем лимит переустановкой data-limit.
func (c *OutlineClient) ResetTraffic(ctx context.Context, id string) error {
	return c.do(ctx, "outline reset-traffic", http.MethodDelete, "/access-keys/"+id+"/data-limit", nil, nil)
}

func (c *OutlineClient) SetDataLimit(ctx context.Context, id string, limit int64) error {
	if limit <= 0 {
		return c.do(ctx, "outline clear-data-limit", http.MethodDelete, "/access-keys/"+id+"/data-limit", nil, nil)
	}
	payload, _ := json.Marshal(map[string]map[string]int64{"limit": {"bytes": limit}})
	return c.do(ctx, "outline set-data-limit", http.MethodPut, "/access-keys/"+id+"/data-limit", payload, nil)
}

func (c *OutlineClient) SetName(ctx context.Context, id, name string) error {
	payload, _ := json.Marshal(map[string]string{"name": name})
	return c.do(ctx, "outline set-name", http.MethodPut, "/access-keys/"+id+"/name", payload, nil)
}

func (c *OutlineClient) transfer(ctx context.Context) (map[string]int64, error) {
	var resp struct {
		BytesTransferredByUserID map[string]int64 `json:"bytesTransferredByUserId"`
	}
	if err := c.do(ctx, "outline metrics", http.MethodGet, "/metrics/transfer", nil, &resp); err != nil {
		return nil, err
	}
	return resp.BytesTransferredByUserID, nil
}

func (c *OutlineClient) do(ctx context.Context, op, method, path string, payload []byte, out interface{}) error {
	return withRetry(ctx, 3, func() error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return &APIError{Op: op, Err: err}
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return &APIError{Op: op, Err: err}
		}
		defer resp.Body.Close()
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return &APIError{Op: op, Status: resp.StatusCode, Err: err}
		}
		if resp.StatusCode == http.StatusNotFound {
			return ErrKeyNotFound
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &APIError{Op: op, Status: resp.StatusCode, Body: string(raw)}
		}
		if out != nil {
			if err := json.Unmarshal(raw, out); err != nil {
				return &APIError{Op: op, Status: resp.StatusCode, Body: string(raw), Err: fmt.Errorf("decode: %w", err)}
			}
		}
		return nil
	})
}
