package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// YooKassaClient — клиент API платежей YooKassa.
type YooKassaClient struct {
	shopID    string
	secretKey string
	baseURL   string
	http      *http.Client
}

func NewYooKassaClient(shopID, secretKey string) *YooKassaClient {
	return &YooKassaClient{
		shopID:    shopID,
		secretKey: secretKey,
		baseURL:   "https://api.yookassa.ru/v3",
		http:      &http.Client{Timeout: 30 * time.Second},
	}
}

type PaymentRequest struct {
	Amount      decimal.Decimal
	Description string
	Email       string
	ReturnURL   string
	// Metadata возвращается в webhook как есть; кладём telegram_id и tariff_id.
	Metadata map[string]interface{}
}

type PaymentResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Confirmation struct {
		ConfirmationURL string `json:"confirmation_url"`
	} `json:"confirmation"`
}

// CreatePayment создаёт платёж с redirect-подтверждением и чеком на email.
// Idempotence-Key защищает от дублей при повторе запроса.
func (y *YooKassaClient) CreatePayment(ctx context.Context, req PaymentRequest) (*PaymentResponse, error) {
	body := map[string]interface{}{
		"amount": map[string]string{
			"value":    req.Amount.StringFixed(2),
			"currency": "RUB",
		},
		"capture":     true,
		"description": req.Description,
		"confirmation": map[string]string{
			"type":       "redirect",
			"return_url": req.ReturnURL,
		},
		"metadata": req.Metadata,
	}
	if req.Email != "" {
		body["receipt"] = map[string]interface{}{
			"customer": map[string]string{"email": req.Email},
			"items": []map[string]interface{}{{
				"description": req.Description,
				"quantity":    "1",
				"amount": map[string]string{
					"value":    req.Amount.StringFixed(2),
					"currency": "RUB",
				},
				"vat_code":        1,
				"payment_mode":    "full_payment",
				"payment_subject": "service",
			}},
		}
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, y.baseURL+"/payments", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotence-Key", uuid.NewString())
	httpReq.SetBasicAuth(y.shopID, y.secretKey)

	resp, err := y.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("yookassa request: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("yookassa: status %d: %s", resp.StatusCode, raw)
	}
	var pr PaymentResponse
	if err := json.Unmarshal(raw, &pr); err != nil {
		return nil, fmt.Errorf("yookassa decode: %w", err)
	}
	return &pr, nil
}

// GetPayment запрашивает актуальный статус платежа у шлюза.
func (y *YooKassaClient) GetPayment(ctx context.Context, paymentID string) (*PaymentResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, y.baseURL+"/payments/"+paymentID, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(y.shopID, y.secretKey)
	resp, err := y.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yookassa request: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("yookassa: status %d: %s", resp.StatusCode, raw)
	}
	var pr PaymentResponse
	if err := json.Unmarshal(raw, &pr); err != nil {
		return nil, fmt.Errorf("yookassa decode: %w", err)
	}
	return &pr, nil
}
