package invoice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// LnbitsProvider issues invoices against an LNbits wallet's REST API.
type LnbitsProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewLnbitsProvider builds a provider against an LNbits instance at
// baseURL (e.g. "https://lnbits.example.com"), authenticated with a
// wallet invoice/read key.
func NewLnbitsProvider(baseURL, apiKey string) *LnbitsProvider {
	return &LnbitsProvider{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type lnbitsCreateRequest struct {
	Out    bool   `json:"out"`
	Amount int64  `json:"amount"`
	Memo   string `json:"memo"`
}

type lnbitsCreateResponse struct {
	PaymentHash    string `json:"payment_hash"`
	PaymentRequest string `json:"payment_request"`
}

// CreateInvoice requests a new incoming invoice for amountSats.
func (p *LnbitsProvider) CreateInvoice(ctx context.Context, amountSats int64, memo string) (string, string, error) {
	reqBody, err := json.Marshal(lnbitsCreateRequest{Out: false, Amount: amountSats, Memo: memo})
	if err != nil {
		return "", "", fmt.Errorf("encoding lnbits create request: %w", err)
	}

	var result lnbitsCreateResponse
	err = callWithRetry(ctx, func(ctx context.Context) error {
		return p.post(ctx, "/api/v1/payments", reqBody, &result)
	})
	if err != nil {
		return "", "", fmt.Errorf("creating lnbits invoice: %w", err)
	}
	return result.PaymentHash, result.PaymentRequest, nil
}

type lnbitsStatusResponse struct {
	Paid bool `json:"paid"`
}

// CheckSettled reports whether paymentHash has been paid.
func (p *LnbitsProvider) CheckSettled(ctx context.Context, paymentHash string) (bool, error) {
	var result lnbitsStatusResponse
	err := callWithRetry(ctx, func(ctx context.Context) error {
		return p.get(ctx, "/api/v1/payments/"+paymentHash, &result)
	})
	if err != nil {
		return false, fmt.Errorf("checking lnbits invoice %s: %w", paymentHash, err)
	}
	return result.Paid, nil
}

func (p *LnbitsProvider) post(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", p.apiKey)
	return p.do(req, out)
}

func (p *LnbitsProvider) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Api-Key", p.apiKey)
	return p.do(req, out)
}

func (p *LnbitsProvider) do(req *http.Request, out any) error {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return &HTTPStatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
