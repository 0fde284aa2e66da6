package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Gateway is the payment processor the billing service talks to.
type Gateway interface {
	Initialize(ctx context.Context, req InitRequest) (InitResponse, error)
	Verify(ctx context.Context, reference string) (Transaction, error)
}

type InitRequest struct {
	Email       string            `json:"email"`
	AmountKobo  int64             `json:"amount"`
	Reference   string            `json:"reference"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type InitResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type Transaction struct {
	Reference  string `json:"reference"`
	Status     string `json:"status"` // success|failed|abandoned|...
	AmountKobo int64  `json:"amount"`
	Currency   string `json:"currency"`
}

type ClientConfig struct {
	SecretKey string
	BaseURL   string
	Timeout   time.Duration
}

// Client is a Paystack REST client. The secret key rides as a bearer token.
type Client struct {
	http *http.Client
	base string
}

func NewClient(cfg ClientConfig) *Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.SecretKey, TokenType: "Bearer"})
	h := oauth2.NewClient(context.Background(), ts)
	h.Timeout = cfg.Timeout
	if h.Timeout <= 0 {
		h.Timeout = 15 * time.Second
	}
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.paystack.co"
	}
	return &Client{http: h, base: base}
}

// envelope is the common Paystack response wrapper.
type envelope[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func (c *Client) Initialize(ctx context.Context, in InitRequest) (InitResponse, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return InitResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/transaction/initialize", bytes.NewReader(body))
	if err != nil {
		return InitResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	var out envelope[InitResponse]
	if err := c.do(req, "initialize transaction", &out); err != nil {
		return InitResponse{}, err
	}
	return out.Data, nil
}

func (c *Client) Verify(ctx context.Context, reference string) (Transaction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/transaction/verify/"+url.PathEscape(reference), nil)
	if err != nil {
		return Transaction{}, err
	}
	var out envelope[Transaction]
	if err := c.do(req, "verify transaction", &out); err != nil {
		return Transaction{}, err
	}
	return out.Data, nil
}

func (c *Client) do(req *http.Request, op string, out interface{ ok() (bool, string) }) error {
	req.Header.Set("Accept", "application/json")
	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrGateway, err)
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		return fmt.Errorf("%s: %w: %s", op, ErrGateway, res.Status)
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode: %w", op, err)
	}
	if ok, msg := out.ok(); !ok {
		return fmt.Errorf("%s: %w: %s", op, ErrGateway, msg)
	}
	return nil
}

func (e *envelope[T]) ok() (bool, string) { return e.Status, e.Message }
