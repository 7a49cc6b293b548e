package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/fxdesk/internal/domain"
)

const (
	defaultTimeout  = 15 * time.Second
	maxResponseSize = 1 << 20
)

// WalletClient reads account figures from the remote wallet service.
type WalletClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	now        func() time.Time
}

// NewWalletClient creates a client for baseURL. token is sent as a bearer
// credential on the authenticated account endpoint.
func NewWalletClient(baseURL, token string) *WalletClient {
	return &WalletClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		now: time.Now,
	}
}

// walletResponse accepts numbers or numeric strings for every field.
type walletResponse struct {
	Balance    json.RawMessage `json:"balance"`
	Equity     json.RawMessage `json:"equity"`
	Margin     json.RawMessage `json:"margin"`
	MarginUsed json.RawMessage `json:"marginUsed"`
	FreeMargin json.RawMessage `json:"freeMargin"`
}

// FetchBalance calls GET {base}/balance/{userID}.
func (c *WalletClient) FetchBalance(ctx context.Context, userID string) (domain.WalletSnapshot, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.WalletSnapshot{}, domain.Validationf("user id is empty")
	}

	return c.fetch(ctx, "/balance/"+url.PathEscape(userID), false)
}

// FetchAccount calls GET {base}/account with the bearer token.
func (c *WalletClient) FetchAccount(ctx context.Context) (domain.WalletSnapshot, error) {
	if c.token == "" {
		return domain.WalletSnapshot{}, domain.Validationf("wallet token is empty")
	}

	return c.fetch(ctx, "/account", true)
}

func (c *WalletClient) fetch(ctx context.Context, path string, auth bool) (domain.WalletSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return domain.WalletSnapshot{}, errors.Wrap(err, "failed to create HTTP request")
	}

	req.Header.Set("Accept", "application/json")
	if auth {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.WalletSnapshot{}, errors.Wrapf(domain.ErrTransport, "GET %s: %v", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return domain.WalletSnapshot{}, errors.Wrapf(domain.ErrTransport, "read %s body: %v", path, err)
	}

	if resp.StatusCode != http.StatusOK {
		return domain.WalletSnapshot{}, errors.Wrapf(domain.ErrTransport, "GET %s returned status %d: %s", path, resp.StatusCode, string(bytes.TrimSpace(body)))
	}

	return parseWalletResponse(body, c.now())
}

func parseWalletResponse(body []byte, at time.Time) (domain.WalletSnapshot, error) {
	var raw walletResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return domain.WalletSnapshot{}, errors.Wrapf(domain.ErrTransport, "decode wallet response: %v", err)
	}

	balance := coerceDecimal(raw.Balance)
	if balance == nil {
		return domain.WalletSnapshot{}, errors.Wrap(domain.ErrTransport, "wallet response has no numeric balance")
	}

	margin := coerceDecimal(raw.Margin)
	if margin == nil {
		margin = coerceDecimal(raw.MarginUsed)
	}

	return domain.NewWalletSnapshot(*balance, coerceDecimal(raw.Equity), margin, coerceDecimal(raw.FreeMargin), at), nil
}

// coerceDecimal parses a JSON number or numeric string. Anything else is nil.
func coerceDecimal(raw json.RawMessage) *decimal.Decimal {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return nil
	}

	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return nil
		}
		s = strings.TrimSpace(str)
	}

	v, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}

	return &v
}
