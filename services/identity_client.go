// services/identity_client.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInsufficientFunds is returned by Debit when the identity service rejects
// the charge. No balance change has happened when it is returned.
var ErrInsufficientFunds = errors.New("insufficient balance")

// UserProfile mirrors the per-user attributes held by the identity service.
type UserProfile struct {
	UserID          string          `json:"user_id"`
	CoinBalance     decimal.Decimal `json:"coin_balance"`
	TerritoryBlocks int64           `json:"territory_blocks"`
	// LastMinedAt is epoch seconds; 0 means the user has never mined.
	LastMinedAt int64 `json:"last_mined"`
}

// IdentityService is the external identity/balance collaborator. The service
// owns the user's coin balance and mining attributes; every mutation here is a
// single call so the remote side can apply it as one atomic attribute update.
type IdentityService interface {
	Profile(ctx context.Context, userID string) (UserProfile, error)
	// UpdateMiningState writes balance, territory count and last_mined in one
	// atomic transition. Callers must never split this into separate writes.
	UpdateMiningState(ctx context.Context, userID string, balance decimal.Decimal, territoryCount int64, lastMined int64) error
	SetTerritoryCount(ctx context.Context, userID string, count int64) error
	// Debit charges the user and returns the new balance, or
	// ErrInsufficientFunds without any change.
	Debit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)
	// Credit adds to the user's balance. ref is an idempotency key (ticket or
	// payout ID): the identity service ignores a repeated credit with the same
	// ref, which makes retries safe.
	Credit(ctx context.Context, userID string, amount decimal.Decimal, ref string) error
}

// IdentityClient talks HTTP to the identity service through the internal API
// the gateway exposes to backend services.
type IdentityClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewIdentityClient(baseURL, token string) *IdentityClient {
	return &IdentityClient{
		BaseURL: baseURL,
		Token:   token,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *IdentityClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Service-Token", c.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("identity service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusPaymentRequired {
		return ErrInsufficientFunds
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("identity service returned status %d: %s", resp.StatusCode, string(raw))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode identity response: %w", err)
		}
	}
	return nil
}

func (c *IdentityClient) Profile(ctx context.Context, userID string) (UserProfile, error) {
	var profile UserProfile
	err := c.do(ctx, "GET", "/internal/users/"+userID, nil, &profile)
	return profile, err
}

func (c *IdentityClient) UpdateMiningState(ctx context.Context, userID string, balance decimal.Decimal, territoryCount int64, lastMined int64) error {
	payload := map[string]any{
		"coin_balance":     balance,
		"territory_blocks": territoryCount,
		"last_mined":       lastMined,
	}
	return c.do(ctx, "PATCH", "/internal/users/"+userID+"/attributes", payload, nil)
}

func (c *IdentityClient) SetTerritoryCount(ctx context.Context, userID string, count int64) error {
	payload := map[string]any{"territory_blocks": count}
	return c.do(ctx, "PATCH", "/internal/users/"+userID+"/attributes", payload, nil)
}

func (c *IdentityClient) Debit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	var result struct {
		NewBalance decimal.Decimal `json:"new_balance"`
	}
	payload := map[string]any{"amount": amount}
	if err := c.do(ctx, "POST", "/internal/users/"+userID+"/debit", payload, &result); err != nil {
		return decimal.Zero, err
	}
	return result.NewBalance, nil
}

func (c *IdentityClient) Credit(ctx context.Context, userID string, amount decimal.Decimal, ref string) error {
	payload := map[string]any{"amount": amount, "ref": ref}
	return c.do(ctx, "POST", "/internal/users/"+userID+"/credit", payload, nil)
}
