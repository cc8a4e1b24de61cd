// Package client is a Go client for the roulette HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"roulette-backend/internal/lib/retry"
	"roulette-backend/internal/models"
)

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"error"`
	Details    string `json:"details"`
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("api %d: %s: %s", e.StatusCode, e.Message, e.Details)
	}
	return fmt.Sprintf("api %d: %s", e.StatusCode, e.Message)
}

// IsConflict reports whether err is a 409 from a lost optimistic-lock race.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	conflict   retry.Policy
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithConflictPolicy bounds how often a pull is repeated after a 409.
func WithConflictPolicy(p retry.Policy) Option {
	return func(c *Client) {
		c.conflict = p
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		conflict:   retry.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Game is a handle on one session. Token is sent as a bearer token on the
// confirm, pull and settle calls.
type Game struct {
	ID       string
	SeedHash string
	Token    string
}

func (c *Client) Start(ctx context.Context, wallet string) (*Game, error) {
	var resp models.StartResponse
	if err := c.do(ctx, http.MethodPost, "/game/start", "", models.StartRequest{PlayerWallet: wallet}, &resp); err != nil {
		return nil, err
	}
	return &Game{ID: resp.GameID, SeedHash: resp.SeedHash, Token: resp.Token}, nil
}

// Confirm reports the player's commit transaction. An empty signature asks a
// simulator-backed server to open the session itself.
func (c *Client) Confirm(ctx context.Context, g *Game, txSignature string, betAmount uint64) (*models.GameView, error) {
	req := models.ConfirmRequest{GameID: g.ID, TxSignature: txSignature, BetAmount: betAmount}

	var view models.GameView
	if err := c.do(ctx, http.MethodPost, "/game/confirm", g.Token, req, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// Pull fires the next chamber. A 409 means another pull advanced the round
// first; the call is repeated within the conflict policy.
func (c *Client) Pull(ctx context.Context, g *Game) (*models.PullResult, error) {
	return retry.Value(ctx, c.conflict, IsConflict, func(ctx context.Context) (*models.PullResult, error) {
		var result models.PullResult
		if err := c.do(ctx, http.MethodPost, "/game/pull", g.Token, models.GameRequest{GameID: g.ID}, &result); err != nil {
			return nil, err
		}
		return &result, nil
	})
}

func (c *Client) Settle(ctx context.Context, g *Game) (*models.SettleResult, error) {
	var result models.SettleResult
	if err := c.do(ctx, http.MethodPost, "/game/settle", g.Token, models.GameRequest{GameID: g.ID}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Verify(ctx context.Context, txSignature string) (*models.VerifyResult, error) {
	var result models.VerifyResult
	if err := c.do(ctx, http.MethodGet, "/game/verify/"+url.PathEscape(txSignature), "", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Game(ctx context.Context, gameID string) (*models.GameView, error) {
	var view models.GameView
	if err := c.do(ctx, http.MethodGet, "/game/"+url.PathEscape(gameID), "", nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func (c *Client) Active(ctx context.Context, wallet string) (*models.GameView, error) {
	var view models.GameView
	path := "/game/active?" + url.Values{"wallet": {wallet}}.Encode()
	if err := c.do(ctx, http.MethodGet, path, "", nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func (c *Client) History(ctx context.Context, wallet string, limit int) ([]models.GameView, error) {
	var out struct {
		Games []models.GameView `json:"games"`
	}
	path := "/players/" + url.PathEscape(wallet) + "/history?limit=" + strconv.Itoa(limit)
	if err := c.do(ctx, http.MethodGet, path, "", nil, &out); err != nil {
		return nil, err
	}
	return out.Games, nil
}

func (c *Client) Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	var out struct {
		Leaderboard []models.LeaderboardEntry `json:"leaderboard"`
	}
	if err := c.do(ctx, http.MethodGet, "/leaderboard?limit="+strconv.Itoa(limit), "", nil, &out); err != nil {
		return nil, err
	}
	return out.Leaderboard, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: marshal %s: %w", path, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode %s: %w", path, err)
	}
	return nil
}
