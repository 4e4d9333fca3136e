package mt5

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Client for the MT5 bridge microservice. The bridge polls the trade
// servers independently and exposes cached account snapshots; this
// client only reads them.
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// ServiceResponse is the bridge's standard response envelope
type ServiceResponse struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *string         `json:"error"`
	Timestamp string          `json:"timestamp"`
}

// AccountSnapshot is one trading account's cached balance
type AccountSnapshot struct {
	AccountNumber string  `json:"account_number"`
	Balance       float64 `json:"balance"`
	Broker        string  `json:"broker,omitempty"`
	Platform      string  `json:"platform,omitempty"`
}

// NewClient creates a new MT5 bridge client
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log.With().Str("client", "mt5").Logger(),
	}
}

// get makes a GET request to the bridge
func (c *Client) get(endpoint string) (*ServiceResponse, error) {
	url := c.baseURL + endpoint
	resp, err := c.client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	return c.parseResponse(resp)
}

// parseResponse parses the bridge response envelope
func (c *Client) parseResponse(resp *http.Response) (*ServiceResponse, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var result ServiceResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if !result.Success {
		errMsg := "unknown error"
		if result.Error != nil {
			errMsg = *result.Error
		}
		return &result, fmt.Errorf("bridge error: %s", errMsg)
	}

	return &result, nil
}

// SnapshotsResponse is the response for GetAccountSnapshots
type SnapshotsResponse struct {
	Accounts []AccountSnapshot `json:"accounts"`
}

// GetAccountSnapshots fetches cached balance snapshots for all accounts
func (c *Client) GetAccountSnapshots() ([]AccountSnapshot, error) {
	resp, err := c.get("/api/accounts/snapshots")
	if err != nil {
		return nil, err
	}

	var result SnapshotsResponse
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse snapshots: %w", err)
	}

	return result.Accounts, nil
}

// IsConnected reports whether the bridge is reachable
func (c *Client) IsConnected() bool {
	resp, err := c.client.Get(c.baseURL + "/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
