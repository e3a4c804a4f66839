// Package directory talks to the remote authoritative directory of live
// entitlement and device state. The directory is consumed as a black box:
// this package owns the wire schema, the auth header, and the mapping of
// remote failures onto the three-way Permanent/Transient/Conflict split.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// EntitlementSnapshot is the versioned shape of a remote entitlement. All
// fields are optional on the wire; absent fields decode to zero values.
// ExpiresAt stays a string because remote clocks have shipped malformed
// values before; callers pick the fallback through ExpiryOr.
type EntitlementSnapshot struct {
	ID               string `json:"uuid"`
	Status           string `json:"status"`
	UsedTrafficBytes int64  `json:"usedTrafficBytes"`
	ExpiresAt        string `json:"expireAt"`
	DisplayName      string `json:"username"`
	ConnectionURL    string `json:"subscriptionUrl"`
}

// ExpiryOr parses the snapshot's expiry as RFC 3339, returning fallback
// when the value is missing or unparseable.
func (s EntitlementSnapshot) ExpiryOr(fallback time.Time) time.Time {
	if s.ExpiresAt == "" {
		return fallback
	}
	t, err := time.Parse(time.RFC3339, s.ExpiresAt)
	if err != nil {
		return fallback
	}
	return t
}

// DeviceSnapshot is the versioned shape of a connected device. Devices are
// never persisted locally; every read is live.
type DeviceSnapshot struct {
	HardwareID  string    `json:"hwid"`
	Platform    string    `json:"platform"`
	OSVersion   string    `json:"osVersion"`
	DeviceModel string    `json:"deviceModel"`
	UserAgent   string    `json:"userAgent"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type envelope struct {
	Response json.RawMessage `json:"response"`
	Message  string          `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network-level failures look like server unavailability.
		return &Error{Status: 0, Message: err.Error(), Class: ClassTransient}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Status: resp.StatusCode, Message: err.Error(), Class: ClassTransient}
	}

	var env envelope
	if len(raw) > 0 {
		// A malformed body on a 2xx is a remote bug; on an error status
		// it just means no structured message.
		_ = json.Unmarshal(raw, &env)
	}

	if resp.StatusCode >= 400 {
		return &Error{Status: resp.StatusCode, Message: env.Message, Class: classify(resp.StatusCode)}
	}

	if out != nil {
		payload := env.Response
		if payload == nil {
			payload = raw
		}
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// ListEntitlements returns the live entitlement set owned by an account.
// An account unknown to the directory yields an empty list, not an error.
func (c *Client) ListEntitlements(ctx context.Context, accountID string) ([]EntitlementSnapshot, error) {
	var snaps []EntitlementSnapshot
	path := "/api/accounts/" + url.PathEscape(accountID) + "/entitlements"
	if err := c.do(ctx, http.MethodGet, path, nil, &snaps); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return snaps, nil
}

func (c *Client) GetEntitlement(ctx context.Context, entitlementID string) (*EntitlementSnapshot, error) {
	var snap EntitlementSnapshot
	path := "/api/entitlements/" + url.PathEscape(entitlementID)
	if err := c.do(ctx, http.MethodGet, path, nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *Client) ListDevices(ctx context.Context, entitlementID string) ([]DeviceSnapshot, error) {
	var out struct {
		Devices []DeviceSnapshot `json:"devices"`
	}
	path := "/api/entitlements/" + url.PathEscape(entitlementID) + "/devices"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return out.Devices, nil
}

// RemoveDevice disconnects a device by full hardware id. Returns false
// without error when the directory no longer knows the device.
func (c *Client) RemoveDevice(ctx context.Context, entitlementID, hardwareID string) (bool, error) {
	body := map[string]string{"hwid": hardwareID}
	path := "/api/entitlements/" + url.PathEscape(entitlementID) + "/devices/delete"
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *Client) UpdateEntitlement(ctx context.Context, entitlementID string, fields map[string]any) (*EntitlementSnapshot, error) {
	var snap EntitlementSnapshot
	path := "/api/entitlements/" + url.PathEscape(entitlementID)
	if err := c.do(ctx, http.MethodPatch, path, fields, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
