// Package nayax talks to the Nayax Lynx API and normalizes its payloads.
package nayax

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alpenava/home-assistant-nayax/internal/domain"
)

const (
	DefaultBaseURL = "https://lynx.nayax.com"

	machinesPath  = "/v1/machines"
	lastSalesPath = "/operational/v1/machines/%s/lastSales"
)

// Error is a failed API call, classified the way the poll engine reacts to
// it: permanent errors (rejected credentials) suspend a machine until an
// operator intervenes, transient ones are retried on the next tick.
type Error struct {
	Status    int
	Message   string
	Permanent bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("nayax: %s: %v", e.Message, e.Err)
	}
	if e.Status > 0 {
		return fmt.Sprintf("nayax: %s (status %d)", e.Message, e.Status)
	}
	return "nayax: " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether err is an API error that will not resolve by
// retrying, such as rejected credentials.
func IsPermanent(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Permanent
}

// RawSale is one transaction-like record as returned by the API. Numbers are
// decoded as json.Number so settlement values survive with full precision.
type RawSale map[string]any

// Client is an HTTP client for the Lynx API authenticated with a bearer
// token.
type Client struct {
	httpClient *http.Client
	baseURL    string
	actorID    string
	apiToken   string
}

// NewClient builds a client. An empty baseURL selects the production Lynx
// endpoint; a nil httpClient gets a default with a 30s timeout.
func NewClient(baseURL, actorID, apiToken string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		actorID:    actorID,
		apiToken:   apiToken,
	}
}

// Validate checks the configured credentials with a machines-list call.
func (c *Client) Validate(ctx context.Context) error {
	_, err := c.Machines(ctx)
	return err
}

// Machines lists the machines visible to the configured actor.
func (c *Client) Machines(ctx context.Context) ([]domain.Machine, error) {
	payload, err := c.get(ctx, machinesPath)
	if err != nil {
		return nil, err
	}

	items := unwrapList(payload, "machines", "data")
	machines := make([]domain.Machine, 0, len(items))
	for _, item := range items {
		record, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id := stringField(record, "MachineID", "MachineId", "machineId", "id")
		if id == "" {
			continue
		}
		name := stringField(record, "MachineName", "machineName", "name")
		if name == "" {
			name = "Nayax Machine " + id
		}
		raw, _ := json.Marshal(record)
		machines = append(machines, domain.Machine{
			ID:       id,
			Name:     name,
			SiteName: stringField(record, "SiteName", "siteName"),
			Raw:      raw,
		})
	}
	return machines, nil
}

// LastSales returns the recent transactions for one machine, newest first,
// in whatever field casing the API felt like using that day.
func (c *Client) LastSales(ctx context.Context, machineID string) ([]RawSale, error) {
	payload, err := c.get(ctx, fmt.Sprintf(lastSalesPath, machineID))
	if err != nil {
		return nil, err
	}

	items := unwrapList(payload, "transactions", "sales", "data")
	sales := make([]RawSale, 0, len(items))
	for _, item := range items {
		if record, ok := item.(map[string]any); ok {
			sales = append(sales, RawSale(record))
		}
	}
	return sales, nil
}

func (c *Client) get(ctx context.Context, path string) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, &Error{Message: "build request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Message: "connection failed", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &Error{Status: resp.StatusCode, Message: "authentication failed", Permanent: true}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &Error{Status: resp.StatusCode, Message: "rate limit exceeded"}
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &Error{Status: resp.StatusCode, Message: "api error: " + string(body)}
	}

	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	var payload any
	if err := decoder.Decode(&payload); err != nil {
		return nil, &Error{Message: "decode response", Err: err}
	}
	return payload, nil
}

// unwrapList accepts either a bare JSON array or an object wrapping the array
// under one of the given keys.
func unwrapList(payload any, keys ...string) []any {
	if list, ok := payload.([]any); ok {
		return list
	}
	if wrapper, ok := payload.(map[string]any); ok {
		for _, key := range keys {
			if list, ok := wrapper[key].([]any); ok {
				return list
			}
		}
	}
	return nil
}
