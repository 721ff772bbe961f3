package solarwatt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const maxItemsBodyBytes = 32 << 20

var utf8BOM = []byte("\xef\xbb\xbf")

// Item is one named value reported by the gateway.
type Item struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	State State  `json:"state"`
	Label string `json:"label"`
}

// State keeps the raw item state. The gateway sends strings ("87 %"),
// but numbers and booleans show up on some firmwares.
type State string

func (s *State) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = State(str)
		return nil
	}
	if data[0] == '{' || data[0] == '[' {
		return fmt.Errorf("solarwatt: unsupported item state %s", string(data))
	}
	*s = State(data)
	return nil
}

func (s State) String() string {
	return string(s)
}

// FetchAllItems returns every item the gateway reports.
func (c *Client) FetchAllItems(ctx context.Context) ([]Item, error) {
	var items []Item
	if err := c.getJSON(ctx, "items", &items, ITEMS_PATH); err != nil {
		return nil, err
	}
	c.logger.Debug("solarwatt: items fetched", zap.Int("count", len(items)))
	return items, nil
}

// FetchItem returns a single item by name.
func (c *Client) FetchItem(ctx context.Context, name string) (Item, error) {
	if name == "" {
		return Item{}, &FetchError{Resource: "item", Reason: "empty item name"}
	}
	var item Item
	if err := c.getJSON(ctx, "item "+name, &item, ITEMS_PATH, name); err != nil {
		return Item{}, err
	}
	return item, nil
}

func (c *Client) getJSON(ctx context.Context, resource string, dest any, path string, segments ...string) error {
	if err := c.EnsureAuthenticated(ctx); err != nil {
		return err
	}

	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint.resolve(path, segments...), nil)
	if err != nil {
		return &FetchError{Resource: resource, Reason: "could not build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &FetchError{Resource: resource, Reason: "request failed", Err: c.wrapClosed(err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxItemsBodyBytes))
	if err != nil {
		return &FetchError{Resource: resource, StatusCode: resp.StatusCode, Reason: "could not read body", Err: c.wrapClosed(err)}
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return c.sessionExpired(resource, resp.StatusCode, "gateway refused the session")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &FetchError{Resource: resource, StatusCode: resp.StatusCode, Reason: "unexpected status"}
	}
	if landedOnLogin(resp) {
		return c.sessionExpired(resource, resp.StatusCode, "redirected to login page")
	}

	isJSON := isJSONContentType(resp.Header.Get("Content-Type"))
	if !isJSON {
		c.logger.Debug("solarwatt: content type is not json, parsing body as text",
			zap.String("resource", resource), zap.String("contentType", resp.Header.Get("Content-Type")))
		body = bytes.TrimSpace(bytes.TrimPrefix(body, utf8BOM))
	}

	if err := json.Unmarshal(body, dest); err != nil {
		if !isJSON && containsLoginPage(body) {
			return c.sessionExpired(resource, resp.StatusCode, "login page returned instead of data")
		}
		c.logger.Error("solarwatt: could not decode response", zap.String("resource", resource), zap.Error(err))
		return &FetchError{Resource: resource, StatusCode: resp.StatusCode, Reason: "unparsable body", Err: err}
	}
	return nil
}

func (c *Client) sessionExpired(resource string, status int, reason string) error {
	c.logger.Info("solarwatt: session expired, login on next call", zap.String("resource", resource), zap.Int("status", status))
	c.Invalidate()
	return &FetchError{Resource: resource, StatusCode: status, Reason: reason, SessionExpired: true}
}

func isJSONContentType(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// ValidateGateway checks that the endpoint accepts the credential and serves items.
// It returns the number of items reported.
func ValidateGateway(ctx context.Context, endpoint Endpoint, timeout time.Duration, logger *zap.Logger) (int, error) {
	client, err := NewClient(endpoint, timeout, logger)
	if err != nil {
		return 0, err
	}
	defer client.Close()

	if err := client.Login(ctx); err != nil {
		return 0, err
	}
	items, err := client.FetchAllItems(ctx)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}
