// Package staffchat provides a client for the staff chat HTTP API.
package staffchat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/eldtechnologies/staffchat/internal/chat"
	"github.com/eldtechnologies/staffchat/internal/contacts"
	"github.com/eldtechnologies/staffchat/internal/handlers"
)

// Client is a staff chat API client authenticated with a bearer token.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewClient creates a new client.
func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("staffchat error %d (%s): %s", e.Status, e.Code, e.Message)
}

// do performs an HTTP request and returns the status and raw body.
func (c *Client) do(ctx context.Context, method, path string, in interface{}) (int, []byte, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return 0, nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}

// doRequest performs an HTTP request and decodes a JSON response into out
// when out is non-nil. Error statuses become *APIError.
func (c *Client) doRequest(ctx context.Context, method, path string, in, out interface{}) error {
	status, respBody, err := c.do(ctx, method, path, in)
	if err != nil {
		return err
	}

	if status >= 400 {
		var errResp handlers.ErrorResponse
		_ = json.Unmarshal(respBody, &errResp)
		return &APIError{Status: status, Code: errResp.Code, Message: errResp.Error}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// Health returns the server health report. A degraded server still
// answers with a report, so a 503 is not an error here.
func (c *Client) Health(ctx context.Context) (*handlers.HealthResponse, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusServiceUnavailable {
		return nil, &APIError{Status: status, Code: "health", Message: http.StatusText(status)}
	}

	var resp handlers.HealthResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Me returns the authenticated user's profile.
func (c *Client) Me(ctx context.Context) (*handlers.WhoResponse, error) {
	var resp handlers.WhoResponse
	if err := c.doRequest(ctx, http.MethodGet, "/me", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Rooms returns one page of the caller's rooms. An empty cursor starts at
// the most recently active room.
func (c *Client) Rooms(ctx context.Context, cursor string, limit int) (*handlers.RoomListResponse, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/rooms"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp handlers.RoomListResponse
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateRoom creates a named group room.
func (c *Client) CreateRoom(ctx context.Context, name string, participantIDs []string) (*handlers.RoomResponse, error) {
	req := handlers.CreateRoomRequest{Name: name, ParticipantIDs: participantIDs}
	var resp handlers.RoomResponse
	if err := c.doRequest(ctx, http.MethodPost, "/rooms", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StartDirect returns the direct room with targetUserID, creating it on
// first contact.
func (c *Client) StartDirect(ctx context.Context, targetUserID string) (*handlers.DirectResponse, error) {
	req := handlers.StartDirectRequest{TargetUserID: targetUserID}
	var resp handlers.DirectResponse
	if err := c.doRequest(ctx, http.MethodPost, "/rooms/direct", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteRoom removes a room and its history.
func (c *Client) DeleteRoom(ctx context.Context, roomID string) error {
	return c.doRequest(ctx, http.MethodDelete, "/rooms/"+url.PathEscape(roomID), nil, nil)
}

// MarkRead marks the room read for the caller.
func (c *Client) MarkRead(ctx context.Context, roomID string) error {
	return c.doRequest(ctx, http.MethodPatch, "/rooms/"+url.PathEscape(roomID)+"/read", nil, nil)
}

// ListMessages returns the room's messages after sinceID, oldest first.
// It satisfies delivery.MessageLister.
func (c *Client) ListMessages(ctx context.Context, roomID, sinceID string) ([]chat.MessageView, error) {
	path := "/rooms/" + url.PathEscape(roomID) + "/messages"
	if sinceID != "" {
		path += "?since=" + url.QueryEscape(sinceID)
	}

	var resp handlers.MessageListResponse
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// PostMessage sends a message to a room.
func (c *Client) PostMessage(ctx context.Context, roomID, content string) (*chat.MessageView, error) {
	req := handlers.PostMessageRequest{Content: content}
	var resp chat.MessageView
	if err := c.doRequest(ctx, http.MethodPost, "/rooms/"+url.PathEscape(roomID)+"/messages", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteMessage deletes one of the caller's messages.
func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	return c.doRequest(ctx, http.MethodDelete, "/messages/"+url.PathEscape(messageID), nil, nil)
}

// Contacts returns the caller's contact list filtered by query.
func (c *Client) Contacts(ctx context.Context, query string) (*contacts.Contacts, error) {
	path := "/contacts"
	if query != "" {
		path += "?q=" + url.QueryEscape(query)
	}

	var resp contacts.Contacts
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
