package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/mahaj/community-chat/pkg/model"
)

// Client is the REST side of the subsystem: group lifecycle, durable
// sends, and history backfill. Every call uses the request timeout and
// never retries on its own; retry policy belongs to the caller, which
// reuses the idempotency token so a retried send cannot duplicate.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
}

func New(baseURL, bearerToken string) *Client {
	return &Client{
		http:    &http.Client{Timeout: 10 * time.Second},
		baseURL: baseURL,
		token:   bearerToken,
	}
}

// Login exchanges a user id for a dev token on servers that expose the
// login endpoint.
func Login(baseURL, userID string) (string, error) {
	reqBody, _ := json.Marshal(map[string]string{"user_id": userID})
	httpClient := &http.Client{Timeout: 10 * time.Second}

	resp, err := httpClient.Post(baseURL+"/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", model.Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("login failed: %s", string(body))
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Token, nil
}

func (c *Client) Groups(ctx context.Context) ([]model.Group, error) {
	var out []model.Group
	err := c.do(ctx, http.MethodGet, "/groups", nil, &out)
	return out, err
}

func (c *Client) CreateGroup(ctx context.Context, name, description string, memberIDs []string) (model.Group, error) {
	in := map[string]interface{}{
		"name":        name,
		"description": description,
		"member_ids":  memberIDs,
	}
	var out model.Group
	err := c.do(ctx, http.MethodPost, "/groups", in, &out)
	return out, err
}

func (c *Client) DeleteGroup(ctx context.Context, groupID string) error {
	return c.do(ctx, http.MethodDelete, "/groups/"+groupID, nil, nil)
}

func (c *Client) LeaveGroup(ctx context.Context, groupID string) error {
	return c.do(ctx, http.MethodPost, "/groups/"+groupID+"/leave", nil, nil)
}

// History backfills newest-first; pass before=0 for the newest page and
// the last id of a page to fetch the older one.
func (c *Client) History(ctx context.Context, roomID string, before int64, limit int) ([]model.Message, error) {
	path := "/groups/" + roomID + "/messages?limit=" + strconv.Itoa(limit)
	if before > 0 {
		path += "&before=" + strconv.FormatInt(before, 10)
	}
	var out []model.Message
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// Send durably appends a message. token is the client idempotency token
// from the optimistic entry; reuse it on a retry of the same send.
func (c *Client) Send(ctx context.Context, roomID, text, token string) (model.Message, error) {
	in := map[string]string{
		"text":         text,
		"client_token": token,
	}
	var out model.Message
	err := c.do(ctx, http.MethodPost, "/groups/"+roomID+"/messages", in, &out)
	return out, err
}

func (c *Client) Online(ctx context.Context, roomID string) ([]string, error) {
	var out []string
	err := c.do(ctx, http.MethodGet, "/groups/"+roomID+"/presence", nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return model.Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return statusError(resp)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// statusError maps HTTP statuses back onto the shared error taxonomy
// so callers branch with errors.Is exactly as they would server-side.
func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	reason := string(bytes.TrimSpace(body))

	var base error
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		base = model.ErrUnauthenticated
	case http.StatusForbidden:
		base = model.ErrPermissionDenied
	case http.StatusBadRequest:
		base = model.ErrValidation
	case http.StatusNotFound:
		base = model.ErrNotFound
	case http.StatusServiceUnavailable:
		base = model.ErrUnavailable
	default:
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, reason)
	}

	return fmt.Errorf("%w: %s", base, reason)
}
