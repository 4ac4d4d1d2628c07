// Package api is the client for the chat server's REST endpoints.
package api

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

	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/rs/zerolog"
)

// TokenCookie is the cookie the server reads the session token from.
const TokenCookie = "token"

type CreateRoomRequest struct {
	Name        string
	Description string
	IsPrivate   bool
}

type actionResponse struct {
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
	Room    *types.Room `json:"room,omitempty"`
}

type onlineUsersResponse struct {
	Usernames []string `json:"usernames"`
}

type onlineCountResponse struct {
	Count int `json:"count"`
}

type editMessageRequest struct {
	Content string `json:"content"`
}

type Client struct {
	base  *url.URL
	token string
	hc    *http.Client
	log   zerolog.Logger
}

// NewClient returns a client for the server at baseURL. A nil hc uses
// http.DefaultClient.
func NewClient(log zerolog.Logger, baseURL, token string, hc *http.Client) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if hc == nil {
		hc = http.DefaultClient
	}

	return &Client{
		base:  u,
		token: token,
		hc:    hc,
		log:   log.With().Str("component", "api").Logger(),
	}, nil
}

func (c *Client) endpoint(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/" + strings.Join(escaped, "/")
	return u.String()
}

func (c *Client) do(ctx context.Context, method, endpoint, contentType string, body io.Reader, v any) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.AddCookie(&http.Cookie{Name: TokenCookie, Value: c.token})
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return NewTransportError(err)
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("method", method).
		Str("url", endpoint).
		Int("status", resp.StatusCode).
		Msg("api request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// action endpoints explain failures in the body
		var ar actionResponse
		if json.NewDecoder(resp.Body).Decode(&ar) == nil && ar.Error != "" {
			return NewRejectedError(resp.StatusCode, ar.Error)
		}
		return NewStatusError(resp.StatusCode)
	}

	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return NewDecodeError(resp.StatusCode, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, endpoint string, v any) error {
	return c.do(ctx, http.MethodGet, endpoint, "", nil, v)
}

// action performs a request answered with {success, error?}.
func (c *Client) action(ctx context.Context, method, endpoint, contentType string, body io.Reader) (actionResponse, error) {
	var ar actionResponse
	if err := c.do(ctx, method, endpoint, contentType, body, &ar); err != nil {
		return ar, err
	}
	if !ar.Success {
		return ar, NewRejectedError(http.StatusOK, ar.Error)
	}
	return ar, nil
}

// ListUsers fetches the user directory.
func (c *Client) ListUsers(ctx context.Context) ([]types.User, error) {
	var users []types.User
	if err := c.get(ctx, c.endpoint("users"), &users); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// RoomMessages fetches a room's history as raw records. Records are
// validated by the caller.
func (c *Client) RoomMessages(ctx context.Context, roomId string) ([]json.RawMessage, error) {
	var batch []json.RawMessage
	if err := c.get(ctx, c.endpoint("room_messages", roomId), &batch); err != nil {
		return nil, fmt.Errorf("room messages %s: %w", roomId, err)
	}
	return batch, nil
}

func (c *Client) DirectMessages(ctx context.Context, userId int) ([]json.RawMessage, error) {
	var batch []json.RawMessage
	if err := c.get(ctx, c.endpoint("direct_messages", strconv.Itoa(userId)), &batch); err != nil {
		return nil, fmt.Errorf("direct messages %d: %w", userId, err)
	}
	return batch, nil
}

func (c *Client) OnlineUsers(ctx context.Context) ([]string, error) {
	var resp onlineUsersResponse
	if err := c.get(ctx, c.endpoint("online_users"), &resp); err != nil {
		return nil, fmt.Errorf("online users: %w", err)
	}
	return resp.Usernames, nil
}

func (c *Client) OnlineCount(ctx context.Context) (int, error) {
	var resp onlineCountResponse
	if err := c.get(ctx, c.endpoint("online_count"), &resp); err != nil {
		return 0, fmt.Errorf("online count: %w", err)
	}
	return resp.Count, nil
}

func (c *Client) CreateRoom(ctx context.Context, req CreateRoomRequest) (types.Room, error) {
	form := url.Values{}
	form.Set("name", req.Name)
	form.Set("description", req.Description)
	form.Set("is_private", strconv.FormatBool(req.IsPrivate))

	ar, err := c.action(ctx, http.MethodPost, c.endpoint("create_room"),
		"application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		return types.Room{}, fmt.Errorf("create room: %w", err)
	}
	if ar.Room == nil {
		return types.Room{Name: req.Name, Description: req.Description, IsPrivate: req.IsPrivate}, nil
	}
	return *ar.Room, nil
}

func (c *Client) DeleteRoom(ctx context.Context, roomId int) error {
	if _, err := c.action(ctx, http.MethodDelete, c.endpoint("delete_room", strconv.Itoa(roomId)), "", nil); err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	return nil
}

func (c *Client) EditMessage(ctx context.Context, messageId int, content string) error {
	body, err := json.Marshal(editMessageRequest{Content: content})
	if err != nil {
		return fmt.Errorf("encode edit: %w", err)
	}

	if _, err := c.action(ctx, http.MethodPut, c.endpoint("edit_message", strconv.Itoa(messageId)),
		"application/json", bytes.NewReader(body)); err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	return nil
}

func (c *Client) DeleteMessage(ctx context.Context, messageId int) error {
	if _, err := c.action(ctx, http.MethodDelete, c.endpoint("delete_message", strconv.Itoa(messageId)), "", nil); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// ClearAllChatData asks the server to drop every message and every room
// except the default one. Admin only.
func (c *Client) ClearAllChatData(ctx context.Context) error {
	if _, err := c.action(ctx, http.MethodDelete, c.endpoint("clear_all_chat_data"), "", nil); err != nil {
		return fmt.Errorf("clear all chat data: %w", err)
	}
	return nil
}
