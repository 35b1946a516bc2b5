package client

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
)

type (
	ChatSummary struct {
		ID      string   `json:"id"`
		Name    string   `json:"name"`
		Members []string `json:"members"`
	}

	Invitation struct {
		ID        string `json:"id"`
		ChatID    string `json:"chatId"`
		CreatedAt int64  `json:"createdAt"`
		TTLMs     int64  `json:"ttlMs"`
	}

	Redemption struct {
		ChatID      string `json:"chatId"`
		KeyMaterial []byte `json:"keyMaterial,omitempty"`
	}

	// StatusError is a non-2xx HTTP reply.
	StatusError struct {
		Code    int
		Message string
	}
)

func (e *StatusError) Error() string {
	return fmt.Sprintf("server replied %d: %s", e.Code, e.Message)
}

func (c *Client) CreateChat(ctx context.Context, name string) (*ChatSummary, error) {
	var res ChatSummary
	err := c.post(ctx, "/chats", map[string]any{"name": name}, http.StatusCreated, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) CreateInvitation(ctx context.Context, chatID string, joinKey []byte, ttl time.Duration, keyMaterial []byte) (*Invitation, error) {
	body := map[string]any{
		"joinKey":     joinKey,
		"ttlMs":       ttl.Milliseconds(),
		"keyMaterial": keyMaterial,
	}

	var res Invitation
	err := c.post(ctx, fmt.Sprintf("/chats/%s/invitations", url.PathEscape(chatID)), body, http.StatusCreated, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) RedeemInvitation(ctx context.Context, id string, joinKey []byte) (*Redemption, error) {
	var res Redemption
	err := c.post(ctx, fmt.Sprintf("/invitations/%s/redeem", url.PathEscape(id)), map[string]any{"joinKey": joinKey}, http.StatusOK, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) post(ctx context.Context, path string, body any, want int, out any) error {
	scheme := "http"
	if c.cfg.Secure {
		scheme = "https"
	}
	u := url.URL{Scheme: scheme, Host: c.cfg.Host, Path: path}

	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != want {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
