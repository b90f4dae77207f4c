// Copyright 2024-2026 Aiku AI

// Package telegram implements the mirror's source collaborator as a
// client of an MTProto gateway sidecar.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/aiku/chanmirror/pkg/mirror"
)

// Client consumes one channel through the gateway's REST and websocket
// endpoints.
type Client struct {
	log     zerolog.Logger
	http    *http.Client
	baseURL string
	channel string
}

var _ mirror.Source = (*Client)(nil)

// NewClient creates a gateway client for the given base URL and channel
// name.
func NewClient(gatewayURL, channel string, log zerolog.Logger) *Client {
	return &Client{
		log:     log.With().Str("component", "telegram").Logger(),
		http:    &http.Client{Timeout: 5 * time.Minute},
		baseURL: strings.TrimSuffix(gatewayURL, "/"),
		channel: channel,
	}
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("channel", c.channel)
	reqURL := c.baseURL + path + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to prepare request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		var we wireError
		if json.Unmarshal(data, &we) == nil && we.Error != "" {
			return fmt.Errorf("gateway error (HTTP %d): %s", resp.StatusCode, we.Error)
		}
		return fmt.Errorf("gateway error: HTTP %d", resp.StatusCode)
	}
	if out != nil {
		if err = json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// Login implements mirror.Source.
func (c *Client) Login(ctx context.Context) (*mirror.Identity, error) {
	var resp wireLogin
	if err := c.get(ctx, "/v1/login", nil, &resp); err != nil {
		return nil, err
	}
	c.log.Info().
		Int64("user_id", resp.UserID).
		Str("username", resp.Username).
		Int64("channel_id", resp.ChannelID).
		Msg("Logged in through gateway")
	return &mirror.Identity{
		UserID:    resp.UserID,
		Username:  resp.Username,
		ChannelID: resp.ChannelID,
		Channel:   resp.Channel,
	}, nil
}

// CurrentSequence implements mirror.Source.
func (c *Client) CurrentSequence(ctx context.Context) (int64, error) {
	var resp wireSequence
	if err := c.get(ctx, "/v1/sequence", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Sequence, nil
}

// FetchDifference implements mirror.Source.
func (c *Client) FetchDifference(ctx context.Context, since int64) (*mirror.Difference, error) {
	query := url.Values{"since": {strconv.FormatInt(since, 10)}}
	var resp wireDifference
	if err := c.get(ctx, "/v1/difference", query, &resp); err != nil {
		return nil, err
	}
	diff := &mirror.Difference{
		NewSequence: resp.NewSequence,
		Final:       resp.Final,
	}
	for _, wi := range resp.Items {
		item, err := wi.toMirror()
		if err != nil {
			return nil, fmt.Errorf("invalid difference page: %w", err)
		}
		diff.Items = append(diff.Items, item)
	}
	for _, wn := range resp.Others {
		notif, err := wn.toMirror()
		if err != nil {
			return nil, fmt.Errorf("invalid difference page: %w", err)
		}
		diff.Others = append(diff.Others, notif)
	}
	return diff, nil
}

// Updates implements mirror.Source. It holds one websocket open against
// the gateway and closes the returned channel when the connection ends
// or the context is canceled. Reconnecting is the caller's concern: the
// pipeline re-resolves the backlog on restart anyway.
func (c *Client) Updates(ctx context.Context) (<-chan mirror.Batch, error) {
	wsURL, err := c.websocketURL()
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open update stream: %w", err)
	}
	batches := make(chan mirror.Batch)
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go func() {
		defer close(batches)
		for {
			var wb wireBatch
			if err := conn.ReadJSON(&wb); err != nil {
				if ctx.Err() == nil {
					c.log.Error().Err(err).Msg("Update stream closed")
				}
				return
			}
			batch := mirror.Batch{}
			for _, wn := range wb.Notifications {
				notif, err := wn.toMirror()
				if err != nil {
					c.log.Warn().Err(err).Msg("Dropping malformed notification")
					continue
				}
				batch.Notifications = append(batch.Notifications, notif)
			}
			if len(batch.Notifications) == 0 {
				continue
			}
			select {
			case batches <- batch:
			case <-ctx.Done():
				return
			}
		}
	}()
	return batches, nil
}

func (c *Client) websocketURL() (string, error) {
	parsed, err := url.Parse(c.baseURL + "/v1/updates")
	if err != nil {
		return "", fmt.Errorf("invalid gateway URL: %w", err)
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid gateway URL scheme %q", parsed.Scheme)
	}
	query := parsed.Query()
	query.Set("channel", c.channel)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// ListPinned implements mirror.Source.
func (c *Client) ListPinned(ctx context.Context) ([]int64, error) {
	var resp wirePinned
	if err := c.get(ctx, "/v1/pinned", nil, &resp); err != nil {
		return nil, err
	}
	return resp.IDs, nil
}

// ExportLink implements mirror.Source.
func (c *Client) ExportLink(ctx context.Context, itemID int64, grouped bool) (string, error) {
	query := url.Values{
		"id":      {strconv.FormatInt(itemID, 10)},
		"grouped": {strconv.FormatBool(grouped)},
	}
	var resp wireLink
	if err := c.get(ctx, "/v1/link", query, &resp); err != nil {
		return "", err
	}
	return resp.Link, nil
}

// DownloadAttachment implements mirror.Source. The gateway streams the
// raw attachment bytes for the item's primary media.
func (c *Client) DownloadAttachment(ctx context.Context, item *mirror.SourceItem) ([]byte, error) {
	query := url.Values{
		"channel": {c.channel},
		"id":      {strconv.FormatInt(item.ID, 10)},
	}
	reqURL := c.baseURL + "/v1/media?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("gateway error: HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment: %w", err)
	}
	return data, nil
}
