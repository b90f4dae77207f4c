// Copyright 2024-2026 Aiku AI

// Package mastodon implements the mirror's target collaborator over the
// Mastodon REST API.
package mastodon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/chanmirror/pkg/mirror"
)

// attachmentsProcessingError is the exact message Mastodon returns for
// the transient publish failure while media is still being encoded.
const attachmentsProcessingError = "Cannot attach files that have not finished processing. Try again in a moment!"

// Client talks to one Mastodon instance as one account.
type Client struct {
	log      zerolog.Logger
	http     *http.Client
	instance string
	token    string
}

var _ mirror.Target = (*Client)(nil)

// NewClient creates a client for the given instance base URL and access
// token.
func NewClient(instance, accessToken string, log zerolog.Logger) *Client {
	return &Client{
		log:      log.With().Str("component", "mastodon").Logger(),
		http:     &http.Client{Timeout: 5 * time.Minute},
		instance: strings.TrimSuffix(instance, "/"),
		token:    accessToken,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.instance+path, body)
	if err != nil {
		return fmt.Errorf("failed to prepare request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
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
		return c.asError(resp.StatusCode, data)
	}
	if out != nil && len(data) > 0 {
		if err = json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

func (c *Client) asError(code int, body []byte) error {
	var ae apiError
	_ = json.Unmarshal(body, &ae)
	c.log.Debug().Int("status", code).Str("body", string(body)).Msg("API error response")
	if code == http.StatusNotFound {
		return mirror.ErrNotFound
	}
	if ae.Error == attachmentsProcessingError {
		return mirror.ErrAttachmentsProcessing
	}
	if ae.Error != "" {
		return fmt.Errorf("mastodon API error (HTTP %d): %s", code, ae.Error)
	}
	return fmt.Errorf("mastodon API error: HTTP %d", code)
}

func (c *Client) form(ctx context.Context, method, path string, form url.Values, out any) error {
	return c.do(ctx, method, path, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", out)
}

// GetCapabilities implements mirror.Target via GET /api/v2/instance.
func (c *Client) GetCapabilities(ctx context.Context) (*mirror.Capabilities, error) {
	var inst instanceV2
	if err := c.do(ctx, http.MethodGet, "/api/v2/instance", nil, "", &inst); err != nil {
		return nil, err
	}
	cfg := inst.Configuration
	return &mirror.Capabilities{
		MaxContentLength:     cfg.Statuses.MaxCharacters,
		MaxAttachments:       cfg.Statuses.MaxMediaAttachments,
		URLReservedChars:     cfg.Statuses.CharactersReservedPerURL,
		MaxImageBytes:        cfg.MediaAttachments.ImageSizeLimit,
		MaxVideoBytes:        cfg.MediaAttachments.VideoSizeLimit,
		MaxDescriptionLength: int(cfg.MediaAttachments.DescriptionLimit),
		SupportedMIMETypes:   cfg.MediaAttachments.SupportedMimeTypes,
		Polls: mirror.PollLimits{
			MinDuration:     time.Duration(cfg.Polls.MinExpiration) * time.Second,
			MaxDuration:     time.Duration(cfg.Polls.MaxExpiration) * time.Second,
			MaxOptions:      cfg.Polls.MaxOptions,
			MaxOptionLength: cfg.Polls.MaxCharactersPerOption,
		},
	}, nil
}

// CurrentAccount implements mirror.Target.
func (c *Client) CurrentAccount(ctx context.Context) (*mirror.Account, error) {
	var acc account
	if err := c.do(ctx, http.MethodGet, "/api/v1/accounts/verify_credentials", nil, "", &acc); err != nil {
		return nil, err
	}
	return &mirror.Account{ID: acc.ID, Username: acc.Username}, nil
}

func publishForm(req *mirror.PublishRequest) url.Values {
	form := url.Values{}
	form.Set("status", req.Content)
	if req.SpoilerTitle != "" {
		form.Set("spoiler_text", req.SpoilerTitle)
	}
	if req.ReplyToID != "" {
		form.Set("in_reply_to_id", req.ReplyToID)
	}
	for _, a := range req.Attachments {
		form.Add("media_ids[]", a.ID)
	}
	if req.Poll != nil {
		for _, opt := range req.Poll.Options {
			form.Add("poll[options][]", opt)
		}
		form.Set("poll[expires_in]", fmt.Sprintf("%d", int64(req.Poll.Duration.Seconds())))
		if req.Poll.Multiple {
			form.Set("poll[multiple]", "true")
		}
		if req.Poll.HideTotals {
			form.Set("poll[hide_totals]", "true")
		}
	}
	if req.Visibility != "" {
		form.Set("visibility", string(req.Visibility))
	}
	if req.Locale != "" {
		form.Set("language", req.Locale)
	}
	return form
}

// Publish implements mirror.Target via POST /api/v1/statuses.
func (c *Client) Publish(ctx context.Context, req *mirror.PublishRequest) (*mirror.Post, error) {
	var st status
	if err := c.form(ctx, http.MethodPost, "/api/v1/statuses", publishForm(req), &st); err != nil {
		return nil, err
	}
	return statusToPost(&st), nil
}

// Edit implements mirror.Target via PUT /api/v1/statuses/:id.
func (c *Client) Edit(ctx context.Context, id string, req *mirror.EditRequest) (*mirror.Post, error) {
	form := url.Values{}
	form.Set("status", req.Content)
	form.Set("spoiler_text", req.SpoilerTitle)
	for _, a := range req.Attachments {
		form.Add("media_ids[]", a.ID)
	}
	if req.Locale != "" {
		form.Set("language", req.Locale)
	}
	var st status
	if err := c.form(ctx, http.MethodPut, "/api/v1/statuses/"+url.PathEscape(id), form, &st); err != nil {
		return nil, err
	}
	return statusToPost(&st), nil
}

// Get implements mirror.Target. It combines the status entity with its
// raw source so callers can compare text without unrendering HTML.
func (c *Client) Get(ctx context.Context, id string) (*mirror.Post, error) {
	var st status
	if err := c.do(ctx, http.MethodGet, "/api/v1/statuses/"+url.PathEscape(id), nil, "", &st); err != nil {
		return nil, err
	}
	post := statusToPost(&st)
	var src statusSource
	if err := c.do(ctx, http.MethodGet, "/api/v1/statuses/"+url.PathEscape(id)+"/source", nil, "", &src); err != nil {
		return nil, err
	}
	post.Text = src.Text
	post.SpoilerTitle = src.SpoilerText
	return post, nil
}

// Delete implements mirror.Target; a 404 maps to mirror.ErrNotFound.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/statuses/"+url.PathEscape(id), nil, "", nil)
}

// Pin implements mirror.Target.
func (c *Client) Pin(ctx context.Context, id string) (*mirror.Post, error) {
	var st status
	if err := c.do(ctx, http.MethodPost, "/api/v1/statuses/"+url.PathEscape(id)+"/pin", nil, "", &st); err != nil {
		return nil, err
	}
	return statusToPost(&st), nil
}

// Unpin implements mirror.Target.
func (c *Client) Unpin(ctx context.Context, id string) (*mirror.Post, error) {
	var st status
	if err := c.do(ctx, http.MethodPost, "/api/v1/statuses/"+url.PathEscape(id)+"/unpin", nil, "", &st); err != nil {
		return nil, err
	}
	return statusToPost(&st), nil
}

// UploadAttachment implements mirror.Target via POST /api/v2/media.
// A 202/206 means the attachment is accepted but still processing; the
// returned ref is already usable for publishing (the publish call
// reports the transient condition if it is not ready yet).
func (c *Client) UploadAttachment(ctx context.Context, data []byte, filename, description string) (*mirror.AttachmentRef, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to build upload form: %w", err)
	}
	if _, err = part.Write(data); err != nil {
		return nil, fmt.Errorf("failed to build upload form: %w", err)
	}
	if description != "" {
		if err = mw.WriteField("description", description); err != nil {
			return nil, fmt.Errorf("failed to build upload form: %w", err)
		}
	}
	if err = mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to build upload form: %w", err)
	}
	var media mediaAttachment
	if err = c.do(ctx, http.MethodPost, "/api/v2/media", &buf, mw.FormDataContentType(), &media); err != nil {
		return nil, err
	}
	return &mirror.AttachmentRef{ID: media.ID, Type: media.Type}, nil
}

// ListPinned implements mirror.Target via the account statuses endpoint.
func (c *Client) ListPinned(ctx context.Context, accountID string) ([]*mirror.Post, error) {
	var statuses []status
	path := "/api/v1/accounts/" + url.PathEscape(accountID) + "/statuses?pinned=true"
	if err := c.do(ctx, http.MethodGet, path, nil, "", &statuses); err != nil {
		return nil, err
	}
	posts := make([]*mirror.Post, len(statuses))
	for i := range statuses {
		posts[i] = statusToPost(&statuses[i])
	}
	return posts, nil
}

func statusToPost(st *status) *mirror.Post {
	post := &mirror.Post{
		ID:           st.ID,
		URL:          st.URL,
		Visibility:   mirror.Visibility(st.Visibility),
		SpoilerTitle: st.SpoilerText,
		Text:         st.Text,
	}
	for _, m := range st.MediaAttachments {
		post.Attachments = append(post.Attachments, &mirror.AttachmentRef{ID: m.ID, Type: m.Type})
	}
	return post
}
