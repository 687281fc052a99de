// Package feed polls a live room for new comments.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/opencode-ai/danmu/internal/logging"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// Feed errors.
var (
	ErrInvalidRoomID    = errors.New("room id must be numeric")
	ErrUnexpectedStatus = errors.New("unexpected status")
	ErrMalformedBody    = errors.New("malformed response body")
)

const maxBodyBytes = 1 << 20

// Comment is one live comment.
type Comment struct {
	Text     string `json:"text"`
	Nickname string `json:"nickname"`
	UID      int64  `json:"uid"`
	Timeline string `json:"timeline"`
}

// Fetcher returns the recent comments of a room, oldest first.
type Fetcher interface {
	Fetch(ctx context.Context, roomID string) ([]Comment, error)
}

// ClientConfig configures the HTTP client.
type ClientConfig struct {
	Endpoint  string
	UserAgent string
	Timeout   time.Duration
}

// Client fetches comment history over HTTP.
type Client struct {
	endpoint  string
	userAgent string
	http      *http.Client
	logger    zerolog.Logger
}

// NewClient creates a Client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		endpoint:  cfg.Endpoint,
		userAgent: cfg.UserAgent,
		http:      &http.Client{Timeout: cfg.Timeout},
		logger:    logging.Component("feed"),
	}
}

// Fetch implements Fetcher. A response with a non-zero code is logged and
// yields no comments.
func (c *Client) Fetch(ctx context.Context, roomID string) ([]Comment, error) {
	if !validRoomID(roomID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRoomID, roomID)
	}

	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("roomid", roomID)
	q.Set("room_type", "0")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Referer", "https://live.bilibili.com/"+roomID)
	req.Header.Set("Origin", "https://live.bilibili.com")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch room %s: %w", roomID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: room %s: %d", ErrUnexpectedStatus, roomID, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	comments, ok, err := ParseHistory(body)
	if err != nil {
		return nil, err
	}
	if !ok {
		c.logger.Warn().Str("room_id", roomID).Msg("no comment data for room")
	}
	return comments, nil
}

// ParseHistory extracts data.room[] from a history response. ok is false
// when the response carries a non-zero code or no data.
func ParseHistory(body []byte) (comments []Comment, ok bool, err error) {
	if !gjson.ValidBytes(body) {
		return nil, false, ErrMalformedBody
	}
	doc := gjson.ParseBytes(body)
	if doc.Get("code").Int() != 0 || !doc.Get("data").Exists() {
		return nil, false, nil
	}

	doc.Get("data.room").ForEach(func(_, entry gjson.Result) bool {
		comments = append(comments, Comment{
			Text:     entry.Get("text").String(),
			Nickname: entry.Get("nickname").String(),
			UID:      entry.Get("uid").Int(),
			Timeline: entry.Get("timeline").String(),
		})
		return true
	})
	return comments, true, nil
}

func validRoomID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
