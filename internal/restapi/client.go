package restapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/matheus3301/pairchat/internal/chat"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// ErrUnauthorized is returned when a service answers 401.
var ErrUnauthorized = errors.New("request unauthorized")

// Config points the client at the message and realtime services.
type Config struct {
	MessageServiceURL  string
	RealtimeServiceURL string
	Timeout            time.Duration
	CacheTTL           time.Duration
}

// Page is one page of a paginated listing.
type Page[T any] struct {
	Records []T   `json:"records"`
	Total   int64 `json:"total"`
	Current int64 `json:"current"`
	Size    int64 `json:"size"`
	Pages   int64 `json:"pages"`
	HasNext bool  `json:"hasNext"`
}

// SearchRequest filters a message search. Zero-valued optional fields are omitted.
type SearchRequest struct {
	UserID         string `json:"userId"`
	Keyword        string `json:"keyword"`
	ChatID         string `json:"chatId,omitempty"`
	Page           int    `json:"page"`
	Size           int    `json:"size"`
	StartTimestamp int64  `json:"startTimestamp,omitempty"`
	EndTimestamp   int64  `json:"endTimestamp,omitempty"`
}

// MarkReadRequest marks messages in a chat as read by UserID.
type MarkReadRequest struct {
	ChatID    string `json:"chatId"`
	UserID    string `json:"userId"`
	MessageID string `json:"messageId,omitempty"`
}

// Upload is the media service answer to a file upload.
type Upload struct {
	Success     bool   `json:"success"`
	URL         string `json:"url"`
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize"`
	ContentType string `json:"contentType"`
	Error       string `json:"error,omitempty"`
}

// Media converts the upload into message media metadata.
func (u *Upload) Media() *chat.Media {
	return &chat.Media{URL: u.URL, FileName: u.FileName, FileSize: u.FileSize}
}

// OnlineStatus is a user's presence as seen by the realtime service.
type OnlineStatus struct {
	UserID    string `json:"userId"`
	Online    bool   `json:"online"`
	Server    string `json:"server,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Health reports which backend services answered.
type Health struct {
	MessageService  bool
	RealtimeService bool
}

// Client calls the message and realtime REST services.
type Client struct {
	message  *resty.Client
	realtime *resty.Client
	history  *cache.Cache
	logger   *zap.Logger
}

// New creates a client. token is read before every request and sent as a
// bearer credential when non-empty.
func New(cfg Config, token func() string, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	return &Client{
		message:  newResty(cfg.MessageServiceURL, cfg.Timeout, token),
		realtime: newResty(cfg.RealtimeServiceURL, cfg.Timeout, token),
		history:  cache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		logger:   logger,
	}
}

func newResty(baseURL string, timeout time.Duration, token func() string) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal).
		OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
			if token == nil {
				return nil
			}
			if tok := token(); tok != "" {
				r.SetAuthToken(tok)
			}
			return nil
		})
}

// Conversations fetches one page of the user's conversation list.
func (c *Client) Conversations(ctx context.Context, userID string, page, size int) (*Page[chat.Conversation], error) {
	var out Page[chat.Conversation]
	resp, err := c.message.R().
		SetContext(ctx).
		SetPathParam("userId", userID).
		SetQueryParams(map[string]string{
			"page": strconv.Itoa(page),
			"size": strconv.Itoa(size),
		}).
		SetResult(&out).
		Get("/api/v1/messages/conversations/{userId}")
	if err := c.check("list conversations", resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// History fetches one page of a chat's messages, oldest first. Pages are
// cached per chat and page until ClearCache; force skips the cache.
func (c *Client) History(ctx context.Context, chatID, userID string, page, size int, force bool) (*Page[chat.Message], error) {
	key := fmt.Sprintf("%s/%s/%d/%d", chatID, userID, page, size)
	if !force {
		if v, ok := c.history.Get(key); ok {
			cached := v.(Page[chat.Message])
			cached.Records = slices.Clone(cached.Records)
			return &cached, nil
		}
	}

	var out Page[chat.Message]
	resp, err := c.message.R().
		SetContext(ctx).
		SetPathParam("chatId", chatID).
		SetQueryParams(map[string]string{
			"userId": userID,
			"page":   strconv.Itoa(page),
			"size":   strconv.Itoa(size),
		}).
		SetResult(&out).
		Get("/api/v1/messages/history/{chatId}")
	if err := c.check("load history", resp, err); err != nil {
		return nil, err
	}
	normalize(out.Records)
	chat.SortMessages(out.Records)
	stored := out
	stored.Records = slices.Clone(out.Records)
	c.history.Set(key, stored, cache.DefaultExpiration)
	return &out, nil
}

// Search runs a keyword search over the user's messages.
func (c *Client) Search(ctx context.Context, req SearchRequest) (*Page[chat.Message], error) {
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.Size <= 0 {
		req.Size = 20
	}
	var out Page[chat.Message]
	resp, err := c.message.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/api/v1/messages/search")
	if err := c.check("search messages", resp, err); err != nil {
		return nil, err
	}
	normalize(out.Records)
	return &out, nil
}

// MarkRead marks messages in a chat as read.
func (c *Client) MarkRead(ctx context.Context, req MarkReadRequest) error {
	resp, err := c.message.R().
		SetContext(ctx).
		SetBody(req).
		Post("/api/v1/messages/mark-read")
	return c.check("mark read", resp, err)
}

// UploadMedia sends a file to the media upload endpoint.
func (c *Client) UploadMedia(ctx context.Context, fileName string, r io.Reader, senderID, receiverID string) (*Upload, error) {
	var out Upload
	resp, err := c.realtime.R().
		SetContext(ctx).
		SetFileReader("file", fileName, r).
		SetFormData(map[string]string{
			"senderId":   senderID,
			"receiverId": receiverID,
		}).
		SetResult(&out).
		Post("/api/chat/upload-media")
	if err := c.check("upload media", resp, err); err != nil {
		return nil, err
	}
	if !out.Success {
		reason := out.Error
		if reason == "" {
			reason = "upload failed"
		}
		return nil, fmt.Errorf("upload media: %s", reason)
	}
	return &out, nil
}

// OnlineStatus asks the realtime service whether userID is connected.
func (c *Client) OnlineStatus(ctx context.Context, userID string) (*OnlineStatus, error) {
	var out OnlineStatus
	resp, err := c.realtime.R().
		SetContext(ctx).
		SetPathParam("userId", userID).
		SetResult(&out).
		Get("/api/chat/online/status/{userId}")
	if err := c.check("online status", resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health probes both services. It never fails; unreachable services report false.
func (c *Client) Health(ctx context.Context) Health {
	ping := func(rc *resty.Client, path string) bool {
		resp, err := rc.R().SetContext(ctx).Get(path)
		return err == nil && resp.IsSuccess()
	}
	return Health{
		MessageService:  ping(c.message, "/api/v1/messages/test"),
		RealtimeService: ping(c.realtime, "/api/chat/health"),
	}
}

// ClearCache drops every cached history page.
func (c *Client) ClearCache() {
	c.history.Flush()
}

func (c *Client) check(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if resp.StatusCode() == http.StatusUnauthorized {
		c.logger.Warn("request unauthorized", zap.String("op", op), zap.String("url", resp.Request.URL))
		return fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}
	if resp.IsError() {
		c.logger.Warn("request failed",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode()),
			zap.String("body", resp.String()))
		return fmt.Errorf("%s: status %s", op, resp.Status())
	}
	return nil
}

func normalize(msgs []chat.Message) {
	for i := range msgs {
		msgs[i].Status = chat.ParseStatus(string(msgs[i].Status))
		msgs[i].Type = chat.ParseMessageType(string(msgs[i].Type))
	}
}
