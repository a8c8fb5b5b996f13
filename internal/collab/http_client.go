package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/boyrevue/api.boyvue.com-sub001/internal/domain"
)

// ErrConversationNotFound is returned when the backend does not know the
// conversation.
var ErrConversationNotFound = errors.New("conversation not found")

// HTTPClient talks to the platform's CRUD backend over its internal REST
// API. It implements every collaborator interface. Conversation metadata
// is cached briefly; entitlement checks are never cached, a revoked
// payment must take effect on the next join.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client

	cacheTTL time.Duration
	mu       sync.RWMutex
	cache    map[string]*cachedConversation
}

type cachedConversation struct {
	conv      *Conversation
	expiresAt time.Time
}

// NewHTTPClient creates a platform client.
func NewHTTPClient(baseURL string, timeout, conversationTTL time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		cacheTTL:   conversationTTL,
		cache:      make(map[string]*cachedConversation),
	}
}

type conversationResponse struct {
	ID          string   `json:"id"`
	Kind        string   `json:"kind"`
	PerformerID string   `json:"performer_id"`
	Recipients  []string `json:"recipients"`
}

type entitlementResponse struct {
	Allowed bool `json:"allowed"`
}

// Find resolves conversation metadata, serving from cache when fresh.
func (c *HTTPClient) Find(ctx context.Context, conversationID string) (*Conversation, error) {
	if conv := c.fromCache(conversationID); conv != nil {
		return conv, nil
	}

	var out conversationResponse
	err := c.get(ctx, fmt.Sprintf("/internal/v1/conversations/%s", conversationID), &out)
	if err != nil {
		return nil, err
	}

	conv := &Conversation{
		ID:          out.ID,
		RoomKind:    domain.RoomKind(out.Kind),
		PerformerID: out.PerformerID,
		Recipients:  out.Recipients,
	}
	c.mu.Lock()
	c.cache[conversationID] = &cachedConversation{conv: conv, expiresAt: time.Now().Add(c.cacheTTL)}
	c.mu.Unlock()
	return conv, nil
}

// CanJoinPrivate checks the viewer's entitlement for a private session.
func (c *HTTPClient) CanJoinPrivate(ctx context.Context, performerID, viewerID string) (bool, error) {
	return c.entitled(ctx, "private", performerID, viewerID)
}

// CanJoinGroup checks the viewer's entitlement for a group show.
func (c *HTTPClient) CanJoinGroup(ctx context.Context, performerID, viewerID string) (bool, error) {
	return c.entitled(ctx, "group", performerID, viewerID)
}

func (c *HTTPClient) entitled(ctx context.Context, kind, performerID, viewerID string) (bool, error) {
	var out entitlementResponse
	path := fmt.Sprintf("/internal/v1/performers/%s/entitlements/%s?viewer_id=%s", performerID, kind, viewerID)
	if err := c.get(ctx, path, &out); err != nil {
		return false, err
	}
	return out.Allowed, nil
}

// SetStreamingStatus mirrors the stream status onto the performer record.
func (c *HTTPClient) SetStreamingStatus(ctx context.Context, performerID string, status domain.StreamStatus) error {
	return c.post(ctx, fmt.Sprintf("/internal/v1/performers/%s/streaming-status", performerID),
		map[string]string{"status": string(status)})
}

// SetLiveFlag mirrors the broadcast flag onto the performer record.
func (c *HTTPClient) SetLiveFlag(ctx context.Context, performerID string, live bool) error {
	return c.post(ctx, fmt.Sprintf("/internal/v1/performers/%s/live", performerID),
		map[string]bool{"live": live})
}

// RecordStreamTime adds finished-stream duration to the performer's total.
func (c *HTTPClient) RecordStreamTime(ctx context.Context, performerID string, millis int64) error {
	return c.post(ctx, fmt.Sprintf("/internal/v1/performers/%s/stream-time", performerID),
		map[string]int64{"millis": millis})
}

// RecordViewTime adds watched time to the viewer's billing record.
func (c *HTTPClient) RecordViewTime(ctx context.Context, viewerID string, millis int64) error {
	return c.post(ctx, fmt.Sprintf("/internal/v1/viewers/%s/view-time", viewerID),
		map[string]int64{"millis": millis})
}

func (c *HTTPClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("platform request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrConversationNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("platform returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPClient) post(ctx context.Context, path string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("platform request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("platform returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) fromCache(conversationID string) *Conversation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if cached, ok := c.cache[conversationID]; ok && time.Now().Before(cached.expiresAt) {
		return cached.conv
	}
	return nil
}
