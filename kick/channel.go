package kick

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultAPIBase is the kick.com API root used for channel lookups.
const DefaultAPIBase = "https://kick.com"

type channelResponse struct {
	ID       int64  `json:"id"`
	Slug     string `json:"slug"`
	Chatroom struct {
		ID int64 `json:"id"`
	} `json:"chatroom"`
}

// Resolver maps a configured Kick channel to its chatroom id.
type Resolver struct {
	BaseURL    string
	HTTPClient *http.Client
}

// ChatroomID returns channel as-is when it is numeric, otherwise it treats it
// as a channel slug and looks the chatroom up through the channel API.
func (r *Resolver) ChatroomID(ctx context.Context, channel string) (int64, error) {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return 0, fmt.Errorf("empty kick channel")
	}
	if id, err := strconv.ParseInt(channel, 10, 64); err == nil && id > 0 {
		return id, nil
	}

	base := r.BaseURL
	if base == "" {
		base = DefaultAPIBase
	}
	hc := r.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}

	url := fmt.Sprintf("%s/api/v2/channels/%s", strings.TrimRight(base, "/"), strings.ToLower(channel))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	// The channel API rejects requests that do not look like a browser.
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/143.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Referer", "https://kick.com/")
	req.Header.Set("Origin", "https://kick.com")

	resp, err := hc.Do(req)
	if err != nil {
		return 0, fmt.Errorf("kick channel request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("kick channel %s: status %d: %s", channel, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var cr channelResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return 0, fmt.Errorf("decode kick channel: %w", err)
	}
	if cr.Chatroom.ID == 0 {
		return 0, fmt.Errorf("kick channel %s has no chatroom", channel)
	}
	return cr.Chatroom.ID, nil
}
