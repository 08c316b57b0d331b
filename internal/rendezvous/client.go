package rendezvous

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to a rendezvous Server to publish this process's
// candidates and wait for the peer's.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient builds a rendezvous client against baseURL (the server's
// listen address, e.g. "http://203.0.113.4:9000/").
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// Post publishes this process's posting under room/role.
func (c *Client) Post(room, role string, posting Posting) error {
	body, err := json.Marshal(posting)
	if err != nil {
		return fmt.Errorf("rendezvous: marshal posting: %w", err)
	}

	url := fmt.Sprintf("%s?room=%s&role=%s", c.baseURL, room, role)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("rendezvous: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("rendezvous: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("rendezvous: post returned %d: %s", resp.StatusCode, data)
	}
	return nil
}

// WaitForPeer polls for the peer's posting in room, backing off
// between attempts, until one arrives or ctx is cancelled.
func (c *Client) WaitForPeer(ctx context.Context, room, role string) (Posting, error) {
	backoff := 250 * time.Millisecond
	const maxBackoff = 3 * time.Second

	url := fmt.Sprintf("%s?room=%s&role=%s", c.baseURL, room, role)
	for {
		select {
		case <-ctx.Done():
			return Posting{}, ctx.Err()
		default:
		}

		resp, err := c.httpClient.Get(url)
		if err == nil {
			if resp.StatusCode == http.StatusOK {
				var posting Posting
				decodeErr := json.NewDecoder(resp.Body).Decode(&posting)
				resp.Body.Close()
				if decodeErr == nil {
					return posting, nil
				}
			} else {
				resp.Body.Close()
			}
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return Posting{}, ctx.Err()
		}
		if backoff < maxBackoff {
			backoff = time.Duration(float64(backoff) * 1.5)
		}
	}
}

// Close releases idle connections held by the client.
func (c *Client) Close() {
	if transport, ok := c.httpClient.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}
