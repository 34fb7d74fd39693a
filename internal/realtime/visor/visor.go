// Package visor talks to the Renfe station departure board
// ("tiempo-real" visor). It is the platform fallback of last resort
// when neither the feed nor a vehicle position carries one.
package visor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bluele/gcache"
)

const cacheTTL = 30 * time.Second

// Departure is one row of a station board.
type Departure struct {
	TripID      string `json:"tripId"`
	Line        string `json:"linea"`
	Destination string `json:"destino"`
	Platform    string `json:"via"`
	Departure   string `json:"horaSalida"`
}

type board struct {
	Departures []Departure `json:"salidas"`
}

// Client fetches station boards with a short-lived cache so a tick that
// touches the same station twice hits the network once.
type Client struct {
	baseURL string
	http    *http.Client
	cache   gcache.Cache
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		cache:   gcache.New(256).LRU().Build(),
	}
}

// Departures returns the board of one station by its native Renfe code.
func (c *Client) Departures(ctx context.Context, stopCode string) ([]Departure, error) {
	if cached, err := c.cache.Get(stopCode); err == nil {
		return cached.([]Departure), nil
	}

	url := fmt.Sprintf("%s/%s.json", c.baseURL, stopCode)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("visor request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("visor fetch %s: %w", stopCode, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("visor fetch %s: status %d", stopCode, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("visor read %s: %w", stopCode, err)
	}

	var b board
	if err := json.Unmarshal(body, &b); err != nil {
		return nil, fmt.Errorf("visor parse %s: %w", stopCode, err)
	}
	_ = c.cache.SetWithExpire(stopCode, b.Departures, cacheTTL)
	return b.Departures, nil
}
