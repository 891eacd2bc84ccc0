// Package oracle fetches the token conversion rate recorded on each
// approval at initiation. The snapshot is audit data only; a fetch failure
// never blocks the approval.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/stake-plus/polkadot-grant-pay/src/webclient"
)

type Client struct {
	url    string
	source string
	http   *http.Client
}

func New(rateURL string, timeout time.Duration) *Client {
	source := "oracle"
	if u, err := url.Parse(rateURL); err == nil && u.Host != "" {
		source = u.Host
	}
	return &Client{
		url:    rateURL,
		source: source,
		http:   webclient.NewDefault(timeout),
	}
}

// Snapshot fetches the current rate. The endpoint is expected to answer in
// the simple-price shape {"<token>":{"<fiat>":1.23}}; the first pair wins.
func (c *Client) Snapshot(ctx context.Context) (float64, string, time.Time, error) {
	status, body, err := webclient.DoWithRetry(ctx, 3, time.Second, func() (int, []byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
		if err != nil {
			return 0, nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return 0, nil, err
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		return resp.StatusCode, b, err
	})
	if err != nil {
		return 0, "", time.Time{}, err
	}
	if status != http.StatusOK {
		return 0, "", time.Time{}, fmt.Errorf("price endpoint status %d", status)
	}

	var out map[string]map[string]float64
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, "", time.Time{}, fmt.Errorf("price payload: %w", err)
	}
	for _, fiat := range out {
		for _, rate := range fiat {
			return rate, c.source, time.Now(), nil
		}
	}
	return 0, "", time.Time{}, fmt.Errorf("price payload empty")
}
