package feed

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"

	"tradedesk/internal/errors"
	"tradedesk/internal/models"
)

// Prober queries a push server's readiness endpoint.
type Prober struct {
	URL    string
	Client *http.Client
}

// NewProber creates a prober for url.
func NewProber(url string, client *http.Client) *Prober {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Prober{URL: url, Client: client}
}

// Probe fetches the readiness document. An empty URL reports ready.
func (p *Prober) Probe(ctx context.Context) (models.Readiness, error) {
	if p.URL == "" {
		return models.Readiness{BrokerWSConnected: true, RedisConnected: true}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return models.Readiness{}, errors.Wrap(err, "building readiness request")
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return models.Readiness{}, errors.Wrap(errors.ErrConnectionFailed, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.Readiness{}, errors.Wrap(err, "reading readiness response")
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return models.Readiness{}, errors.NewAPIError(resp.StatusCode, p.URL, string(body), nil)
	}

	var r models.Readiness
	if err := sonic.Unmarshal(body, &r); err != nil {
		return models.Readiness{}, errors.NewPayloadError("readiness", "invalid body", err)
	}
	return r, nil
}
