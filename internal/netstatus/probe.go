package netstatus

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Probe polls a URL and reports reachability to a Target. Any response
// below 500 counts as online; transport errors and 5xx count as offline.
type Probe struct {
	URL      string
	Interval time.Duration
	HTTP     *http.Client
	Target   Target
	Logger   *zap.Logger
}

// Run probes immediately and then every Interval until ctx is done.
func (p *Probe) Run(ctx context.Context) {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		online := p.Check(ctx)
		if ctx.Err() != nil {
			return
		}
		if _, err := p.Target.SetOnline(ctx, online); err != nil {
			logger.Debug("probe reading not applied", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Check performs one probe.
func (p *Probe) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.Interval)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return false
	}
	client := p.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}
