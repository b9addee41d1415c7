package signalhttp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"marginAutoBot/internal/domain"
	"marginAutoBot/internal/ports"
)

const (
	maxBodySize  = 1 << 20
	queueDepth   = 16
	fetchTimeout = 5 * time.Second
)

// Poller periodically fetches the latest signal from an HTTP endpoint and
// feeds it into a bounded queue. It implements ports.SignalSource.
//
// Several endpoint paths are tried in order per fetch so a producer that
// moves its route between /signal and /latest keeps working. Responses are
// deduplicated at the transport level by exact body match; semantic
// deduplication by timestamp happens downstream.
type Poller struct {
	client   *http.Client
	baseURL  string
	paths    []string
	interval time.Duration
	ttl      time.Duration
	logger   ports.Logger
	now      func() time.Time

	queue chan *domain.Signal

	mu        sync.Mutex
	lastBody  string
	lastFetch time.Time
}

// Config holds configuration specific to the HTTP signal poller.
type Config struct {
	BaseURL   string
	Path      string
	Fallbacks []string
	Interval  time.Duration
	TTL       time.Duration // Source counts as disconnected after this silence
	Logger    ports.Logger
}

// New creates a poller. It does not start fetching until Run is called.
func New(cfg Config) (*Poller, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for signal poller")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("signal base URL is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	paths := make([]string, 0, 1+len(cfg.Fallbacks))
	if cfg.Path != "" {
		paths = append(paths, cfg.Path)
	}
	paths = append(paths, cfg.Fallbacks...)
	if len(paths) == 0 {
		paths = []string{"/signal"}
	}

	return &Poller{
		client:   &http.Client{Timeout: fetchTimeout},
		baseURL:  cfg.BaseURL,
		paths:    paths,
		interval: cfg.Interval,
		ttl:      cfg.TTL,
		logger:   cfg.Logger,
		now:      time.Now,
		queue:    make(chan *domain.Signal, queueDepth),
	}, nil
}

// Run polls until the context is cancelled. Fetch errors are logged and the
// loop keeps going; liveness is reported through Connected.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.fetchOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.fetchOnce(ctx)
		}
	}
}

// Dequeue pops the oldest pending signal without blocking.
func (p *Poller) Dequeue() (*domain.Signal, bool) {
	select {
	case sig := <-p.queue:
		return sig, true
	default:
		return nil, false
	}
}

// Connected reports whether a fetch succeeded within the TTL window.
func (p *Poller) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.lastFetch.IsZero() && p.now().Sub(p.lastFetch) <= p.ttl
}

// fetchOnce tries each endpoint path in order and stops at the first one
// that yields a decodable signal.
func (p *Poller) fetchOnce(ctx context.Context) {
	op := "FetchSignal"
	for _, path := range p.paths {
		body, err := p.get(ctx, path)
		if err != nil {
			p.logger.Debug(ctx, op+": endpoint failed", map[string]interface{}{"path": path, "error": err.Error()})
			continue
		}

		sig, err := DecodeSignal(body)
		if err != nil {
			p.logger.Warn(ctx, op+": undecodable payload", map[string]interface{}{"path": path, "error": err.Error()})
			continue
		}

		p.mu.Lock()
		p.lastFetch = p.now()
		repeat := string(body) == p.lastBody
		p.lastBody = string(body)
		p.mu.Unlock()

		if repeat {
			return
		}

		select {
		case p.queue <- sig:
		default:
			// Queue full means the consumer stalled; drop the oldest so the
			// freshest signal is never the one lost.
			select {
			case <-p.queue:
			default:
			}
			select {
			case p.queue <- sig:
			default:
			}
			p.logger.Warn(ctx, op+": queue full, dropped oldest signal", map[string]interface{}{"path": path})
		}
		return
	}
}

// get fetches one endpoint with caching disabled end to end: a nocache query
// parameter defeats URL-keyed caches and the no-store headers defeat
// well-behaved proxies.
func (p *Poller) get(ctx context.Context, path string) ([]byte, error) {
	url := p.baseURL + path + "?nocache=" + strconv.FormatInt(p.now().UnixNano(), 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cache-Control", "no-store, no-cache, must-revalidate")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, path)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, err
	}
	return body, nil
}
