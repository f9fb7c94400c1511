package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// RobotsPolicy decides whether a URL may be fetched under robots rules.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// RobotsConfig controls the enforcer.
type RobotsConfig struct {
	Enabled   bool
	UserAgent string
	// FailOpen allows fetching when robots.txt cannot be retrieved.
	FailOpen bool
	CacheTTL time.Duration
}

type cachedRobots struct {
	data      *robotstxt.RobotsData
	expiresAt time.Time
}

// RobotsEnforcer enforces robots.txt directives per host with a TTL cache.
type RobotsEnforcer struct {
	client    *http.Client
	mu        sync.Mutex
	cache     map[string]cachedRobots
	userAgent string
	failOpen  bool
	ttl       time.Duration
	logger    *zap.Logger
}

// NewRobotsPolicy builds a RobotsPolicy respecting the config toggle.
func NewRobotsPolicy(cfg RobotsConfig, logger *zap.Logger) RobotsPolicy {
	if !cfg.Enabled {
		return &allowAllRobots{}
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RobotsEnforcer{
		client:    &http.Client{Timeout: 10 * time.Second},
		cache:     make(map[string]cachedRobots),
		userAgent: cfg.UserAgent,
		failOpen:  cfg.FailOpen,
		ttl:       ttl,
		logger:    logger,
	}
}

// Allowed implements RobotsPolicy.
func (r *RobotsEnforcer) Allowed(ctx context.Context, rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	data, err := r.load(ctx, parsed)
	if err != nil {
		r.logger.Warn("robots fetch failed",
			zap.String("host", parsed.Host),
			zap.Bool("fail_open", r.failOpen),
			zap.Error(err),
		)
		return r.failOpen
	}
	group := data.FindGroup(r.userAgent)
	if group == nil {
		return true
	}
	return group.Test(parsed.Path)
}

func (r *RobotsEnforcer) load(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	hostKey := strings.ToLower(parsed.Host)
	now := time.Now()

	r.mu.Lock()
	cached, ok := r.cache[hostKey]
	r.mu.Unlock()
	if ok && cached.expiresAt.After(now) {
		return cached.data, nil
	}

	robotsURL := *parsed
	robotsURL.Path = path.Join("/", "robots.txt")
	robotsURL.RawQuery = ""
	robotsURL.Fragment = ""
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			r.logger.Debug("close robots body failed", zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}

	r.mu.Lock()
	r.cache[hostKey] = cachedRobots{data: data, expiresAt: now.Add(r.ttl)}
	r.mu.Unlock()
	return data, nil
}

type allowAllRobots struct{}

func (allowAllRobots) Allowed(context.Context, string) bool { return true }
