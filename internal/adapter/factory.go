package adapter

import (
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

type Config struct {
	TiktokClientKey       string
	TiktokClientSecret    string
	InstagramClientSecret string
	GoogleClientID        string
	GoogleClientSecret    string
	Sandbox               bool
	CallTimeout           time.Duration
	// RatePerSecond bounds calls per platform across every adapter the factory builds.
	RatePerSecond float64
}

// Factory builds adapters for a platform from a connection's credentials.
// Adapters built by the same factory share one HTTP client and one rate
// limiter per platform.
type Factory struct {
	cfg      Config
	stager   Stager
	client   *http.Client
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

func NewFactory(cfg Config, stager Stager) *Factory {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultTimeout
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 2
	}

	limiters := make(map[string]*rate.Limiter, len(Platforms()))
	for _, p := range Platforms() {
		limiters[p] = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), int(cfg.RatePerSecond)+1)
	}

	return &Factory{
		cfg:      cfg,
		stager:   stager,
		client:   &http.Client{Timeout: cfg.CallTimeout},
		limiters: limiters,
		now:      time.Now,
	}
}

func (f *Factory) options(platform string) Options {
	opts := Options{
		HTTPClient: f.client,
		Limiter:    f.limiters[platform],
		Timeout:    f.cfg.CallTimeout,
	}
	switch platform {
	case PlatformTikTok:
		opts.ClientID = f.cfg.TiktokClientKey
		opts.ClientSecret = f.cfg.TiktokClientSecret
	case PlatformInstagram:
		opts.ClientSecret = f.cfg.InstagramClientSecret
		opts.Stager = f.stager
	case PlatformYouTube:
		opts.ClientID = f.cfg.GoogleClientID
		opts.ClientSecret = f.cfg.GoogleClientSecret
	}
	return opts
}

func (f *Factory) New(platform string, creds Credentials) (Adapter, error) {
	var a Adapter
	opts := f.options(platform)

	switch platform {
	case PlatformTikTok:
		a = NewTiktokAdapter(creds, opts)
	case PlatformInstagram:
		a = NewInstagramAdapter(creds, opts)
	case PlatformYouTube:
		a = NewYoutubeAdapter(creds, opts)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, platform)
	}

	if f.cfg.Sandbox {
		return NewSandboxAdapter(a, creds, f.now)
	}
	return a, nil
}
