package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultTimeout      = 60 * time.Second
	defaultPollInterval = 3 * time.Second
	defaultPollAttempts = 20
)

// Options carries what every platform variant needs besides the user's credentials.
type Options struct {
	HTTPClient   *http.Client
	Limiter      *rate.Limiter
	Timeout      time.Duration
	PollInterval time.Duration
	PollAttempts int
	// BaseURL overrides the platform API root.
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Stager       Stager
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: o.Timeout}
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.PollAttempts <= 0 {
		o.PollAttempts = defaultPollAttempts
	}
	return o
}

// errorDecoder turns a non-2xx response body into a classified error.
type errorDecoder func(status int, body []byte) error

type transport struct {
	platform  string
	client    *http.Client
	limiter   *rate.Limiter
	decodeErr errorDecoder
}

func (t *transport) wait(ctx context.Context) error {
	if t.limiter == nil {
		return nil
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return &PlatformError{Platform: t.platform, Message: "rate limit wait: " + err.Error(), Kind: FailureTransient}
	}
	return nil
}

func (t *transport) do(ctx context.Context, req *http.Request) ([]byte, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}

	resp, err := t.client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("%s: HTTP request failed: %w", t.platform, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: error reading response body: %w", t.platform, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, t.decodeErr(resp.StatusCode, body)
	}
	return body, nil
}

func (t *transport) doJSON(ctx context.Context, method, url string, payload, out interface{}, header http.Header) error {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return &PlatformError{Platform: t.platform, Message: "error marshalling payload: " + err.Error(), Kind: FailurePermanent}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return &PlatformError{Platform: t.platform, Message: "error creating request: " + err.Error(), Kind: FailurePermanent}
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	}

	body, err := t.do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: error parsing response: %w", t.platform, err)
	}
	return nil
}

func bearer(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
