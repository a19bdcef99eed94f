// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package httputil provides HTTP helpers shared by the outbound clients
// (the Claude backend and the OSF repository client).
package httputil

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/pdiddy/irb-engine/internal/logging"
)

// RetryBaseDelay is the first backoff interval; it doubles on every retry.
// Tests override it to avoid real sleeps.
var RetryBaseDelay = 2 * time.Second

// MaxRetryAfter caps a server-provided Retry-After delay.
var MaxRetryAfter = time.Minute

const defaultMaxRetries = 3

// Retryable reports whether status signals a transient condition: rate
// limiting (429), unavailability (502, 503, 504), or provider overload (529).
func Retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable,
		http.StatusGatewayTimeout, 529:
		return true
	}
	return false
}

// DoWithRetry executes req and retries transient failures with exponential
// backoff starting at RetryBaseDelay. A Retry-After header in seconds
// overrides the computed delay, up to MaxRetryAfter. The request body is
// replayed through req.GetBody, so requests built with http.NewRequest from
// a bytes.Reader, bytes.Buffer, or strings.Reader can be retried.
//
// When maxRetries is 0 the default (3) is used. After exhausting retries the
// last transient response is returned so the caller can inspect it. If ctx
// is cancelled during a wait the function returns ctx.Err().
func DoWithRetry(ctx context.Context, client *http.Client, req *http.Request, maxRetries int) (*http.Response, error) {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	if client == nil {
		client = http.DefaultClient
	}
	log := logging.New("httputil")

	for attempt := 0; ; attempt++ {
		attemptReq := req.Clone(ctx)
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("rewinding request body: %w", err)
			}
			attemptReq.Body = body
		}

		resp, err := client.Do(attemptReq)
		if err != nil {
			return nil, err
		}
		if !Retryable(resp.StatusCode) || attempt >= maxRetries {
			return resp, nil
		}

		backoff := RetryBaseDelay << attempt
		if d, ok := retryAfter(resp.Header.Get("Retry-After")); ok {
			backoff = d
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		log.DebugContext(ctx, "transient response, retrying",
			"host", req.URL.Host,
			"status", resp.StatusCode,
			"delay", backoff,
			"attempt", attempt+1,
			"max", maxRetries,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
}

func retryAfter(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0, false
	}
	d := time.Duration(secs) * time.Second
	if d > MaxRetryAfter {
		d = MaxRetryAfter
	}
	return d, true
}
