// Package rest is the bearer-authenticated HTTP client for the chat surface.
// All history, send, upload and batch operations go through it; only live
// push arrives over the channel.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/sahyam2023/dashboard-sub001/internal/chaterr"
	"github.com/sahyam2023/dashboard-sub001/internal/session"
)

type Client struct {
	base string
	http *http.Client
	sess *session.Session
	log  *zap.SugaredLogger

	retryMaxElapsed time.Duration
}

type Options struct {
	BaseURL         string
	Timeout         time.Duration
	RetryMaxElapsed time.Duration
	Session         *session.Session
	Logger          *zap.SugaredLogger
}

func New(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 15 * time.Second
	}
	tr := &http.Transport{
		DialContext:     (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		MaxIdleConns:    16,
		IdleConnTimeout: 90 * time.Second,
	}
	return &Client{
		base:            strings.TrimRight(opts.BaseURL, "/"),
		http:            &http.Client{Transport: tr, Timeout: opts.Timeout},
		sess:            opts.Session,
		log:             opts.Logger,
		retryMaxElapsed: opts.RetryMaxElapsed,
	}
}

type errBody struct {
	Error string `json:"error"`
}

func decodeJSON(r io.Reader, out any) error {
	return json.NewDecoder(r).Decode(out)
}

// do runs one request and decodes the JSON response into out (if non-nil).
// GETs are retried with exponential backoff on transient failures; mutating
// requests are attempted exactly once.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	attempt := func() error {
		u := c.base + path
		if len(query) > 0 {
			u += "?" + query.Encode()
		}
		var rd io.Reader
		if payload != nil {
			rd = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, rd)
		if err != nil {
			return backoff.Permanent(err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		c.authorize(req)

		resp, err := c.http.Do(req)
		if err != nil {
			return chaterr.FromTransport(err)
		}
		defer resp.Body.Close()

		if err := c.checkStatus(resp); err != nil {
			if chaterr.Retryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if out == nil {
			io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode %s %s: %w", method, path, err))
		}
		return nil
	}

	if method != http.MethodGet || c.retryMaxElapsed == 0 {
		err := attempt()
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.retryMaxElapsed
	return backoff.Retry(attempt, backoff.WithContext(b, ctx))
}

func (c *Client) authorize(req *http.Request) {
	if tok := c.sess.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
}

// checkStatus maps the response status to the error taxonomy and folds
// credential rejection into the session so it is announced exactly once.
func (c *Client) checkStatus(resp *http.Response) error {
	err := chaterr.FromStatus(resp.StatusCode)
	if err == nil {
		return nil
	}
	var eb errBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(raw, &eb)

	if err == chaterr.ErrSessionInvalid {
		c.sess.Invalidate()
	}
	if eb.Error != "" {
		c.log.Debugw("request rejected", "status", resp.StatusCode, "error", eb.Error)
		return fmt.Errorf("%s: %w", eb.Error, err)
	}
	return err
}
