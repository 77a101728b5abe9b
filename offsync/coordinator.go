// Copyright 2025 Malar Market Ledger Authors
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Markandayan1518/Malar-Market-Ledger-sub002/offstore"
)

// TokenFunc supplies the bearer token attached to replay requests.
type TokenFunc func(ctx context.Context) (string, error)

// Summary is the outcome of one draining pass, delivered to observers so
// the UI can refresh views built on possibly-stale reference data.
type Summary struct {
	Succeeded int      // mutations acknowledged and dequeued this pass
	Failed    int      // mutations that failed replay and stay queued
	Remaining int      // queue length after the pass
	Exhausted []string // ids at or past MaxAttempts (still queued; caller decides)
}

// Observer receives the summary of a completed draining pass.
type Observer func(Summary)

// Config holds configuration for the sync coordinator.
type Config struct {
	BaseURL     string        // backend base URL, e.g. "https://ledger.example.com"
	Interval    time.Duration // periodic pass interval; 0 disables the ticker
	BackoffMin  time.Duration // backoff after a pass with failures and no progress
	BackoffMax  time.Duration
	MaxAttempts int // report a mutation as exhausted after N attempts; 0 = never
}

// DefaultConfig returns a default coordinator configuration.
func DefaultConfig(baseURL string) *Config {
	return &Config{
		BaseURL:    baseURL,
		Interval:   30 * time.Second,
		BackoffMin: 1 * time.Second,
		BackoffMax: 60 * time.Second,
	}
}

// Coordinator drains the mutation queue against the live server: one
// mutation at a time in creation order, removing each only after server
// acknowledgment. Only one draining pass runs at a time; triggers that
// fire mid-pass coalesce into no-ops.
type Coordinator struct {
	Queue   *offstore.MutationQueue
	HTTP    *http.Client
	Token   TokenFunc                       // optional bearer token source
	Refresh func(ctx context.Context) error // optional; invoked after a pass with progress

	config *Config
	logger *slog.Logger

	draining int32
	mu       sync.Mutex
	obs      []Observer
}

// NewCoordinator creates a sync coordinator over the given queue.
func NewCoordinator(queue *offstore.MutationQueue, config *Config, logger *slog.Logger) (*Coordinator, error) {
	if queue == nil {
		return nil, fmt.Errorf("queue must be provided")
	}
	if config == nil || config.BaseURL == "" {
		return nil, fmt.Errorf("config.BaseURL must be provided")
	}
	if config.BackoffMin <= 0 {
		config.BackoffMin = 1 * time.Second
	}
	if config.BackoffMax < config.BackoffMin {
		config.BackoffMax = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		Queue:  queue,
		HTTP:   &http.Client{Timeout: 30 * time.Second},
		config: config,
		logger: logger,
	}, nil
}

// Subscribe registers an observer notified once per completed pass.
func (c *Coordinator) Subscribe(obs Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.obs = append(c.obs, obs)
}

func (c *Coordinator) notify(s Summary) {
	c.mu.Lock()
	observers := make([]Observer, len(c.obs))
	copy(observers, c.obs)
	c.mu.Unlock()
	for _, obs := range observers {
		obs(s)
	}
}

// SyncNow triggers a draining pass. When a pass is already in flight the
// trigger coalesces: ran is false and no work is done. The returned error
// reports storage-level failure only; per-mutation replay failures are
// counted in the summary.
func (c *Coordinator) SyncNow(ctx context.Context) (summary Summary, ran bool, err error) {
	if !atomic.CompareAndSwapInt32(&c.draining, 0, 1) {
		return Summary{}, false, nil
	}
	defer atomic.StoreInt32(&c.draining, 0)

	summary, err = c.drainPass(ctx)
	if err != nil {
		return Summary{}, true, err
	}
	return summary, true, nil
}

// Start runs the coordinator until ctx is cancelled, draining whenever the
// connectivity-restored channel fires or the periodic ticker elapses. The
// concrete trigger mechanism behind the channel (platform signal, polling
// probe, manual button) is the caller's collaborator.
func (c *Coordinator) Start(ctx context.Context, online <-chan struct{}) {
	go c.run(ctx, online)
}

func (c *Coordinator) run(ctx context.Context, online <-chan struct{}) {
	var tick <-chan time.Time
	if c.config.Interval > 0 {
		ticker := time.NewTicker(c.config.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	backoff := c.config.BackoffMin
	for {
		select {
		case <-ctx.Done():
			return
		case <-online:
		case <-tick:
		}

		summary, ran, err := c.SyncNow(ctx)
		switch {
		case err != nil:
			c.logger.Warn("draining pass failed", "error", err)
			if err := sleepWithContext(ctx, backoff); err != nil {
				return
			}
			backoff = min(backoff*2, c.config.BackoffMax)
		case ran && summary.Failed > 0 && summary.Succeeded == 0:
			// No progress; back off before the next trigger can thrash.
			if err := sleepWithContext(ctx, backoff); err != nil {
				return
			}
			backoff = min(backoff*2, c.config.BackoffMax)
		default:
			backoff = c.config.BackoffMin
		}
	}
}

// drainPass replays the current queue snapshot in creation order. A
// failed mutation is marked and left in place; the pass continues so
// partial progress is preserved.
func (c *Coordinator) drainPass(ctx context.Context) (Summary, error) {
	pending, err := c.Queue.PeekAll(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to read pending mutations: %w", err)
	}

	var summary Summary
	for _, m := range pending {
		if err := ctx.Err(); err != nil {
			break
		}
		if err := c.submit(ctx, m); err != nil {
			summary.Failed++
			c.logger.Warn("mutation replay failed",
				"id", m.ID, "resource", m.Resource, "op", m.Op,
				"attempts", m.Attempts+1, "error", err)
			if err := c.Queue.MarkAttempt(ctx, m.ID); err != nil {
				return summary, err
			}
			if c.config.MaxAttempts > 0 && m.Attempts+1 >= c.config.MaxAttempts {
				summary.Exhausted = append(summary.Exhausted, m.ID)
			}
			continue
		}
		if err := c.Queue.Dequeue(ctx, m.ID); err != nil {
			return summary, err
		}
		summary.Succeeded++
	}

	remaining, err := c.Queue.Len(ctx)
	if err != nil {
		return summary, err
	}
	summary.Remaining = remaining

	if summary.Succeeded > 0 && c.Refresh != nil {
		if err := c.Refresh(ctx); err != nil {
			c.logger.Warn("post-sync refresh failed", "error", err)
		}
	}

	c.logger.Info("draining pass complete",
		"succeeded", summary.Succeeded, "failed", summary.Failed, "remaining", summary.Remaining)
	c.notify(summary)
	return summary, nil
}

// submit replays one mutation: create maps to POST, update to PUT, delete
// to DELETE, with the captured payload as the body and any identifier
// embedded in it.
func (c *Coordinator) submit(ctx context.Context, m offstore.Mutation) error {
	var method string
	switch m.Op {
	case offstore.OpCreate:
		method = http.MethodPost
	case offstore.OpUpdate:
		method = http.MethodPut
	case offstore.OpDelete:
		method = http.MethodDelete
	default:
		return fmt.Errorf("unknown operation %q", m.Op)
	}

	url := strings.TrimSuffix(c.config.BaseURL, "/") + "/api/" + m.Resource
	var body io.Reader
	if len(m.Payload) > 0 {
		body = bytes.NewReader(m.Payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create replay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != nil {
		token, err := c.Token(ctx)
		if err != nil {
			return fmt.Errorf("failed to get token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetworkUnreachable, err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: status %d: %s", ErrServerRejected, resp.StatusCode, string(respBody))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
