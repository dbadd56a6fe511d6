package service

import (
	"context"
	"math/rand"
	"time"

	"github.com/octobees/vcardsync/internal/config"
)

// Pacer inserts the courtesy delays between remote calls.
type Pacer struct {
	pageDelay  time.Duration
	jitter     config.JitterRange
	extraPause time.Duration
	every      int
	downloads  int
	random     func() float64
	sleep      func(ctx context.Context, d time.Duration) error
}

// PacerOption configures optional dependencies.
type PacerOption func(*Pacer)

// WithSleeper replaces the context-aware sleep, mostly for tests.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) PacerOption {
	return func(p *Pacer) {
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

// WithRandom replaces the uniform [0,1) source used for jitter.
func WithRandom(random func() float64) PacerOption {
	return func(p *Pacer) {
		if random != nil {
			p.random = random
		}
	}
}

// NewPacer builds a pacer from the configured delays.
func NewPacer(cfg config.PacingConfig, opts ...PacerOption) *Pacer {
	jitter := cfg.PageJitter
	if jitter.Max <= 0 {
		jitter = config.JitterRange{Min: 1, Max: 1}
	}
	p := &Pacer{
		pageDelay:  cfg.PageDelay,
		jitter:     jitter,
		extraPause: cfg.ExtraPause,
		every:      cfg.ExtraPauseEvery,
		random:     rand.Float64,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// BetweenPages waits the jittered page delay.
func (p *Pacer) BetweenPages(ctx context.Context) error {
	return p.sleep(ctx, p.jittered(p.pageDelay))
}

// AfterDownload counts a stored attachment and takes the extra pause after
// every configured number of downloads.
func (p *Pacer) AfterDownload(ctx context.Context) error {
	p.downloads++
	if p.every <= 0 || p.extraPause <= 0 || p.downloads%p.every != 0 {
		return nil
	}
	return p.sleep(ctx, p.jittered(p.extraPause))
}

// Downloads is the number of attachments counted so far.
func (p *Pacer) Downloads() int {
	return p.downloads
}

func (p *Pacer) jittered(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	factor := p.jitter.Min + p.random()*(p.jitter.Max-p.jitter.Min)
	return time.Duration(float64(base) * factor)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
