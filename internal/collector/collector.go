// Package collector walks the cursor-paginated listing endpoint and assembles
// the complete, ordered follower list of one account.
package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/follower-audit/internal/audit"
)

const (
	defaultPageSize  = 50
	defaultPageDelay = time.Second
	// Pages allowed beyond what the probed total implies, to absorb followers
	// gained mid-crawl.
	pageSlack = 10
	// Upper bound, in pages, on the up-front allocation. The probed total is
	// remote input and only sizes the buffer up to this point.
	preallocPages = 64
)

// PageSource fetches one listing page.
type PageSource interface {
	FollowerPage(ctx context.Context, userID string, first int, after string) (audit.CursorPage, error)
}

// Progress is reported after every page.
type Progress struct {
	Current int
	Total   int64
	Percent float64
}

// Config tunes pagination.
type Config struct {
	PageSize  int
	PageDelay time.Duration
	// MaxPages caps the loop. Zero derives the cap from the probed total.
	MaxPages int
	Logger   *zap.Logger
}

// Result is the outcome of CollectAll.
type Result struct {
	Refs  []audit.FollowerRef
	Total int64
	// Complete is false when a stop request cut pagination short.
	Complete bool
}

// Collector implements CollectAll over a PageSource.
type Collector struct {
	source PageSource
	clock  audit.Clock
	cfg    Config
	logger *zap.Logger
}

// New builds a Collector.
func New(source PageSource, clock audit.Clock, cfg Config) (*Collector, error) {
	if source == nil {
		return nil, errors.New("collector: page source is required")
	}
	if clock == nil {
		return nil, errors.New("collector: clock is required")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.PageDelay < 0 {
		cfg.PageDelay = defaultPageDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{source: source, clock: clock, cfg: cfg, logger: logger}, nil
}

// CollectAll probes the total with a one-item page, then pages through the
// list in order, waiting PageDelay between page requests. onProgress and
// stopped may be nil. stopped is consulted between pages; when it reports
// true the refs gathered so far are returned with Complete unset. Items are
// never deduplicated.
func (c *Collector) CollectAll(
	ctx context.Context,
	userID string,
	onProgress func(Progress),
	stopped func() bool,
) (Result, error) {
	probe, err := c.source.FollowerPage(ctx, userID, 1, "")
	if err != nil {
		return Result{}, fmt.Errorf("probe follower count: %w", err)
	}
	total := probe.TotalCount
	maxPages := c.maxPages(total)
	c.logger.Info("collecting followers",
		zap.String("user_id", userID),
		zap.Int64("total", total),
		zap.Int("page_size", c.cfg.PageSize),
	)

	refs := make([]audit.FollowerRef, 0, min(max(total, 0), int64(c.cfg.PageSize)*preallocPages))
	cursor := ""
	for pages := 0; ; pages++ {
		if pages >= maxPages {
			return Result{}, fmt.Errorf("collect %s after %d pages: %w", userID, pages, audit.ErrPaginationLimit)
		}
		if pages > 0 {
			if stopped != nil && stopped() {
				c.logger.Info("collection stopped", zap.Int("collected", len(refs)))
				return Result{Refs: refs, Total: total}, nil
			}
			if err := c.clock.Sleep(ctx, c.cfg.PageDelay); err != nil {
				return Result{}, fmt.Errorf("page delay: %w", err)
			}
		}
		page, err := c.source.FollowerPage(ctx, userID, c.cfg.PageSize, cursor)
		if err != nil {
			return Result{}, fmt.Errorf("fetch page %d: %w", pages+1, err)
		}
		refs = append(refs, page.Items...)
		if onProgress != nil {
			onProgress(Progress{Current: len(refs), Total: total, Percent: percent(len(refs), total)})
		}
		if !page.HasMore {
			return Result{Refs: refs, Total: total, Complete: true}, nil
		}
		if page.NextCursor == "" || page.NextCursor == cursor {
			c.logger.Warn("pagination cursor did not advance, ending collection",
				zap.String("cursor", cursor),
				zap.Int("collected", len(refs)),
			)
			return Result{Refs: refs, Total: total, Complete: true}, nil
		}
		cursor = page.NextCursor
	}
}

func (c *Collector) maxPages(total int64) int {
	if c.cfg.MaxPages > 0 {
		return c.cfg.MaxPages
	}
	size := int64(c.cfg.PageSize)
	return int(max(total, 0)/size) + 1 + pageSlack
}

func percent(current int, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return audit.RoundPercent(min(float64(current)/float64(total), 1))
}
