package gallery

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"genstudio/internal/domain"
)

// Lister fetches one page of the artifact history.
type Lister interface {
	ListImages(ctx context.Context, page, pageSize int) (domain.ArtifactPage, error)
}

// Pager fetches history pages on demand. At most one fetch is in flight at a
// time, and scroll-triggered continuation is additionally rate limited so a
// fast scroller cannot hammer the backend.
type Pager struct {
	lister   Lister
	pageSize int
	limiter  *rate.Limiter

	mu       sync.Mutex
	inFlight bool
	page     int
	eof      bool
}

// NewPager constructs a pager with the fixed page size.
func NewPager(lister Lister, pageSize int) *Pager {
	if pageSize <= 0 {
		pageSize = 20
	}
	return &Pager{
		lister:   lister,
		pageSize: pageSize,
		limiter:  rate.NewLimiter(rate.Limit(2), 1),
	}
}

// LoadFirst fetches page 1 and resets pagination. Used on initial load and on
// manual refresh after delete or import.
func (p *Pager) LoadFirst(ctx context.Context) ([]domain.Artifact, error) {
	if !p.begin() {
		return nil, nil
	}
	defer p.end()

	res, err := p.lister.ListImages(ctx, 1, p.pageSize)
	if err != nil {
		return nil, &domain.PageFetchError{Page: 1, Err: err}
	}

	p.mu.Lock()
	p.page = 1
	p.eof = len(res.Items) < p.pageSize
	p.mu.Unlock()
	if res.Items == nil {
		// empty history is still a completed load, distinct from the
		// nil result of a skipped one
		res.Items = []domain.Artifact{}
	}
	return res.Items, nil
}

// LoadNext fetches the following page for infinite scroll. It returns
// (nil, nil) when the end of history was reached, a fetch is already in
// flight, or the rate gate is closed; the caller simply tries again later.
func (p *Pager) LoadNext(ctx context.Context) ([]domain.Artifact, error) {
	p.mu.Lock()
	if p.eof || p.page == 0 {
		p.mu.Unlock()
		return nil, nil
	}
	next := p.page + 1
	p.mu.Unlock()

	if !p.limiter.Allow() {
		return nil, nil
	}
	if !p.begin() {
		return nil, nil
	}
	defer p.end()

	res, err := p.lister.ListImages(ctx, next, p.pageSize)
	if err != nil {
		return nil, &domain.PageFetchError{Page: next, Err: err}
	}

	p.mu.Lock()
	p.page = next
	p.eof = len(res.Items) < p.pageSize
	p.mu.Unlock()
	return res.Items, nil
}

// EndOfHistory reports whether a short page has been seen.
func (p *Pager) EndOfHistory() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.eof
}

// Page returns the last successfully loaded page number, 0 before any load.
func (p *Pager) Page() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.page
}

func (p *Pager) begin() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inFlight {
		return false
	}
	p.inFlight = true
	return true
}

func (p *Pager) end() {
	p.mu.Lock()
	p.inFlight = false
	p.mu.Unlock()
}
