// Package paginator walks the API's page-numbered list endpoints.
//
// Every paginated endpoint answers with the envelope
//
//	{"Data": {"Items": [...], "NumberOfPages": n, "CurrentPage": k}}
//
// and accepts pageNumber (1-based) and pageSize query parameters.
package paginator

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/tap-acuite/internal/tap"
)

// DefaultPageSize is used when a caller passes a non-positive page size.
const DefaultPageSize = 1000

// Page is one decoded page of a list endpoint.
type Page struct {
	Items         []tap.Record `json:"Items"`
	NumberOfPages int          `json:"NumberOfPages"`
	CurrentPage   int          `json:"CurrentPage"`
}

type envelope struct {
	Data Page `json:"Data"`
}

// Option customizes a Paginator.
type Option func(*Paginator)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Paginator) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Paginator fetches pages through a tap.Fetcher. Concurrency is bounded by
// the fetcher, not here.
type Paginator struct {
	fetcher tap.Fetcher
	logger  *zap.Logger
}

// New builds a Paginator over f.
func New(f tap.Fetcher, opts ...Option) *Paginator {
	p := &Paginator{fetcher: f, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FetchPage retrieves page number (1-based) of req.
func (p *Paginator) FetchPage(ctx context.Context, req tap.FetchRequest, pageSize, number int) (Page, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	pageReq := req.WithQuery(url.Values{
		"pageNumber": {strconv.Itoa(number)},
		"pageSize":   {strconv.Itoa(pageSize)},
	})
	body, err := p.fetcher.Fetch(ctx, pageReq)
	if err != nil {
		return Page{}, err
	}
	var env envelope
	if err := tap.DecodeJSON(body, &env); err != nil {
		return Page{}, fmt.Errorf("%s page %d: %w", req.Resource, number, err)
	}
	if env.Data.CurrentPage == 0 {
		env.Data.CurrentPage = number
	}
	return env.Data, nil
}

// Collect returns every item of req in page order. Page 1 is fetched first to
// learn the page count; pages 2..N are then fetched concurrently and
// concatenated by page index, so N pages cost exactly N requests. The first
// failing page cancels the rest and its error is returned.
func (p *Paginator) Collect(ctx context.Context, req tap.FetchRequest, pageSize int) ([]tap.Record, error) {
	first, err := p.FetchPage(ctx, req, pageSize, 1)
	if err != nil {
		return nil, err
	}
	if first.NumberOfPages <= 1 {
		return first.Items, nil
	}

	pages := make([][]tap.Record, first.NumberOfPages)
	pages[0] = first.Items
	g, gctx := errgroup.WithContext(ctx)
	for number := 2; number <= first.NumberOfPages; number++ {
		g.Go(func() error {
			page, err := p.FetchPage(gctx, req, pageSize, number)
			if err != nil {
				return err
			}
			pages[number-1] = page.Items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, items := range pages {
		total += len(items)
	}
	out := make([]tap.Record, 0, total)
	for _, items := range pages {
		out = append(out, items...)
	}
	p.logger.Debug("collected pages",
		zap.String("resource", req.Resource),
		zap.Int("pages", first.NumberOfPages),
		zap.Int("items", total),
	)
	return out, nil
}

// Pages lazily yields pages of req in order. Page k+1 is requested only when
// the consumer asks for more after page k. Iteration ends after the last page
// or after yielding the first error. Each range starts again from page 1.
func (p *Paginator) Pages(ctx context.Context, req tap.FetchRequest, pageSize int) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		for number := 1; ; number++ {
			page, err := p.FetchPage(ctx, req, pageSize, number)
			if err != nil {
				yield(Page{}, err)
				return
			}
			if !yield(page, nil) {
				return
			}
			if page.CurrentPage >= page.NumberOfPages {
				return
			}
		}
	}
}
