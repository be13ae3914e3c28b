package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"

	"github.com/pulsewire/harvester/internal/dedup"
)

const (
	defaultTimeout       = 30 * time.Second
	defaultBodyByteLimit = 2 * 1024 * 1024
	defaultUserAgent     = "harvester-fetch/1.0"
)

// Result is the outcome of fetching one article body. A fetch failure is
// never fatal: the search snippet becomes the body and Err records why.
type Result struct {
	Article     dedup.Article
	Body        string
	UsedSnippet bool
	Err         error
}

// Fetcher retrieves full article bodies. The underlying HTTP and readability
// work is blocking, so every fetch runs on a fixed-size worker pool, never on
// the goroutine that drives job orchestration.
type Fetcher struct {
	pool          *ants.Pool
	timeout       time.Duration
	bodyByteLimit int64
	userAgent     string
	httpClient    *http.Client
	logger        zerolog.Logger
}

// Options tunes the fetcher; zero values fall back to defaults.
type Options struct {
	Timeout       time.Duration
	BodyByteLimit int64
	UserAgent     string
	HTTPClient    *http.Client
}

func New(concurrency int, opts Options, logger zerolog.Logger) (*Fetcher, error) {
	if concurrency < 1 {
		return nil, fmt.Errorf("fetch concurrency must be >= 1, got %d", concurrency)
	}

	pool, err := ants.NewPool(concurrency)
	if err != nil {
		return nil, fmt.Errorf("create fetch worker pool: %w", err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	bodyLimit := opts.BodyByteLimit
	if bodyLimit <= 0 {
		bodyLimit = defaultBodyByteLimit
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	return &Fetcher{
		pool:          pool,
		timeout:       timeout,
		bodyByteLimit: bodyLimit,
		userAgent:     userAgent,
		httpClient:    client,
		logger:        logger,
	}, nil
}

// Close releases the worker pool.
func (f *Fetcher) Close() {
	if f != nil && f.pool != nil {
		f.pool.Release()
	}
}

// FetchAll dispatches every article onto the worker pool and streams results
// in completion order. Cancellation is checked before each dispatch: work
// already in flight finishes, no new work starts. The returned channel closes
// once all dispatched work has settled.
func (f *Fetcher) FetchAll(ctx context.Context, articles []dedup.Article) <-chan Result {
	out := make(chan Result, len(articles))

	go func() {
		defer close(out)

		var wg sync.WaitGroup
		for _, article := range articles {
			if ctx.Err() != nil {
				break
			}

			article := article
			wg.Add(1)
			err := f.pool.Submit(func() {
				defer wg.Done()
				out <- f.fetchOne(ctx, article)
			})
			if err != nil {
				wg.Done()
				out <- snippetFallback(article, fmt.Errorf("submit fetch: %w", err))
			}
		}
		wg.Wait()
	}()

	return out
}

func (f *Fetcher) fetchOne(ctx context.Context, article dedup.Article) Result {
	fetchCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	body, err := f.extractText(fetchCtx, article.CanonicalURL, article.Primary.Title)
	if err != nil {
		f.logger.Warn().Err(err).Str("url", article.CanonicalURL).Msg("body fetch failed, falling back to snippet")
		return snippetFallback(article, err)
	}

	return Result{Article: article, Body: body}
}

func snippetFallback(article dedup.Article, cause error) Result {
	return Result{
		Article:     article,
		Body:        CleanText(article.Primary.Snippet),
		UsedSnippet: true,
		Err:         cause,
	}
}
