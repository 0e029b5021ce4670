package parser

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"PaperSieve/internal/domain"
	"PaperSieve/internal/scanner"
)

const (
	arxivBaseURL = "https://arxiv.org"
	userAgent    = "PaperSieve/1.0"

	defaultPageSize   = 200
	defaultAttempts   = 3
	defaultRetryDelay = 2 * time.Second
)

var (
	dateExpr     = regexp.MustCompile(`\d{1,2} [A-Za-z]{3} \d{4}`)
	versionExpr  = regexp.MustCompile(`v\d+$`)
	categoryExpr = regexp.MustCompile(`\(([a-z\-]+(?:\.[A-Za-z\-]+)?)\)`)
)

// ArxivScanner crawls category list pages and extracts papers published
// since the requested day.
type ArxivScanner struct {
	client     *http.Client
	logger     *zap.Logger
	pageSize   int
	attempts   int
	retryDelay time.Duration
}

// Option customises an ArxivScanner.
type Option func(*ArxivScanner)

// WithRetry bounds page fetch attempts with a fixed delay between them.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(a *ArxivScanner) {
		if attempts > 0 {
			a.attempts = attempts
		}
		if delay >= 0 {
			a.retryDelay = delay
		}
	}
}

// WithPageSize overrides the number of entries requested per page.
func WithPageSize(n int) Option {
	return func(a *ArxivScanner) {
		if n > 0 {
			a.pageSize = n
		}
	}
}

// NewArxivScanner wires an HTTP client; pageSize defaults to 200.
func NewArxivScanner(client *http.Client, log *zap.Logger, opts ...Option) *ArxivScanner {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if log == nil {
		log = zap.NewNop()
	}
	a := &ArxivScanner{
		client:     client,
		logger:     log,
		pageSize:   defaultPageSize,
		attempts:   defaultAttempts,
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name identifies the strategy inside the registry.
func (a *ArxivScanner) Name() string {
	return "arxiv"
}

// Scan walks through each category URL and returns all papers published on
// or after req.Since. Papers listed under several categories are returned once.
func (a *ArxivScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.Paper, error) {
	if len(req.Categories) == 0 {
		return nil, eris.Errorf("no categories provided for site %s", req.SiteName)
	}

	sinceDay := req.Since.UTC().Truncate(24 * time.Hour)
	results := make([]domain.Paper, 0)
	seen := map[string]struct{}{}

	for _, cat := range req.Categories {
		skip := 0
		for {
			pageURL, err := buildPageURL(cat.URL, skip, a.pageSize)
			if err != nil {
				return nil, eris.Wrapf(err, "category %s", cat.Name)
			}

			doc, err := a.fetchDocument(ctx, pageURL)
			if err != nil {
				return nil, eris.Wrapf(err, "category %s", cat.Name)
			}

			pagePapers, shouldContinue := a.extractPapers(doc, sinceDay, req.SiteName, cat.Name)
			for _, paper := range pagePapers {
				if _, ok := seen[paper.ID]; ok {
					continue
				}
				seen[paper.ID] = struct{}{}
				results = append(results, paper)
			}

			if !shouldContinue {
				break
			}
			skip += a.pageSize
		}
	}

	return results, nil
}

func (a *ArxivScanner) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	op := func() (*goquery.Document, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return nil, backoff.Permanent(eris.Wrap(err, "build request"))
		}
		req.Header.Set("User-Agent", userAgent)

		resp, err := a.client.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "request document")
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			err := eris.Errorf("arxiv returned %s", resp.Status)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}

		doc, err := goquery.NewDocumentFromReader(resp.Body)
		if err != nil {
			return nil, eris.Wrap(err, "parse document")
		}
		return doc, nil
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(a.retryDelay)),
		backoff.WithMaxTries(uint(a.attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			a.logger.Warn("retrying page fetch",
				zap.String("url", pageURL),
				zap.Error(err),
				zap.Duration("next", next),
			)
		}),
	)
}

func (a *ArxivScanner) extractPapers(doc *goquery.Document, sinceDay time.Time, siteName, category string) ([]domain.Paper, bool) {
	var (
		collected    []domain.Paper
		continueScan = true
		processed    int
	)

	doc.Find("dl > dt").EachWithBreak(func(i int, dt *goquery.Selection) bool {
		dd := dt.Next()
		processed++

		paper, err := parseEntry(dt, dd, siteName, category)
		if err != nil {
			a.logger.Debug("skipping entry", zap.Int("index", i), zap.Error(err))
			return true
		}

		paperDay := paper.Published.UTC().Truncate(24 * time.Hour)
		if paperDay.Before(sinceDay) {
			continueScan = false
			return false
		}
		collected = append(collected, paper)

		return true
	})

	if processed < a.pageSize {
		continueScan = false
	}

	return collected, continueScan
}

func parseEntry(dt, dd *goquery.Selection, siteName, category string) (domain.Paper, error) {
	anchor := dt.Find("a[href*=\"/abs/\"]").First()
	href, _ := anchor.Attr("href")

	externalID := strings.TrimSpace(anchor.Text())
	externalID = strings.TrimSpace(strings.TrimPrefix(externalID, "arXiv:"))
	if externalID == "" {
		externalID = strings.TrimPrefix(href, "/abs/")
	}
	if externalID == "" {
		return domain.Paper{}, eris.New("entry without identifier")
	}

	if !strings.HasPrefix(href, "http") {
		href = strings.TrimSuffix(arxivBaseURL, "/") + href
	}

	title := strings.TrimSpace(dd.Find(".list-title").First().Text())
	title = strings.TrimPrefix(title, "Title:")
	title = strings.Join(strings.Fields(title), " ")
	if title == "" {
		return domain.Paper{}, eris.Errorf("entry %s without title", externalID)
	}

	summary := dd.Find("p.mathjax").First().Text()
	summary = strings.TrimPrefix(strings.TrimSpace(summary), "Abstract:")
	summary = strings.Join(strings.Fields(summary), " ")

	var authors []string
	dd.Find(".list-authors a").Each(func(_ int, s *goquery.Selection) {
		if name := strings.TrimSpace(s.Text()); name != "" {
			authors = append(authors, name)
		}
	})

	var categories []string
	for _, m := range categoryExpr.FindAllStringSubmatch(dd.Find(".list-subjects").First().Text(), -1) {
		categories = append(categories, m[1])
	}
	if len(categories) == 0 && category != "" {
		categories = []string{category}
	}

	dateText := strings.TrimSpace(dd.Find(".list-date").First().Text())
	if dateText == "" {
		dateText = strings.TrimSpace(dd.Find(".list-dateline").First().Text())
	}

	publishedAt := time.Now().UTC()
	if match := dateExpr.FindString(dateText); match != "" {
		if parsed, err := time.Parse("2 Jan 2006", match); err == nil {
			publishedAt = parsed
		}
	}

	source := siteName
	if category != "" {
		source = fmt.Sprintf("%s/%s", siteName, category)
	}

	return domain.Paper{
		ID:         canonicalID(externalID),
		ExternalID: externalID,
		Title:      title,
		Authors:    authors,
		Summary:    summary,
		Published:  publishedAt,
		Categories: categories,
		Link:       href,
		PDFLink:    strings.TrimSuffix(arxivBaseURL, "/") + "/pdf/" + externalID,
		Source:     source,
	}, nil
}

// canonicalID strips the version suffix: 2501.00001v2 becomes 2501.00001.
func canonicalID(externalID string) string {
	return versionExpr.ReplaceAllString(externalID, "")
}

func buildPageURL(base string, skip, pageSize int) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", eris.Wrapf(err, "invalid category url %s", base)
	}

	query := parsed.Query()
	query.Set("skip", strconv.Itoa(skip))
	query.Set("show", strconv.Itoa(pageSize))
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
