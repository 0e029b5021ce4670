package parser

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"PaperSieve/internal/config"
	"PaperSieve/internal/domain"
	"PaperSieve/internal/ports"
	"PaperSieve/internal/scanner"
)

// StrategySource implements PaperSource via registered scanner strategies.
type StrategySource struct {
	registry *scanner.Registry
	sites    []config.SiteConfig
	logger   *zap.Logger
}

var _ ports.PaperSource = (*StrategySource)(nil)

// NewStrategySource wires scanner registry with config-defined sites.
func NewStrategySource(reg *scanner.Registry, sites []config.SiteConfig, log *zap.Logger) *StrategySource {
	if log == nil {
		log = zap.NewNop()
	}
	return &StrategySource{
		registry: reg,
		sites:    sites,
		logger:   log,
	}
}

// FetchRecent iterates over configured sites and executes their scanners.
// A site whose scan fails is skipped; the call fails only when the source is
// misconfigured or every site failed.
func (s *StrategySource) FetchRecent(ctx context.Context, since time.Time) ([]domain.Paper, error) {
	if s.registry == nil {
		return nil, eris.New("scanner registry is not configured")
	}

	s.logger.Debug("fetch recent", zap.Int("sites", len(s.sites)), zap.String("since", since.Format("2006-01-02")))

	var (
		aggregated []domain.Paper
		failures   []error
		seen       = map[string]struct{}{}
	)
	for _, site := range s.sites {
		s.logger.Debug("process site",
			zap.String("site", site.Name),
			zap.String("scanner", site.Scanner),
			zap.Int("categories", len(site.Categories)),
		)
		strategy, err := s.registry.Resolve(site.Scanner)
		if err != nil {
			return nil, eris.Wrapf(err, "site %s", site.Name)
		}

		req := scanner.Request{
			Since:      since,
			SiteName:   site.Name,
			Options:    site.Options,
			Categories: toScannerCategories(site.Categories),
		}

		results, err := strategy.Scan(ctx, req)
		if err != nil {
			s.logger.Error("site scan failed", zap.String("site", site.Name), zap.Error(err))
			failures = append(failures, eris.Wrapf(err, "scan site %s", site.Name))
			continue
		}

		kept := 0
		for _, p := range results {
			if _, dup := seen[p.ID]; dup {
				continue
			}
			seen[p.ID] = struct{}{}
			if p.Source == "" {
				p.Source = site.Name
			}
			aggregated = append(aggregated, p)
			kept++
		}
		s.logger.Debug("site produced papers", zap.String("site", site.Name), zap.Int("count", kept))
	}

	if len(failures) > 0 && len(failures) == len(s.sites) {
		return nil, errors.Join(failures...)
	}

	s.logger.Info("fetched papers", zap.Int("total", len(aggregated)))
	return aggregated, nil
}

func toScannerCategories(cfg []config.CategoryConfig) []scanner.Category {
	categories := make([]scanner.Category, 0, len(cfg))
	for _, cat := range cfg {
		categories = append(categories, scanner.Category{
			Name: cat.Name,
			URL:  cat.URL,
		})
	}
	return categories
}
