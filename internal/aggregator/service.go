package aggregator

import "context"

// Classifier assigns an asset class to a symbol. Implemented by
// internal/aggregator/sources.Classify; kept as an interface parameter
// here so this package has no dependency on the sources package (sources
// already depends on aggregator for the Quote/Source types).
type Classifier func(symbol string) string

// Service routes a quote request to the ranked Aggregator for the
// symbol's asset class, implementing spec.md §4.2's "for each class, a
// ranked list of sources is consulted" at the asset-class granularity;
// each Aggregator instance handles the freshness cache and per-symbol
// coalescing for its own class.
type Service struct {
	classify Classifier
	byClass  map[string]*Aggregator
	fallback *Aggregator
}

// NewService builds a class-routing Service. fallback serves any class
// with no dedicated Aggregator registered (and is itself usually a
// synthetic-only Aggregator).
func NewService(classify Classifier, byClass map[string]*Aggregator, fallback *Aggregator) *Service {
	return &Service{classify: classify, byClass: byClass, fallback: fallback}
}

// Quote resolves the asset class for symbol and delegates to its
// Aggregator.
func (s *Service) Quote(ctx context.Context, symbol string) (Quote, error) {
	return s.forSymbol(symbol).GetQuote(ctx, symbol)
}

// GetQuote is an alias for Quote so *Service satisfies the same
// QuoteSource contract as a single *Aggregator (internal/router depends
// on this method name, not on the concrete aggregator type).
func (s *Service) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	return s.Quote(ctx, symbol)
}

// Quotes resolves a batch. A per-symbol failure does not abort the whole
// batch: that symbol is simply left out of the returned map, and no
// missing-quote marker or error is recorded for it.
func (s *Service) Quotes(ctx context.Context, symbols []string) map[string]Quote {
	out := make(map[string]Quote, len(symbols))
	for _, sym := range symbols {
		if q, err := s.Quote(ctx, sym); err == nil {
			out[sym] = q
		}
	}
	return out
}

func (s *Service) forSymbol(symbol string) *Aggregator {
	if s.classify == nil {
		return s.fallback
	}
	class := s.classify(symbol)
	if agg, ok := s.byClass[class]; ok {
		return agg
	}
	return s.fallback
}
