package search

import (
	"context"
	"strings"
	"time"

	"melostream/searchservice/internal/domain"
)

// diagnosticsQuery is a deliberately common term so a healthy catalog always
// returns something for it.
const diagnosticsQuery = "love"

// TestSource runs a canary search against one source and reports the outcome
// without going through cache or history.
func (s *Service) TestSource(ctx context.Context, sourceName string) domain.SourceStatus {
	name := strings.ToLower(strings.TrimSpace(sourceName))
	source, ok := s.sources[name]
	if !ok {
		return domain.SourceStatus{Name: name, OK: false, Error: ErrUnknownSource.Error()}
	}

	items, err := source.Search(ctx, diagnosticsQuery, 5)
	status := domain.SourceStatus{
		Name:  name,
		OK:    err == nil,
		Count: len(items),
	}
	if err != nil {
		status.Error = err.Error()
	}
	return status
}

// RunDiagnostics actively probes every registered endpoint of every source,
// regardless of its recorded health, and returns the per-endpoint outcomes.
// Probes do not touch the failure counters; they are a read-only inspection.
func (s *Service) RunDiagnostics(ctx context.Context, probe func(ctx context.Context, source, baseURL string) error) []domain.EndpointProbe {
	probes := make([]domain.EndpointProbe, 0, len(s.sourceOrder)*3)
	for _, name := range s.sourceOrder {
		holder, ok := s.sources[name].(RegistryHolder)
		if !ok {
			continue
		}
		registry := holder.Registry()
		for _, ep := range registry.Endpoints() {
			startedAt := time.Now()
			err := probe(ctx, name, ep.BaseURL)
			result := domain.EndpointProbe{
				Source:    name,
				Endpoint:  ep.ID,
				OK:        err == nil,
				ElapsedMS: time.Since(startedAt).Milliseconds(),
			}
			if err != nil {
				result.Error = err.Error()
			}
			probes = append(probes, result)
			if ctx.Err() != nil {
				return probes
			}
		}
	}
	return probes
}
