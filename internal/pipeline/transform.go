package pipeline

import (
	"fmt"

	"github.com/couchcryptid/covid-state-etl/internal/domain"
	"github.com/couchcryptid/covid-state-etl/internal/source"
)

// Reconciled is the output of the normalize and reshape stage.
type Reconciled struct {
	States     map[string]*domain.StateTimeSeries
	Rejections []domain.Rejection
	Normalized map[string]int // observations kept per source
}

// Reconcile normalizes every batch against the resolver and reshapes the
// combined observations into per-state daily tables. Two batches may not
// contribute the same metric; summing them would double count.
func Reconcile(ref *domain.Resolver, batches []source.Batch, p domain.Precedence) (*Reconciled, error) {
	owner := make(map[domain.Metric]string)
	var specs []domain.MetricSpec
	for _, b := range batches {
		for _, s := range b.Specs {
			if prev, dup := owner[s.Name]; dup {
				return nil, fmt.Errorf("metric %q provided by both %s and %s", s.Name, prev, b.Source)
			}
			owner[s.Name] = b.Source
			specs = append(specs, s)
		}
	}

	out := &Reconciled{Normalized: make(map[string]int, len(batches))}
	var all []domain.NormalizedObservation
	for _, b := range batches {
		norm, rejected := domain.Normalize(b.Source, b.Observations, ref, p)
		out.Normalized[b.Source] = len(norm)
		out.Rejections = append(out.Rejections, rejected...)
		all = append(all, norm...)
	}

	out.States = domain.Reshape(all, specs)
	return out, nil
}
