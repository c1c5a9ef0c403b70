package pipeline

import (
	"github.com/couchcryptid/covid-state-etl/internal/config"
	"github.com/couchcryptid/covid-state-etl/internal/domain"
	"github.com/couchcryptid/covid-state-etl/internal/source"
)

// FeedClient fetches whole and paged feeds.
type FeedClient interface {
	source.Fetcher
	source.PagedFetcher
}

// Sources builds the reference loader and the observation loaders enabled by
// cfg. A configured line list replaces the wide cases and deaths feeds, which
// carry the same metrics.
func Sources(cfg *config.Config, f FeedClient) (*source.ReferenceLoader, []source.Loader) {
	ref := source.NewReferenceLoader(f, cfg.AbbreviationsURL, cfg.PopulationURL)

	var loaders []source.Loader
	if cfg.LineListURL != "" {
		loaders = append(loaders, source.NewLineListLoader(f, cfg.LineListURL, cfg.LineListMember))
	} else {
		if cfg.CasesURL != "" {
			loaders = append(loaders, source.NewWideSeriesLoader(f, source.NameCases, domain.Confirmed, cfg.CasesURL))
		}
		if cfg.DeathsURL != "" {
			loaders = append(loaders, source.NewWideSeriesLoader(f, source.NameDeaths, domain.Deaths, cfg.DeathsURL))
		}
	}
	if cfg.HospitalURL != "" {
		loaders = append(loaders, source.NewHospitalLoader(f, cfg.HospitalURL, cfg.HospitalPageSize))
	}
	return ref, loaders
}
