// Package cost prices adapter calls and enforces the per-run spend ceiling.
package cost

// Rates holds per-provider pricing configuration. Values are currency-neutral
// units per call or per unit of work.
type Rates struct {
	Anthropic  map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
	Dataset    DatasetRate          `yaml:"dataset" mapstructure:"dataset"`
	Scraper    ScraperRate          `yaml:"scraper" mapstructure:"scraper"`
	Search     SearchRate           `yaml:"search" mapstructure:"search"`
	Salesforce SalesforceRate       `yaml:"salesforce" mapstructure:"salesforce"`
}

// ModelRate prices one model's tokens in dollars per million. The cache
// multipliers scale the input rate.
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// DatasetRate holds dataset-filter pricing: a flat charge per snapshot plus
// a per-record download charge.
type DatasetRate struct {
	PerSnapshot float64 `yaml:"per_snapshot" mapstructure:"per_snapshot"`
	PerRecord   float64 `yaml:"per_record" mapstructure:"per_record"`
}

// ScraperRate holds profile-scraper pricing per scraped URL.
type ScraperRate struct {
	PerURL float64 `yaml:"per_url" mapstructure:"per_url"`
}

// SearchRate holds web-search pricing per query.
type SearchRate struct {
	PerQuery float64 `yaml:"per_query" mapstructure:"per_query"`
}

// SalesforceRate holds CRM pricing. API calls are covered by the org's
// license, so the default is zero; the knob exists for orgs that meter.
type SalesforceRate struct {
	PerCall float64 `yaml:"per_call" mapstructure:"per_call"`
}

// Calculator prices pipeline API usage from a rate table.
type Calculator struct {
	rates Rates
}

// NewCalculator builds a Calculator over the given rate table.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Claude computes the cost for a generative-text call. Unknown models
// price at zero rather than guessing.
func (c *Calculator) Claude(model string, input, output, cacheWrite, cacheRead int) float64 {
	rate, ok := c.rates.Anthropic[model]
	if !ok {
		return 0
	}

	tok := func(n int, per float64) float64 { return float64(n) / 1e6 * per }
	return tok(input, rate.Input) +
		tok(output, rate.Output) +
		tok(cacheWrite, rate.Input*rate.CacheWriteMul) +
		tok(cacheRead, rate.Input*rate.CacheReadMul)
}

// Snapshot returns the flat cost of submitting one dataset filter.
func (c *Calculator) Snapshot() float64 {
	return c.rates.Dataset.PerSnapshot
}

// Download computes the cost of downloading n dataset records.
func (c *Calculator) Download(records int) float64 {
	return float64(records) * c.rates.Dataset.PerRecord
}

// Scrape computes the cost of scraping n profile URLs.
func (c *Calculator) Scrape(urls int) float64 {
	return float64(urls) * c.rates.Scraper.PerURL
}

// SearchQuery returns the flat cost per web-search query.
func (c *Calculator) SearchQuery() float64 {
	return c.rates.Search.PerQuery
}

// CrmCall returns the flat cost per CRM API call.
func (c *Calculator) CrmCall() float64 {
	return c.rates.Salesforce.PerCall
}

// DefaultRates carries the published list prices current at build time.
// The pricing config section overrides them without a rebuild.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001": {
				Input: 0.80, Output: 4.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-sonnet-4-5-20250929": {
				Input: 3.00, Output: 15.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
		},
		Dataset:    DatasetRate{PerSnapshot: 0.05, PerRecord: 0.01},
		Scraper:    ScraperRate{PerURL: 0.015},
		Search:     SearchRate{PerQuery: 0.003},
		Salesforce: SalesforceRate{PerCall: 0},
	}
}
