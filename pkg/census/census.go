// Package census fetches demographic reference data from the Census Bureau
// data API: county-level race/ethnicity populations per vintage and
// tract-level household distributions. The client is safe for concurrent
// use; identical in-flight requests are coalesced.
package census

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/justdata-platform/justdata/internal/resilience"
)

const defaultBaseURL = "https://api.census.gov/data"

// Vintage identifies a census data edition.
type Vintage string

const (
	Vintage2010 Vintage = "2010-decennial"
	Vintage2020 Vintage = "2020-decennial"
	VintageACS  Vintage = "latest-acs-5yr"
)

// Share keys used in DemographicsRow.Populations. The first six align with
// the lending classification tags; other and two-or-more only exist on the
// census side.
const (
	KeyHispanic       = "hispanic"
	KeyWhite          = "white"
	KeyBlack          = "black"
	KeyNativeAmerican = "native-american"
	KeyAsian          = "asian"
	KeyHPI            = "hpi"
	KeyOther          = "other"
	KeyTwoOrMore      = "two-or-more"
)

// DemographicsRow is one county's population breakdown for a vintage.
// Non-Hispanic race counts; Hispanic of any race under KeyHispanic.
type DemographicsRow struct {
	CountyCode      string
	TotalPopulation int64
	Populations     map[string]int64
}

// TractRow is one tract's household distribution. MedianIncome and
// MinorityPct are nil when the source suppresses the value.
type TractRow struct {
	TractID      string
	Households   int64
	MedianIncome *float64
	MinorityPct  *float64
}

// Client talks to the census data API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string

	limiter *adaptiveLimiter
	gate    *semaphore.Weighted
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
	group   singleflight.Group
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithBaseURL points the client at a different API root.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithRateLimit sets the steady-state request rate.
func WithRateLimit(perSecond float64) Option {
	return func(c *Client) { c.limiter = newAdaptiveLimiter(perSecond) }
}

// WithMaxConcurrent bounds in-flight requests.
func WithMaxConcurrent(n int64) Option {
	return func(c *Client) { c.gate = semaphore.NewWeighted(n) }
}

// WithRetryConfig replaces the retry policy.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// New creates a census client. An empty API key is allowed for the public
// unauthenticated tier, which has a much lower quota.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		limiter:    newAdaptiveLimiter(10),
		gate:       semaphore.NewWeighted(4),
		breaker:    resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
		retry:      resilience.CensusRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BreakerState exposes the circuit state for the metrics surface.
func (c *Client) BreakerState() resilience.CircuitState {
	return c.breaker.State()
}

// groupByState splits five-character county codes into state → three-digit
// county suffixes, states sorted for deterministic request order.
func groupByState(counties []string) (map[string][]string, []string) {
	byState := make(map[string][]string)
	for _, code := range counties {
		if len(code) != 5 {
			continue
		}
		state, county := code[:2], code[2:]
		byState[state] = append(byState[state], county)
	}
	states := make([]string, 0, len(byState))
	for s := range byState {
		sort.Strings(byState[s])
		states = append(states, s)
	}
	sort.Strings(states)
	return byState, states
}
