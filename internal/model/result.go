package model

import (
	"sort"
	"time"
)

// Result is the flattened outcome of one fetch, used for reporting and the
// transfer log.
type Result struct {
	URL       string        `json:"url"`
	Method    string        `json:"method"`
	Slot      string        `json:"slot,omitempty"`
	Status    int           `json:"status,omitempty"`
	Bytes     int           `json:"bytes"`
	Flags     []string      `json:"flags,omitempty"`
	Protocol  string        `json:"protocol,omitempty"`
	IPAddress string        `json:"ip_address,omitempty"`
	Latency   time.Duration `json:"latency"`
	ErrorKind string        `json:"error_kind,omitempty"`
	Error     string        `json:"error,omitempty"`
	FetchedAt time.Time     `json:"fetched_at"`

	// Body is kept for digesting; it is not serialized.
	Body []byte `json:"-"`
}

// NewResult builds a Result from a request and its outcome.
// kind is the error classification chosen by the caller; it is ignored when err is nil.
func NewResult(req *Request, resp *Response, err error, kind string) *Result {
	r := &Result{
		Method:    req.method(),
		URL:       req.URL.String(),
		FetchedAt: time.Now(),
	}
	if slot, ok := req.Meta.String(MetaDownloadSlot); ok {
		r.Slot = slot
	}
	if latency, ok := req.Meta.Duration(MetaDownloadLatency); ok {
		r.Latency = latency
	}
	if resp != nil {
		r.URL = resp.URL
		r.Status = resp.Status
		r.Bytes = len(resp.Body)
		r.Body = resp.Body
		r.Flags = resp.Flags
		r.Protocol = resp.Protocol
		if resp.IPAddress != nil {
			r.IPAddress = resp.IPAddress.String()
		}
	}
	if err != nil {
		r.ErrorKind = kind
		r.Error = err.Error()
	}
	return r
}

// OK reports whether the fetch produced a response.
func (r *Result) OK() bool {
	return r.Error == ""
}

// Summary aggregates the results of a fetch run.
type Summary struct {
	Results  []*Result `json:"results"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
}

// NewSummary creates an empty summary started now.
func NewSummary() *Summary {
	return &Summary{
		Results: make([]*Result, 0),
		Started: time.Now(),
	}
}

// Add appends a result.
func (s *Summary) Add(r *Result) {
	s.Results = append(s.Results, r)
}

// Succeeded returns the number of results with a response.
func (s *Summary) Succeeded() int {
	n := 0
	for _, r := range s.Results {
		if r.OK() {
			n++
		}
	}
	return n
}

// Failed returns the number of failed results.
func (s *Summary) Failed() int {
	return len(s.Results) - s.Succeeded()
}

// TotalBytes returns the sum of all received body sizes.
func (s *Summary) TotalBytes() int {
	total := 0
	for _, r := range s.Results {
		total += r.Bytes
	}
	return total
}

// Elapsed returns the wall-clock duration of the run.
func (s *Summary) Elapsed() time.Duration {
	if s.Finished.IsZero() {
		return time.Since(s.Started)
	}
	return s.Finished.Sub(s.Started)
}

// OutcomeCounts counts results by outcome: "ok" for responses and the error
// kind for failures. Keys are returned sorted.
func (s *Summary) OutcomeCounts() ([]string, map[string]int) {
	counts := make(map[string]int)
	for _, r := range s.Results {
		key := "ok"
		if !r.OK() {
			key = r.ErrorKind
			if key == "" {
				key = "error"
			}
		}
		counts[key]++
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, counts
}
