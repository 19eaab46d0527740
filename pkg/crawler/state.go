package crawler

import (
	"sync"

	"catalog-crawler/pkg/models"
)

// CrawlState accumulates the accepted records of one run and tracks which
// detail URLs have already been processed, so the backlog and error passes
// never refetch a page the listing walk already covered.
type CrawlState struct {
	mu      sync.Mutex
	records []models.ProductRecord
	seen    map[string]struct{}
}

func NewCrawlState() *CrawlState {
	return &CrawlState{seen: make(map[string]struct{})}
}

// MarkSeen records the URL and reports whether it was new.
func (s *CrawlState) MarkSeen(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seen[url]; dup {
		return false
	}
	s.seen[url] = struct{}{}
	return true
}

// Append adds one accepted record.
func (s *CrawlState) Append(rec models.ProductRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
}

// Records returns a copy of the accepted records in acceptance order.
func (s *CrawlState) Records() []models.ProductRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ProductRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Len returns the number of accepted records.
func (s *CrawlState) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Stats are the run counters reported in the end-of-run summary.
type Stats struct {
	Pages       int
	Accepted    int
	Rejected    int
	Filtered    int
	NoRecord    int
	FetchErrors int
	NotFound    int
	Duplicated  int
	Flushes     int
	FlushErrors int
}
