package search

import "context"

// Mock is a scripted Client for tests, returning Results[query] or Default
// when a query has no scripted entry.
type Mock struct {
	Results map[string][]Result
	Default []Result
	Err     error
	Queries []string
}

// NewMock builds a Mock with the given per-query scripted results.
func NewMock(results map[string][]Result) *Mock {
	return &Mock{Results: results}
}

// Search implements Client.
func (m *Mock) Search(_ context.Context, query string, maxResults int) ([]Result, error) {
	m.Queries = append(m.Queries, query)
	if m.Err != nil {
		return nil, m.Err
	}
	results, ok := m.Results[query]
	if !ok {
		results = m.Default
	}
	if maxResults > 0 && len(results) > maxResults {
		results = results[:maxResults]
	}
	return results, nil
}
