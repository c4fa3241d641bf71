package engine

import "ragchat/internal/domain"

// Response is the answer stream of one turn along with the query and the
// passages it was built from.
type Response struct {
	stream  domain.TokenStream
	query   string
	sources []domain.SearchResult
}

// Next returns the next token.
func (r *Response) Next() (string, error) { return r.stream.Next() }

func (r *Response) Close() error { return r.stream.Close() }

// Query is the standalone question used for retrieval.
func (r *Response) Query() string { return r.query }

// Sources returns the retrieved passages.
func (r *Response) Sources() []domain.SearchResult {
	out := make([]domain.SearchResult, len(r.sources))
	copy(out, r.sources)
	return out
}
