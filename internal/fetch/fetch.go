// Package fetch turns a public URL into page text suitable for lead
// extraction.
package fetch

import "context"

// Page is the readable content of one fetched URL.
type Page struct {
	URL      string
	Title    string
	Content  string
	Metadata map[string]string
}

// Fetcher retrieves a single URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, url string) (Page, error)

func (f FetcherFunc) Fetch(ctx context.Context, url string) (Page, error) {
	return f(ctx, url)
}
