package collector

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v55/github"
	"github.com/gregjones/httpcache"
	"golang.org/x/oauth2"
)

// NewHTTPClient builds the transport used for GitHub calls. With cache set,
// responses are kept in memory and revalidated with ETags, so unchanged
// pages come back as 304s.
func NewHTTPClient(token string, cache bool) *http.Client {
	var base http.RoundTripper = http.DefaultTransport
	if cache {
		base = httpcache.NewMemoryCacheTransport()
	}
	if token == "" {
		return &http.Client{Transport: base}
	}

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Transport: base})
	return oauth2.NewClient(ctx, ts)
}

// NewGitHubClient creates a go-github client on httpClient. An empty baseURL
// keeps the public API endpoint.
func NewGitHubClient(httpClient *http.Client, baseURL string) (*github.Client, error) {
	client := github.NewClient(httpClient)
	if baseURL == "" {
		return client, nil
	}

	u, err := url.Parse(strings.TrimSuffix(baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("invalid GitHub API URL %q: %w", baseURL, err)
	}
	client.BaseURL = u
	return client, nil
}
