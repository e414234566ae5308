package capability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/poiesic/conductor/core"
)

// NewGitHubClient creates a GitHub API client. An empty token gives an
// unauthenticated client. baseURL overrides the API endpoint, as for GitHub
// Enterprise or tests.
func NewGitHubClient(ctx context.Context, token, baseURL string) (*github.Client, error) {
	var httpClient *http.Client
	if token != "" {
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	}
	client := github.NewClient(httpClient)
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid github base url: %w", err)
		}
		client.BaseURL = u
	}
	return client, nil
}

// classifyGitHubError maps a go-github error onto the core taxonomy.
func classifyGitHubError(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	var respErr *github.ErrorResponse
	switch {
	case errors.As(err, &rateErr), errors.As(err, &abuseErr):
		return fmt.Errorf("%w: %w", core.ErrProviderRateLimited, err)
	case errors.As(err, &respErr) && respErr.Response != nil && respErr.Response.StatusCode < http.StatusInternalServerError:
		return fmt.Errorf("%w: %w", core.ErrInvalidRequest, err)
	default:
		return fmt.Errorf("%w: %w", core.ErrProviderUnavailable, err)
	}
}
