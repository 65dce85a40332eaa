// Package gateway provides a gateway to the GitHub API,
// abstracting away the underlying REST and GraphQL clients.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/go-github/v62/github"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"

	"github.com/gofri/go-github-ratelimit/github_ratelimit"

	"github.com/naka-gawa/github-traffic/internal/domain"
)

var (
	// ErrAccessForbidden is returned when GitHub answers 403, typically because the
	// token lacks push access to the repository.
	ErrAccessForbidden = errors.New("403 access forbidden")
	// ErrInvalidRepo is returned for identifiers not of the form owner/name.
	ErrInvalidRepo = errors.New("invalid repository identifier")
)

// Fetcher defines the behavior of a gateway for fetching traffic information from GitHub.
type Fetcher interface {
	FetchClones(ctx context.Context, repo string) (*domain.TrafficWindow, error)
	FetchViews(ctx context.Context, repo string) (*domain.TrafficWindow, error)
	// ListRepositories returns the owner/name of every repository owned by the authenticated user.
	ListRepositories(ctx context.Context) ([]string, error)
}

// GitHubGateway is the concrete implementation of the Fetcher interface.
type GitHubGateway struct {
	restClient    *github.Client
	graphqlClient *githubv4.Client
	logger        *slog.Logger
}

// viewerRepositoriesQuery pages through the repositories owned by the token's user.
type viewerRepositoriesQuery struct {
	Viewer struct {
		Repositories struct {
			PageInfo struct {
				HasNextPage bool
				EndCursor   githubv4.String
			}
			Nodes []struct {
				NameWithOwner string
			}
		} `graphql:"repositories(first: 100, after: $cursor, ownerAffiliations: OWNER)"`
	}
}

// NewGitHubGateway is a constructor that creates a new instance of GitHubGateway.
func NewGitHubGateway(token, userAgent string, logger *slog.Logger) (Fetcher, error) {
	rateLimitWaiter, err := github_ratelimit.NewRateLimitWaiter(nil, github_ratelimit.WithSingleSleepLimit(1*time.Hour, nil))
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit waiter: %w", err)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := &http.Client{
		Transport: &oauth2.Transport{
			Base:   rateLimitWaiter,
			Source: ts,
		},
	}
	restClient := github.NewClient(httpClient)
	if userAgent != "" {
		restClient.UserAgent = userAgent
	}
	return &GitHubGateway{
		restClient:    restClient,
		graphqlClient: githubv4.NewClient(httpClient),
		logger:        logger.With("component", "gateway"),
	}, nil
}

// FetchClones returns the per-day clone window of repo.
func (g *GitHubGateway) FetchClones(ctx context.Context, repo string) (*domain.TrafficWindow, error) {
	owner, name, ok := domain.SplitRepo(repo)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRepo, repo)
	}
	g.logger.Debug("fetching clone traffic", "repo", repo)
	clones, resp, err := g.restClient.Repositories.ListTrafficClones(ctx, owner, name, &github.TrafficBreakdownOptions{Per: "day"})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch clone traffic for %s: %w", repo, classify(resp, err))
	}
	return toWindow(clones.GetCount(), clones.GetUniques(), clones.Clones), nil
}

// FetchViews returns the per-day view window of repo.
func (g *GitHubGateway) FetchViews(ctx context.Context, repo string) (*domain.TrafficWindow, error) {
	owner, name, ok := domain.SplitRepo(repo)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRepo, repo)
	}
	g.logger.Debug("fetching view traffic", "repo", repo)
	views, resp, err := g.restClient.Repositories.ListTrafficViews(ctx, owner, name, &github.TrafficBreakdownOptions{Per: "day"})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch view traffic for %s: %w", repo, classify(resp, err))
	}
	return toWindow(views.GetCount(), views.GetUniques(), views.Views), nil
}

// ListRepositories discovers the repositories owned by the authenticated user.
func (g *GitHubGateway) ListRepositories(ctx context.Context) ([]string, error) {
	g.logger.Debug("listing owned repositories")
	variables := map[string]interface{}{"cursor": (*githubv4.String)(nil)}
	var repos []string
	for {
		var q viewerRepositoriesQuery
		if err := g.graphqlClient.Query(ctx, &q, variables); err != nil {
			return nil, fmt.Errorf("failed to execute GraphQL query for repositories: %w", err)
		}
		for _, node := range q.Viewer.Repositories.Nodes {
			if node.NameWithOwner != "" {
				repos = append(repos, node.NameWithOwner)
			}
		}
		if !q.Viewer.Repositories.PageInfo.HasNextPage {
			break
		}
		variables["cursor"] = githubv4.NewString(q.Viewer.Repositories.PageInfo.EndCursor)
		g.logger.Debug("fetching next page of repositories")
	}
	g.logger.Debug("completed listing repositories", "count", len(repos))
	return repos, nil
}

// toWindow converts the API samples into a window sorted by day with one point per day.
func toWindow(count, uniques int, data []*github.TrafficData) *domain.TrafficWindow {
	items := make([]domain.TrafficPoint, 0, len(data))
	for _, d := range data {
		items = append(items, domain.NewTrafficPoint(d.GetTimestamp().Time, d.GetCount(), d.GetUniques()))
	}
	return &domain.TrafficWindow{Count: count, Uniques: uniques, Items: domain.Repair(items)}
}

// classify tags 403 responses with ErrAccessForbidden, keeping the original error in the chain.
func classify(resp *github.Response, err error) error {
	if resp != nil && resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: %w", ErrAccessForbidden, err)
	}
	return err
}
