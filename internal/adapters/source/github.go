package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v61/github"
	"golang.org/x/oauth2"

	"github.com/Mihirgupta25/open-source-tracker/internal/adapters/pager"
	"github.com/Mihirgupta25/open-source-tracker/internal/domain/model"
	"github.com/Mihirgupta25/open-source-tracker/pkg/logger"
)

// Subject selects what a GitHub search counts.
type Subject string

// Search subjects.
const (
	SubjectPullRequests Subject = "pr"
	SubjectIssues       Subject = "issue"
)

// GitHub reads stargazer events and repository counters from the GitHub REST API.
type GitHub struct {
	client  *github.Client
	perPage int
	logger  logger.Logger
}

// NewGitHub creates a GitHub source. A token, when set, is attached through an
// oauth2 transport wrapping the configured HTTP client.
func NewGitHub(opts ...Option) (*GitHub, error) {
	o := buildOptions("github", opts)

	hc := o.httpClient
	if o.token != "" {
		hc = &http.Client{
			Timeout: hc.Timeout,
			Transport: &oauth2.Transport{
				Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: o.token}),
				Base:   hc.Transport,
			},
		}
	}

	client := github.NewClient(hc)
	if o.baseURL != "" {
		base := o.baseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("github base url %q: %w", o.baseURL, err)
		}
		client.BaseURL = u
	}

	return &GitHub{client: client, perPage: o.perPage, logger: o.logger}, nil
}

// Stargazers returns a pager endpoint listing a repository's stargazers as Started
// events. Entries without a starred-at timestamp are counted as skipped.
func (g *GitHub) Stargazers(repo string) pager.Endpoint[model.RawEvent] {
	return pager.Endpoint[model.RawEvent]{
		Name: "github.stargazers",
		Fetch: func(ctx context.Context, c pager.Cursor) (pager.Page[model.RawEvent], error) {
			owner, name, err := splitRepo(repo)
			if err != nil {
				return pager.Page[model.RawEvent]{}, err
			}

			gazers, resp, err := g.client.Activity.ListStargazers(ctx, owner, name, &github.ListOptions{
				Page:    c.Page,
				PerPage: g.perPage,
			})
			if err != nil {
				return pager.Page[model.RawEvent]{}, classifyGitHub(ctx, "list stargazers "+repo, err)
			}

			page := pager.Page[model.RawEvent]{Records: make([]model.RawEvent, 0, len(gazers))}
			for _, s := range gazers {
				if s == nil || s.StarredAt == nil {
					page.Skipped++
					continue
				}
				page.Records = append(page.Records, model.RawEvent{
					EntityID:   repo,
					OccurredAt: s.GetStarredAt().Time,
					Kind:       model.Started,
					Actor:      s.GetUser().GetLogin(),
				})
			}
			page.Last = resp == nil || resp.NextPage == 0
			return page, nil
		},
	}
}

// StarCount returns the repository's current stargazer total.
func (g *GitHub) StarCount(ctx context.Context, repo string) (int64, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return 0, err
	}
	r, _, err := g.client.Repositories.Get(ctx, owner, name)
	if err != nil {
		return 0, classifyGitHub(ctx, "get repository "+repo, err)
	}
	return int64(r.GetStargazersCount()), nil
}

// OpenClosed returns the number of open and closed pull requests or issues, sampled
// back to back from the search API.
func (g *GitHub) OpenClosed(ctx context.Context, repo string, subject Subject) (int64, int64, error) {
	if _, _, err := splitRepo(repo); err != nil {
		return 0, 0, err
	}
	open, err := g.searchTotal(ctx, fmt.Sprintf("repo:%s is:%s is:open", repo, subject))
	if err != nil {
		return 0, 0, err
	}
	closed, err := g.searchTotal(ctx, fmt.Sprintf("repo:%s is:%s is:closed", repo, subject))
	if err != nil {
		return 0, 0, err
	}
	return open, closed, nil
}

func (g *GitHub) searchTotal(ctx context.Context, query string) (int64, error) {
	res, _, err := g.client.Search.Issues(ctx, query, &github.SearchOptions{
		ListOptions: github.ListOptions{PerPage: 1},
	})
	if err != nil {
		return 0, classifyGitHub(ctx, "search "+query, err)
	}
	if res.Total == nil {
		return 0, fmt.Errorf("search %s: missing total_count: %w", query, pager.ErrMalformed)
	}
	return int64(res.GetTotal()), nil
}

// classifyGitHub maps go-github errors onto pager error classes.
func classifyGitHub(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	var respErr *github.ErrorResponse
	switch {
	case errors.As(err, &rateErr), errors.As(err, &abuseErr):
		return fmt.Errorf("%s: %w: %w", op, pager.ErrRateLimited, err)
	case errors.As(err, &respErr) && respErr.Response != nil:
		code := respErr.Response.StatusCode
		switch {
		case code == http.StatusTooManyRequests:
			return fmt.Errorf("%s: %w: %w", op, pager.ErrRateLimited, err)
		case code >= http.StatusInternalServerError:
			return fmt.Errorf("%s: %w: %w", op, pager.ErrTransient, err)
		default:
			return fmt.Errorf("%s: %w: %w", op, pager.ErrPermanent, err)
		}
	default:
		return fmt.Errorf("%s: %w: %w", op, pager.ErrTransient, err)
	}
}

func splitRepo(repo string) (string, string, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("repository %q: %w: %w", repo, pager.ErrPermanent, ErrInvalidRepo)
	}
	return owner, name, nil
}
