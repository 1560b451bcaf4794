package plugins

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// GiteaFamily covers repository and issue management on a Gitea instance.
func GiteaFamily() Family {
	return Family{
		Type: "gitea",
		Specs: []Spec{
			{
				Name:        "list_repos",
				Method:      "list_repos",
				Description: "List repositories visible to the configured token",
				InputSchema: objectSchema(nil, map[string]any{
					"page":  propInt("Result page, 1-based"),
					"limit": propInt("Results per page"),
				}),
			},
			{
				Name:        "get_repo",
				Method:      "get_repo",
				Description: "Fetch one repository by owner and name",
				InputSchema: objectSchema([]string{"owner", "repo"}, map[string]any{
					"owner": propString("Repository owner"),
					"repo":  propString("Repository name"),
				}),
			},
			{
				Name:        "list_issues",
				Method:      "list_issues",
				Description: "List issues in a repository",
				InputSchema: objectSchema([]string{"owner", "repo"}, map[string]any{
					"owner": propString("Repository owner"),
					"repo":  propString("Repository name"),
					"state": propString("open, closed, or all"),
				}),
			},
			{
				Name:        "create_issue",
				Method:      "create_issue",
				Description: "Open a new issue",
				InputSchema: objectSchema([]string{"owner", "repo", "title"}, map[string]any{
					"owner": propString("Repository owner"),
					"repo":  propString("Repository name"),
					"title": propString("Issue title"),
					"body":  propString("Issue body, markdown allowed"),
				}),
				Scope: "write",
			},
		},
		New: newGitea,
	}
}

type giteaPlugin struct {
	c *restClient
}

func newGitea(config map[string]string) (Plugin, error) {
	c, err := newRESTClient(config, "url")
	if err != nil {
		return nil, err
	}
	// Gitea prefers its own token scheme over Bearer.
	if token := config["token"]; token != "" {
		c.authHeader = "token " + token
	}
	return &giteaPlugin{c: c}, nil
}

func (p *giteaPlugin) repoPath(args map[string]any) (string, error) {
	owner, err := stringArg(args, "owner")
	if err != nil {
		return "", err
	}
	repo, err := stringArg(args, "repo")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("/api/v1/repos/%s/%s", url.PathEscape(owner), url.PathEscape(repo)), nil
}

func (p *giteaPlugin) Call(ctx context.Context, method string, args map[string]any) (string, error) {
	switch method {
	case "list_repos":
		return p.c.do(ctx, http.MethodGet, "/api/v1/user/repos", queryFromArgs(args, "page", "limit"), nil)
	case "get_repo":
		path, err := p.repoPath(args)
		if err != nil {
			return "", err
		}
		return p.c.do(ctx, http.MethodGet, path, nil, nil)
	case "list_issues":
		path, err := p.repoPath(args)
		if err != nil {
			return "", err
		}
		return p.c.do(ctx, http.MethodGet, path+"/issues", queryFromArgs(args, "state"), nil)
	case "create_issue":
		path, err := p.repoPath(args)
		if err != nil {
			return "", err
		}
		return p.c.do(ctx, http.MethodPost, path+"/issues", nil, cloneWithout(args, "owner", "repo"))
	default:
		return "", ErrUnknownMethod(method)
	}
}

func (p *giteaPlugin) HealthCheck(ctx context.Context) (string, error) {
	return p.c.do(ctx, http.MethodGet, "/api/v1/version", url.Values{}, nil)
}
