package langsmith

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// PromptCommit is one versioned prompt pulled from the prompt hub. Manifest
// holds the raw serialized prompt; callers deserialize it with whatever
// prompt framework they use.
type PromptCommit struct {
	Owner      string          `json:"owner"`
	Repo       string          `json:"repo"`
	CommitHash string          `json:"commit_hash"`
	Manifest   json.RawMessage `json:"manifest"`
}

// promptCommitResponse is the wire shape of GET /commits/{owner}/{repo}/{commit}.
type promptCommitResponse struct {
	CommitHash string          `json:"commit_hash"`
	Manifest   json.RawMessage `json:"manifest"`
}

// parsePromptIdentifier splits "owner/name" or "owner/name:commit" into its
// parts. A bare "name" refers to the caller's own workspace ("-" owner);
// the commit defaults to "latest".
func parsePromptIdentifier(identifier string) (owner, name, commit string, err error) {
	commit = "latest"
	path := identifier
	if i := strings.LastIndex(identifier, ":"); i >= 0 {
		path = identifier[:i]
		commit = identifier[i+1:]
	}

	switch parts := strings.Split(path, "/"); len(parts) {
	case 1:
		owner, name = "-", parts[0]
	case 2:
		owner, name = parts[0], parts[1]
	default:
		owner = ""
	}

	if owner == "" || name == "" || commit == "" {
		return "", "", "", &ClientError{
			Op:      "parse_prompt_identifier",
			Kind:    "validation",
			ID:      identifier,
			Message: fmt.Sprintf("invalid prompt identifier %q, want owner/name[:commit]", identifier),
			Err:     ErrInvalidPromptIdentifier,
		}
	}
	return owner, name, commit, nil
}

// PullPromptCommit fetches one prompt commit by identifier
// ("owner/name", "owner/name:commit", or "name" for the caller's own
// workspace). Results come from the prompt cache when present; on a miss
// the commit is fetched and cached. If the fetch fails but a cached copy
// exists, the cached copy is served.
func (c *Client) PullPromptCommit(ctx context.Context, identifier string) (*PromptCommit, error) {
	owner, name, commit, err := parsePromptIdentifier(identifier)
	if err != nil {
		return nil, err
	}
	cacheKey := owner + "/" + name + ":" + commit

	if c.promptStore != nil {
		if raw, ok := c.promptStore.Get(ctx, cacheKey); ok {
			return decodePromptCommit(owner, name, raw)
		}
	}

	raw, err := c.fetchPromptCommit(ctx, owner, name, commit)
	if err != nil {
		// A concurrent pull may have populated the cache; serving a
		// cached copy beats failing when upstream is down.
		if c.promptStore != nil {
			if cached, ok := c.promptStore.Get(ctx, cacheKey); ok {
				c.logger.Warn("Prompt fetch failed, serving cached copy", map[string]interface{}{
					"operation": "pull_prompt_commit",
					"prompt":    cacheKey,
					"error":     err.Error(),
				})
				return decodePromptCommit(owner, name, cached)
			}
		}
		return nil, err
	}

	if c.promptStore != nil {
		if err := c.promptStore.Set(ctx, cacheKey, raw); err != nil {
			c.logger.Warn("Prompt cache store failed", map[string]interface{}{
				"operation": "pull_prompt_commit",
				"prompt":    cacheKey,
				"error":     err.Error(),
			})
		}
	}
	return decodePromptCommit(owner, name, raw)
}

func (c *Client) fetchPromptCommit(ctx context.Context, owner, name, commit string) (json.RawMessage, error) {
	header := http.Header{}
	header.Set("Accept", "application/json")
	header.Set("User-Agent", UserAgent)
	if c.config.APIKey != "" {
		header.Set("x-api-key", c.config.APIKey)
	}

	reqURL := fmt.Sprintf("%s/commits/%s/%s/%s",
		strings.TrimRight(c.config.Endpoint, "/"),
		url.PathEscape(owner), url.PathEscape(name), url.PathEscape(commit))

	_, body, err := c.caller.do(ctx, &request{
		method: http.MethodGet,
		url:    reqURL,
		header: header,
	})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, &ClientError{
				Op:   "client.pull_prompt_commit",
				Kind: "prompt",
				ID:   owner + "/" + name + ":" + commit,
				Err:  ErrPromptNotFound,
			}
		}
		return nil, err
	}
	return body, nil
}

func decodePromptCommit(owner, name string, raw json.RawMessage) (*PromptCommit, error) {
	var resp promptCommitResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &ClientError{
			Op:   "client.pull_prompt_commit",
			Kind: "prompt",
			ID:   owner + "/" + name,
			Err:  err,
		}
	}
	return &PromptCommit{
		Owner:      owner,
		Repo:       name,
		CommitHash: resp.CommitHash,
		Manifest:   resp.Manifest,
	}, nil
}
