package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"cms-go/internal/cms"
)

const (
	DefaultGitHubBaseURL = "https://api.github.com"
	defaultTimeout       = 30 * time.Second
	defaultRequestRate   = 10
	maxResponseBytes     = 32 << 20
	historyPageSize      = 100
	maxHistoryPages      = 10
)

var nextLinkPattern = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

// GitHubConfig configures a GitHubTree.
type GitHubConfig struct {
	Owner      string
	Repository string
	Branch     string
	Token      string
	BaseURL    string

	// Timeout bounds each API call. Zero means 30 seconds.
	Timeout time.Duration

	// RequestsPerSecond throttles outgoing calls. Zero means 10.
	RequestsPerSecond float64

	HTTPClient *http.Client
}

// GitHubTree is a RemoteTree backed by the GitHub REST contents API.
// Connection settings can be changed at any time; each call reads the
// settings current at its start.
type GitHubTree struct {
	mu      sync.RWMutex
	owner   string
	repo    string
	branch  string
	token   string
	baseURL string

	timeout time.Duration
	client  *http.Client
	limiter *rate.Limiter
	logger  cms.Logger
}

// NewGitHubTree creates a client for one repository branch.
func NewGitHubTree(cfg GitHubConfig, logger cms.Logger) *GitHubTree {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaultRequestRate
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	g := &GitHubTree{
		timeout: cfg.Timeout,
		client:  cfg.HTTPClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(1, int(cfg.RequestsPerSecond))),
		logger:  logger,
	}
	g.SetRepository(cfg.Owner, cfg.Repository)
	g.SetBranch(cfg.Branch)
	g.SetToken(cfg.Token)
	g.SetBaseURL(cfg.BaseURL)
	return g
}

func (g *GitHubTree) SetRepository(owner, repo string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.owner, g.repo = owner, repo
}

func (g *GitHubTree) SetBranch(branch string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if branch == "" {
		branch = "main"
	}
	g.branch = branch
}

func (g *GitHubTree) SetToken(token string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.token = token
}

func (g *GitHubTree) SetBaseURL(base string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if base == "" {
		base = DefaultGitHubBaseURL
	}
	g.baseURL = strings.TrimRight(base, "/")
}

type settings struct {
	owner, repo, branch, token, baseURL string
}

func (g *GitHubTree) settings() settings {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return settings{owner: g.owner, repo: g.repo, branch: g.branch, token: g.token, baseURL: g.baseURL}
}

func (s settings) repoURL(elem ...string) string {
	parts := []string{s.baseURL, "repos", url.PathEscape(s.owner), url.PathEscape(s.repo)}
	return strings.Join(append(parts, elem...), "/")
}

func (s settings) contentsURL(p string) string {
	p = cms.NormalizePath(p)
	if p == "" {
		return s.repoURL("contents")
	}
	segs := strings.Split(p, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return s.repoURL("contents", strings.Join(segs, "/"))
}

type contentEntry struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Path        string `json:"path"`
	SHA         string `json:"sha"`
	Size        int64  `json:"size"`
	Encoding    string `json:"encoding"`
	Content     string `json:"content"`
	DownloadURL string `json:"download_url"`
}

func (g *GitHubTree) ListTree(ctx context.Context, p string) ([]cms.Entry, error) {
	s := g.settings()
	var raw json.RawMessage
	if _, err := g.do(ctx, s, http.MethodGet, s.contentsURL(p), url.Values{"ref": {s.branch}}, nil, &raw, false); err != nil {
		return nil, cms.Wrap("list", p, err)
	}
	if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, cms.Wrap("list", p, cms.Validationf("path is not a directory"))
	}
	var listing []contentEntry
	if err := json.Unmarshal(raw, &listing); err != nil {
		return nil, cms.Wrap("list", p, fmt.Errorf("%w: %v", cms.ErrDecode, err))
	}
	entries := make([]cms.Entry, 0, len(listing))
	for _, e := range listing {
		var t cms.EntryType
		switch e.Type {
		case "file":
			t = cms.EntryFile
		case "dir":
			t = cms.EntryDir
		default:
			continue
		}
		entries = append(entries, cms.Entry{Name: e.Name, Path: e.Path, SHA: e.SHA, Type: t, RawURL: e.DownloadURL})
	}
	return entries, nil
}

func (g *GitHubTree) GetFileContent(ctx context.Context, p string) (*cms.FileContent, error) {
	s := g.settings()
	var raw json.RawMessage
	if _, err := g.do(ctx, s, http.MethodGet, s.contentsURL(p), url.Values{"ref": {s.branch}}, nil, &raw, false); err != nil {
		return nil, cms.Wrap("get", p, err)
	}
	var e contentEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, cms.Wrap("get", p, fmt.Errorf("%w: %v", cms.ErrDecode, err))
	}
	if e.Type != "file" {
		return nil, cms.Wrap("get", p, cms.Validationf("path is a %s, not a file", e.Type))
	}

	switch e.Encoding {
	case "base64":
		data, err := base64.StdEncoding.DecodeString(stripWhitespace(e.Content))
		if err != nil {
			return nil, cms.Wrap("get", p, fmt.Errorf("%w: %v", cms.ErrDecode, err))
		}
		return &cms.FileContent{Content: string(data), SHA: e.SHA}, nil
	case "none", "":
		// Files over 1 MB are not inlined by the contents API.
		if e.DownloadURL == "" {
			return nil, cms.Wrap("get", p, fmt.Errorf("%w: no content and no download url", cms.ErrDecode))
		}
		data, err := g.download(ctx, s, e.DownloadURL)
		if err != nil {
			return nil, cms.Wrap("get", p, err)
		}
		return &cms.FileContent{Content: string(data), SHA: e.SHA}, nil
	default:
		return nil, cms.Wrap("get", p, fmt.Errorf("%w: unsupported encoding %q", cms.ErrDecode, e.Encoding))
	}
}

type commitEntry struct {
	SHA    string `json:"sha"`
	Commit struct {
		Message string `json:"message"`
		Author  struct {
			Name string    `json:"name"`
			Date time.Time `json:"date"`
		} `json:"author"`
		Committer struct {
			Date time.Time `json:"date"`
		} `json:"committer"`
	} `json:"commit"`
}

func (g *GitHubTree) GetCommitHistory(ctx context.Context, p string) ([]cms.Commit, error) {
	s := g.settings()
	next := s.repoURL("commits")
	query := url.Values{
		"path":     {cms.NormalizePath(p)},
		"sha":      {s.branch},
		"per_page": {fmt.Sprint(historyPageSize)},
	}

	var commits []cms.Commit
	for page := 0; next != "" && page < maxHistoryPages; page++ {
		var batch []commitEntry
		header, err := g.do(ctx, s, http.MethodGet, next, query, nil, &batch, false)
		if err != nil {
			return nil, cms.Wrap("history", p, err)
		}
		for _, c := range batch {
			date := c.Commit.Author.Date
			if date.IsZero() {
				date = c.Commit.Committer.Date
			}
			commits = append(commits, cms.Commit{
				SHA:     c.SHA,
				Message: c.Commit.Message,
				Author:  c.Commit.Author.Name,
				Date:    date.UTC(),
			})
		}
		next = nextLink(header.Get("Link"))
		query = nil // the next link carries its own query
	}
	if next != "" {
		g.logger.Debug("commit history truncated", "path", p, "commits", len(commits))
	}
	return commits, nil
}

type writeRequest struct {
	Message string `json:"message"`
	Content string `json:"content,omitempty"`
	Branch  string `json:"branch"`
	SHA     string `json:"sha,omitempty"`
}

type writeResponse struct {
	Content *struct {
		SHA  string `json:"sha"`
		Path string `json:"path"`
	} `json:"content"`
	Commit struct {
		SHA string `json:"sha"`
	} `json:"commit"`
}

func (g *GitHubTree) CreateOrUpdateFile(ctx context.Context, p, content, message, expectedSHA string) (*cms.CommitResult, error) {
	s := g.settings()
	req := writeRequest{
		Message: message,
		Content: base64.StdEncoding.EncodeToString([]byte(content)),
		Branch:  s.branch,
		SHA:     expectedSHA,
	}
	var resp writeResponse
	if _, err := g.do(ctx, s, http.MethodPut, s.contentsURL(p), nil, req, &resp, true); err != nil {
		return nil, cms.Wrap("write", p, err)
	}
	res := &cms.CommitResult{CommitSHA: resp.Commit.SHA, Path: cms.NormalizePath(p)}
	if resp.Content != nil {
		res.ContentSHA = resp.Content.SHA
	}
	return res, nil
}

func (g *GitHubTree) DeleteFile(ctx context.Context, p, message, sha string) (*cms.CommitResult, error) {
	if sha == "" {
		return nil, cms.Wrap("delete", p, cms.Validationf("sha is required"))
	}
	s := g.settings()
	req := writeRequest{Message: message, Branch: s.branch, SHA: sha}
	var resp writeResponse
	if _, err := g.do(ctx, s, http.MethodDelete, s.contentsURL(p), nil, req, &resp, true); err != nil {
		return nil, cms.Wrap("delete", p, err)
	}
	return &cms.CommitResult{CommitSHA: resp.Commit.SHA, Path: cms.NormalizePath(p)}, nil
}

func (g *GitHubTree) GetLatestCommitSHA(ctx context.Context, branch string) (string, error) {
	s := g.settings()
	if branch == "" {
		branch = s.branch
	}
	var resp struct {
		Commit struct {
			SHA string `json:"sha"`
		} `json:"commit"`
	}
	if _, err := g.do(ctx, s, http.MethodGet, s.repoURL("branches", url.PathEscape(branch)), nil, nil, &resp, false); err != nil {
		return "", cms.Wrap("head", branch, err)
	}
	if resp.Commit.SHA == "" {
		return "", cms.Wrap("head", branch, fmt.Errorf("%w: branch response without commit", cms.ErrDecode))
	}
	return resp.Commit.SHA, nil
}

// do performs one throttled, time-limited API call and decodes the JSON
// response into out. write selects the status mapping used for mutations.
func (g *GitHubTree) do(ctx context.Context, s settings, method, endpoint string, query url.Values, body, out any, write bool) (http.Header, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", "cms-go")
	if s.token != "" {
		req.Header.Set("Authorization", "token "+s.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, transportError(ctx, err)
	}
	g.logger.Debug("github request", "method", method, "url", req.URL.Path, "status", resp.StatusCode, "duration", time.Since(start).String())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.Header, statusError(resp, data, write)
	}
	if out != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.Header, fmt.Errorf("%w: %v", cms.ErrDecode, err)
		}
	}
	return resp.Header, nil
}

func (g *GitHubTree) download(ctx context.Context, s settings, rawURL string) ([]byte, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if s.token != "" {
		req.Header.Set("Authorization", "token "+s.token)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, transportError(ctx, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp, data, false)
	}
	return data, nil
}

type apiError struct {
	Message string `json:"message"`
}

// statusError maps a non-2xx response onto the cms error taxonomy.
func statusError(resp *http.Response, body []byte, write bool) error {
	var apiErr apiError
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Message
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	var kind error
	switch code := resp.StatusCode; {
	case code == http.StatusUnauthorized:
		kind = cms.ErrUnauthorized
	case code == http.StatusTooManyRequests:
		kind = cms.ErrRateLimited
	case code == http.StatusForbidden:
		kind = cms.ErrForbidden
		if resp.Header.Get("X-RateLimit-Remaining") == "0" {
			kind = cms.ErrRateLimited
		}
	case code == http.StatusNotFound:
		kind = cms.ErrNotFound
	case write && (code == http.StatusConflict || code == http.StatusUnprocessableEntity):
		kind = cms.ErrConflict
	case code == http.StatusUnprocessableEntity || code == http.StatusBadRequest:
		kind = cms.ErrValidation
	case code >= 500:
		kind = cms.ErrTransient
	default:
		return fmt.Errorf("github: unexpected status %d: %s", code, msg)
	}
	return fmt.Errorf("%w: github status %d: %s", kind, resp.StatusCode, msg)
}

func transportError(ctx context.Context, err error) error {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: request timed out: %v", cms.ErrTransient, err)
		}
		return err
	}
	return fmt.Errorf("%w: %v", cms.ErrTransient, err)
}

func nextLink(header string) string {
	if m := nextLinkPattern.FindStringSubmatch(header); m != nil {
		return m[1]
	}
	return ""
}

func stripWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, s)
}

var _ cms.RemoteTree = (*GitHubTree)(nil)
