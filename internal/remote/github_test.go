package remote

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cms-go/internal/cms"
)

func newTestGitHub(t *testing.T, handler http.HandlerFunc) *GitHubTree {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGitHubTree(GitHubConfig{
		Owner:             "acme",
		Repository:        "site",
		Branch:            "main",
		Token:             "secret",
		BaseURL:           srv.URL,
		Timeout:           5 * time.Second,
		RequestsPerSecond: 1000,
	}, cms.NewNopLogger())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestGitHubTree_ListTree(t *testing.T) {
	g := newTestGitHub(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "token secret" {
			t.Errorf("Authorization = %q, want %q", got, "token secret")
		}
		if r.URL.Path != "/repos/acme/site/contents/content/blog" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("ref") != "main" {
			t.Errorf("ref = %q, want main", r.URL.Query().Get("ref"))
		}
		// Property names are matched case-insensitively.
		writeJSON(w, http.StatusOK, []map[string]any{
			{"name": "post.md", "path": "content/blog/post.md", "sha": "abc", "type": "file", "download_url": "https://raw/post.md"},
			{"Name": "guides", "Path": "content/blog/guides", "SHA": "def", "Type": "dir"},
			{"name": "link", "path": "content/blog/link", "type": "symlink"},
		})
	})

	entries, err := g.ListTree(context.Background(), "content/blog")
	if err != nil {
		t.Fatalf("ListTree() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].Type != cms.EntryFile || entries[0].RawURL != "https://raw/post.md" {
		t.Errorf("entries[0] = %+v", entries[0])
	}
	if entries[1].Type != cms.EntryDir || entries[1].Name != "guides" {
		t.Errorf("entries[1] = %+v", entries[1])
	}
}

func TestGitHubTree_GetFileContent(t *testing.T) {
	body := "---\ntitle: Hello\n---\nbody"
	encoded := base64.StdEncoding.EncodeToString([]byte(body))
	// GitHub wraps base64 payloads at 60 columns.
	wrapped := encoded[:10] + "\n" + encoded[10:]

	t.Run("decodes base64 content", func(t *testing.T) {
		g := newTestGitHub(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"type": "file", "encoding": "base64", "content": wrapped, "sha": "blob1"})
		})
		got, err := g.GetFileContent(context.Background(), "post.md")
		if err != nil {
			t.Fatalf("GetFileContent() error = %v", err)
		}
		if got.Content != body || got.SHA != "blob1" {
			t.Errorf("GetFileContent() = %+v", got)
		}
	})

	t.Run("malformed payload is a decode error", func(t *testing.T) {
		g := newTestGitHub(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"type": "file", "encoding": "base64", "content": "!!!not base64", "sha": "x"})
		})
		_, err := g.GetFileContent(context.Background(), "post.md")
		if !errors.Is(err, cms.ErrDecode) {
			t.Errorf("GetFileContent() error = %v, want ErrDecode", err)
		}
	})

	t.Run("large files are downloaded", func(t *testing.T) {
		var srvURL string
		g := newTestGitHub(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/raw/big.md" {
				fmt.Fprint(w, "big body")
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"type": "file", "encoding": "none", "sha": "big", "download_url": srvURL + "/raw/big.md"})
		})
		srvURL = g.settings().baseURL
		got, err := g.GetFileContent(context.Background(), "big.md")
		if err != nil {
			t.Fatalf("GetFileContent() error = %v", err)
		}
		if got.Content != "big body" {
			t.Errorf("Content = %q, want %q", got.Content, "big body")
		}
	})
}

func TestGitHubTree_StatusMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		header  map[string]string
		wantErr error
	}{
		{"unauthorized", http.StatusUnauthorized, nil, cms.ErrUnauthorized},
		{"forbidden", http.StatusForbidden, nil, cms.ErrForbidden},
		{"rate limited", http.StatusForbidden, map[string]string{"X-RateLimit-Remaining": "0"}, cms.ErrRateLimited},
		{"too many requests", http.StatusTooManyRequests, nil, cms.ErrTransient},
		{"not found", http.StatusNotFound, nil, cms.ErrNotFound},
		{"server error", http.StatusBadGateway, nil, cms.ErrTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGitHub(t, func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				writeJSON(w, tt.status, map[string]string{"message": "nope"})
			})
			_, err := g.ListTree(context.Background(), "")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ListTree() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestGitHubTree_CreateOrUpdateFile(t *testing.T) {
	t.Run("sends sha precondition and returns new sha", func(t *testing.T) {
		g := newTestGitHub(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPut {
				t.Errorf("method = %s, want PUT", r.Method)
			}
			var req writeRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decoding request: %v", err)
			}
			content, _ := base64.StdEncoding.DecodeString(req.Content)
			if string(content) != "hello" || req.SHA != "old" || req.Branch != "main" || req.Message != "edit" {
				t.Errorf("request = %+v (content %q)", req, content)
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"content": map[string]string{"sha": "new", "path": "post.md"},
				"commit":  map[string]string{"sha": "c1"},
			})
		})
		res, err := g.CreateOrUpdateFile(context.Background(), "post.md", "hello", "edit", "old")
		if err != nil {
			t.Fatalf("CreateOrUpdateFile() error = %v", err)
		}
		if res.ContentSHA != "new" || res.CommitSHA != "c1" {
			t.Errorf("CreateOrUpdateFile() = %+v", res)
		}
	})

	for _, status := range []int{http.StatusConflict, http.StatusUnprocessableEntity} {
		t.Run(fmt.Sprintf("status %d is a conflict", status), func(t *testing.T) {
			g := newTestGitHub(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, status, map[string]string{"message": "sha does not match"})
			})
			_, err := g.CreateOrUpdateFile(context.Background(), "post.md", "x", "edit", "stale")
			if !errors.Is(err, cms.ErrConflict) {
				t.Errorf("CreateOrUpdateFile() error = %v, want ErrConflict", err)
			}
		})
	}
}

func TestGitHubTree_DeleteFile(t *testing.T) {
	g := newTestGitHub(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s, want DELETE", r.Method)
		}
		var req writeRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.SHA != "blob" || req.Branch != "main" {
			t.Errorf("request = %+v", req)
		}
		writeJSON(w, http.StatusOK, map[string]any{"commit": map[string]string{"sha": "c2"}})
	})

	if _, err := g.DeleteFile(context.Background(), "post.md", "remove", ""); !errors.Is(err, cms.ErrValidation) {
		t.Errorf("DeleteFile() without sha error = %v, want ErrValidation", err)
	}
	res, err := g.DeleteFile(context.Background(), "post.md", "remove", "blob")
	if err != nil {
		t.Fatalf("DeleteFile() error = %v", err)
	}
	if res.CommitSHA != "c2" {
		t.Errorf("CommitSHA = %q, want c2", res.CommitSHA)
	}
}

func TestGitHubTree_GetCommitHistory(t *testing.T) {
	var srvURL string
	g := newTestGitHub(t, func(w http.ResponseWriter, r *http.Request) {
		commit := func(sha, date string) map[string]any {
			return map[string]any{"sha": sha, "commit": map[string]any{
				"message": "m " + sha,
				"author":  map[string]string{"name": "ann", "date": date},
			}}
		}
		if r.URL.Query().Get("page") == "2" {
			writeJSON(w, http.StatusOK, []any{commit("c1", "2024-01-01T00:00:00Z")})
			return
		}
		if r.URL.Query().Get("path") != "blog/post.md" {
			t.Errorf("path query = %q", r.URL.Query().Get("path"))
		}
		w.Header().Set("Link", fmt.Sprintf(`<%s/repos/acme/site/commits?page=2>; rel="next", <%s/x>; rel="last"`, srvURL, srvURL))
		writeJSON(w, http.StatusOK, []any{commit("c3", "2024-03-01T00:00:00Z"), commit("c2", "2024-02-01T00:00:00Z")})
	})
	srvURL = g.settings().baseURL

	commits, err := g.GetCommitHistory(context.Background(), "blog/post.md")
	if err != nil {
		t.Fatalf("GetCommitHistory() error = %v", err)
	}
	var shas []string
	for _, c := range commits {
		shas = append(shas, c.SHA)
	}
	if strings.Join(shas, ",") != "c3,c2,c1" {
		t.Errorf("commits = %v, want c3,c2,c1", shas)
	}
	if commits[2].Date.Year() != 2024 || commits[2].Author != "ann" {
		t.Errorf("commits[2] = %+v", commits[2])
	}
}

func TestGitHubTree_GetLatestCommitSHA(t *testing.T) {
	g := newTestGitHub(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/site/branches/release" {
			t.Errorf("path = %q", r.URL.Path)
		}
		writeJSON(w, http.StatusOK, map[string]any{"name": "release", "commit": map[string]string{"sha": "head1"}})
	})
	g.SetBranch("release")

	sha, err := g.GetLatestCommitSHA(context.Background(), "")
	if err != nil {
		t.Fatalf("GetLatestCommitSHA() error = %v", err)
	}
	if sha != "head1" {
		t.Errorf("sha = %q, want head1", sha)
	}
}

func TestGitHubTree_SettersApplyToLaterCalls(t *testing.T) {
	var gotAuth, gotPath string
	g := newTestGitHub(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		writeJSON(w, http.StatusOK, []any{})
	})
	g.SetToken("rotated")
	g.SetRepository("other", "repo")

	if _, err := g.ListTree(context.Background(), ""); err != nil {
		t.Fatalf("ListTree() error = %v", err)
	}
	if gotAuth != "token rotated" {
		t.Errorf("Authorization = %q, want token rotated", gotAuth)
	}
	if gotPath != "/repos/other/repo/contents" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestGitHubTree_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)
	g := NewGitHubTree(GitHubConfig{Owner: "a", Repository: "b", BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, cms.NewNopLogger())

	_, err := g.GetLatestCommitSHA(context.Background(), "")
	if !cms.IsTransient(err) {
		t.Errorf("GetLatestCommitSHA() error = %v, want transient", err)
	}
}
