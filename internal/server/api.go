package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cms-go/internal/cms"
)

// API serves read-only JSON views of the content cache. Every route accepts
// an optional "provider" query parameter; the default provider is used
// otherwise. Single items carry their resolved SEO block.
type API struct {
	service *cms.Service
	logger  cms.Logger
}

// NewAPI creates the read API.
func NewAPI(service *cms.Service, logger cms.Logger) *API {
	return &API{service: service, logger: logger}
}

// Register adds the API routes to mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/content", a.query)
	mux.HandleFunc("GET /api/content/{id}", a.byID)
	mux.HandleFunc("GET /api/content/by-path/{path...}", a.byPath)
	mux.HandleFunc("GET /api/content/by-url/{url...}", a.byURL)
	mux.HandleFunc("GET /api/directories", a.directories)
	mux.HandleFunc("GET /api/directories/{id}", a.directory)
	mux.HandleFunc("GET /api/localization", a.localization)
	mux.HandleFunc("POST /api/refresh", a.refresh)
	mux.HandleFunc("GET /healthz", a.health)
}

func (a *API) query(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	res, err := a.service.Query(r.Context(), q)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) byID(w http.ResponseWriter, r *http.Request) {
	item, err := a.service.GetByID(r.Context(), provider(r), r.PathValue("id"))
	a.item(w, item, err)
}

func (a *API) byPath(w http.ResponseWriter, r *http.Request) {
	item, err := a.service.GetByPath(r.Context(), provider(r), r.PathValue("path"))
	a.item(w, item, err)
}

func (a *API) byURL(w http.ResponseWriter, r *http.Request) {
	item, err := a.service.GetByURL(r.Context(), provider(r), r.PathValue("url"), r.URL.Query().Get("locale"))
	a.item(w, item, err)
}

func (a *API) item(w http.ResponseWriter, item *cms.ContentItem, err error) {
	switch {
	case err != nil:
		a.fail(w, err)
	case item == nil:
		writeError(w, http.StatusNotFound, "content not found")
	default:
		writeJSON(w, http.StatusOK, itemView{ContentItem: item, ResolvedSEO: item.ResolvedSEO()})
	}
}

// itemView adds the SEO block with every fallback applied.
type itemView struct {
	*cms.ContentItem
	ResolvedSEO cms.SEO `json:"resolvedSeo"`
}

// directories lists every directory, or only the top level with roots=true.
func (a *API) directories(w http.ResponseWriter, r *http.Request) {
	roots, err := parseBool(r.URL.Query().Get("roots"))
	if err != nil {
		a.fail(w, cms.Validationf("roots: %v", err))
		return
	}
	list := a.service.Directories
	if roots {
		list = a.service.RootDirectories
	}
	dirs, err := list(r.Context(), provider(r))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dirs)
}

func (a *API) directory(w http.ResponseWriter, r *http.Request) {
	dir, err := a.service.GetDirectory(r.Context(), provider(r), r.PathValue("id"))
	switch {
	case err != nil:
		a.fail(w, err)
	case dir == nil:
		writeError(w, http.StatusNotFound, "directory not found")
	default:
		writeJSON(w, http.StatusOK, directoryView{DirectoryItem: dir, Items: dir.Items(), Breadcrumbs: dir.Breadcrumbs()})
	}
}

// directoryView adds the owned items and the ancestor chain to a directory.
type directoryView struct {
	*cms.DirectoryItem
	Items       []*cms.ContentItem   `json:"items"`
	Breadcrumbs []*cms.DirectoryItem `json:"breadcrumbs"`
}

func (a *API) localization(w http.ResponseWriter, r *http.Request) {
	info, err := a.service.Localization(r.Context(), provider(r))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *API) refresh(w http.ResponseWriter, r *http.Request) {
	p, err := a.service.Provider(provider(r))
	if err != nil {
		a.fail(w, err)
		return
	}
	if _, err := p.Refresh(r.Context()); err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p.Stats())
}

type healthView struct {
	Status    string                    `json:"status"`
	Providers map[string]cms.CacheStats `json:"providers"`
}

// health reports each provider's cache without triggering a fill. The
// status is degraded while any provider has no usable content.
func (a *API) health(w http.ResponseWriter, r *http.Request) {
	out := healthView{Status: "ok", Providers: make(map[string]cms.CacheStats)}
	for _, p := range a.service.Providers() {
		st := p.Stats()
		out.Providers[p.ID] = st
		if st.LastError != "" && st.Items == 0 && st.Directories == 0 {
			out.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// fail maps domain errors to HTTP statuses.
func (a *API) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, cms.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, cms.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, cms.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, cms.ErrUnauthorized), errors.Is(err, cms.ErrForbidden),
		errors.Is(err, cms.ErrTransient), errors.Is(err, cms.ErrDecode):
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		a.logger.Error("api request failed", "error", err)
	}
	writeError(w, status, err.Error())
}

func provider(r *http.Request) string {
	return r.URL.Query().Get("provider")
}

// parseQuery maps URL parameters onto a cms.Query.
func parseQuery(r *http.Request) (cms.Query, error) {
	v := r.URL.Query()
	q := cms.Query{
		DirectoryPrefix: v.Get("directory"),
		Category:        v.Get("category"),
		Tag:             v.Get("tag"),
		Locale:          v.Get("locale"),
		LocalizationID:  v.Get("localizationId"),
		ProviderID:      v.Get("provider"),
		IncludeIDs:      splitList(v.Get("include")),
		ExcludeIDs:      splitList(v.Get("exclude")),
		Search:          v.Get("search"),
		Status:          v.Get("status"),
		SortBy:          v.Get("sort"),
	}

	var err error
	if q.Descending, err = parseBool(v.Get("desc")); err != nil {
		return q, cms.Validationf("desc: %v", err)
	}
	if s := v.Get("featured"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return q, cms.Validationf("featured: %v", err)
		}
		q.Featured = &b
	}
	if q.From, err = parseTime(v.Get("from")); err != nil {
		return q, cms.Validationf("from: %v", err)
	}
	if q.To, err = parseTime(v.Get("to")); err != nil {
		return q, cms.Validationf("to: %v", err)
	}
	if q.Skip, err = parseInt(v.Get("skip")); err != nil {
		return q, cms.Validationf("skip: %v", err)
	}
	if q.Take, err = parseInt(v.Get("take")); err != nil {
		return q, cms.Validationf("take: %v", err)
	}
	return q, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBool(s string) (bool, error) {
	if s == "" {
		return false, nil
	}
	return strconv.ParseBool(s)
}

func parseInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, ok := cms.ParseDate(s)
	if !ok {
		return nil, errors.New("unrecognized date " + strconv.Quote(s))
	}
	return &t, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
