package resources

import (
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"syncgate/cmd/internal/docname"
	"syncgate/cmd/internal/reconcile"
	"syncgate/cmd/internal/settings"
)

const defaultMaxBodyBytes = 1 << 20

// Handler serves the edit views, the reconciled update endpoints and the
// collaboration context lookup.
type Handler struct {
	log        *slog.Logger
	store      Store
	reconciler *reconcile.Reconciler
	settings   settings.Source

	wsPrefix     string
	maxBodyBytes int64
}

// NewHandler wires the endpoints. wsPrefix is the proxy mount path advertised to clients.
func NewHandler(log *slog.Logger, store Store, rec *reconcile.Reconciler, src settings.Source, wsPrefix string) *Handler {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Handler{
		log:          log,
		store:        store,
		reconciler:   rec,
		settings:     src,
		wsPrefix:     wsPrefix,
		maxBodyBytes: defaultMaxBodyBytes,
	}
}

// Register wires routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("GET /projects/{project}/wiki/{page}/edit", h.handleWikiEdit)
	mux.HandleFunc("POST /projects/{project}/wiki/{page}", h.handleWikiUpdate)
	mux.HandleFunc("GET /issues/{id}/edit", h.handleIssueEdit)
	mux.HandleFunc("POST /issues/{id}", h.handleIssueUpdate)
	mux.HandleFunc("GET /collab/context", h.handleContext)
}

type editResponse struct {
	DocumentID   string                  `json:"document_id"`
	Text         string                  `json:"text"`
	LockVersion  int64                   `json:"lock_version"`
	Collab       bool                    `json:"collab"`
	WSPath       string                  `json:"ws_path,omitempty"`
	PendingMerge *reconcile.PendingMerge `json:"pending_merge"`

	// MergedText is the pending merge's patch replayed onto Text; MergeClean is false
	// when some hunks did not apply.
	MergedText string `json:"merged_text,omitempty"`
	MergeClean bool   `json:"merge_clean,omitempty"`
}

type updateRequest struct {
	Text        string `json:"text"`
	LockVersion int64  `json:"lock_version"`
}

type updateResponse struct {
	DocumentID  string `json:"document_id"`
	Text        string `json:"text"`
	LockVersion int64  `json:"lock_version"`
	Retried     bool   `json:"retried,omitempty"`
}

type contextResponse struct {
	DocumentID string `json:"document_id"`
	WSPath     string `json:"ws_path"`
	Enabled    bool   `json:"enabled"`
}

// ---- key parsing ----

func wikiKeyFrom(r *http.Request) (Key, bool) {
	project, err := strconv.ParseInt(r.PathValue("project"), 10, 64)
	if err != nil || project < 0 {
		return Key{}, false
	}
	title := strings.TrimSpace(r.PathValue("page"))
	if title == "" {
		return Key{}, false
	}
	return WikiKey(project, title), true
}

func issueKeyFrom(r *http.Request) (Key, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return Key{}, false
	}
	return IssueKey(id), true
}

func editPath(k Key) string {
	if k.Kind == settings.KindIssue {
		return fmt.Sprintf("/issues/%d/edit", k.IssueID)
	}
	return fmt.Sprintf("/projects/%d/wiki/%s/edit", k.ProjectID, url.PathEscape(k.Title))
}

// ---- handlers ----

func (h *Handler) handleWikiEdit(w http.ResponseWriter, r *http.Request) {
	k, ok := wikiKeyFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid wiki page")
		return
	}
	h.edit(w, r, k)
}

func (h *Handler) handleIssueEdit(w http.ResponseWriter, r *http.Request) {
	k, ok := issueKeyFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid issue id")
		return
	}
	h.edit(w, r, k)
}

func (h *Handler) handleWikiUpdate(w http.ResponseWriter, r *http.Request) {
	k, ok := wikiKeyFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid wiki page")
		return
	}
	h.update(w, r, k)
}

func (h *Handler) handleIssueUpdate(w http.ResponseWriter, r *http.Request) {
	k, ok := issueKeyFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid issue id")
		return
	}
	h.update(w, r, k)
}

func (h *Handler) edit(w http.ResponseWriter, r *http.Request, k Key) {
	ctx := r.Context()

	st, err := h.settings.Settings(ctx)
	if err != nil {
		h.log.Error("resources.settings.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
		return
	}

	rec, err := h.store.Load(ctx, k)
	switch {
	case errors.Is(err, ErrNotFound) && k.Kind == settings.KindWiki:
		// New page.
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "resource not found")
		return
	case err != nil:
		h.log.Error("resources.load.fail", "document_id", k.DocumentID(), "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	doc := k.DocumentID()
	resp := editResponse{
		DocumentID:  doc,
		Text:        rec.Text,
		LockVersion: rec.Version,
		Collab:      st.Collab(k.Kind),
	}
	if resp.Collab && st.ProxyReady() {
		resp.WSPath = h.wsPrefix + doc
	}

	if owner, ok := mergeOwner(r); ok {
		pm, found, err := h.reconciler.Take(ctx, owner, doc)
		if err != nil {
			h.log.Warn("resources.pending_merge.fail", "document_id", doc, "err", err)
		} else if found {
			resp.PendingMerge = &pm
			h.previewMerge(&resp, pm)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) previewMerge(resp *editResponse, pm reconcile.PendingMerge) {
	if pm.Patch == "" {
		return
	}
	merged, clean, err := reconcile.ApplyPatch(resp.Text, pm.Patch)
	if err != nil {
		h.log.Warn("resources.merge_preview.fail", "document_id", pm.DocumentID, "err", err)
		return
	}
	resp.MergedText = merged
	resp.MergeClean = clean
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request, k Key) {
	ctx := r.Context()

	req, err := h.readUpdate(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	st, err := h.settings.Settings(ctx)
	if err != nil {
		h.log.Error("resources.settings.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
		return
	}

	// An anonymous editor without a merge cookie gets a fresh one if a merge is parked.
	owner, ok := mergeOwner(r)
	var cookie *http.Cookie
	if !ok {
		cookie = newMergeCookie(r)
		owner = anonymousOwner(cookie.Value)
	}

	doc := k.DocumentID()
	res, err := h.reconciler.Submit(ctx, reconcile.Request{
		Kind:       k.Kind,
		DocumentID: doc,
		Principal:  owner,
		Resource:   Bind(h.store, k),
		Update:     reconcile.Update{Text: req.Text, Version: req.LockVersion},
		Settings:   st,
	})
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "resource not found")
		return
	case errors.Is(err, reconcile.ErrVersionMismatch):
		writeError(w, http.StatusConflict, "stale_object", "the resource was changed by someone else")
		return
	case err != nil:
		h.log.Error("resources.update.fail", "document_id", doc, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	if cookie != nil && res.Merge != nil {
		http.SetCookie(w, cookie)
	}
	if res.State == reconcile.StateRedirected {
		http.Redirect(w, r, editPath(k), http.StatusSeeOther)
		return
	}

	writeJSON(w, http.StatusOK, updateResponse{
		DocumentID:  doc,
		Text:        res.Record.Text,
		LockVersion: res.Record.Version,
		Retried:     res.Retried,
	})
}

// readUpdate accepts a JSON body or a form post.
func (h *Handler) readUpdate(w http.ResponseWriter, r *http.Request) (updateRequest, error) {
	var req updateRequest

	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "application/json" {
		err := decodeJSON(w, r, h.maxBodyBytes, &req)
		return req, err
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		return req, err
	}
	req.Text = r.PostForm.Get("text")
	if v := strings.TrimSpace(r.PostForm.Get("lock_version")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return req, errors.New("invalid lock_version")
		}
		req.LockVersion = n
	}
	return req, nil
}

// handleContext returns the document name and socket path the client should use.
// It goes through docname.Name, the same function the token path relies on.
func (h *Handler) handleContext(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var c docname.Context
	for _, f := range []struct {
		name string
		dst  *int64
	}{
		{"issue_id", &c.IssueID},
		{"project_id", &c.ProjectID},
		{"wiki_page_id", &c.WikiPageID},
	} {
		v := strings.TrimSpace(q.Get(f.name))
		if v == "" {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid "+f.name)
			return
		}
		*f.dst = n
	}
	c.WikiPageTitle = strings.TrimSpace(q.Get("wiki_page"))

	doc, ok := docname.Name(c)
	if !ok {
		writeError(w, http.StatusNotFound, "no_document", "no collaborative document in context")
		return
	}

	st, err := h.settings.Settings(r.Context())
	if err != nil {
		h.log.Error("resources.settings.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
		return
	}

	writeJSON(w, http.StatusOK, contextResponse{
		DocumentID: doc,
		WSPath:     h.wsPrefix + doc,
		Enabled:    st.ProxyReady(),
	})
}
