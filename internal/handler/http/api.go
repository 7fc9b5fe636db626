package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"grant-scout/internal/apperr"
	"grant-scout/internal/domain/entity"
	"grant-scout/internal/handler/http/respond"
	"grant-scout/internal/infra/grantstore"
	"grant-scout/internal/infra/notifier"
	"grant-scout/internal/infra/research"
	"grant-scout/internal/infra/vector"
	"grant-scout/internal/resilience/circuitbreaker"
	"grant-scout/internal/resilience/recovery"
	"grant-scout/internal/service"
)

// Service names as registered with the service manager.
const (
	ServiceGrantStore = "grantstore"
	ServiceVector     = "vector-search"
	ServiceResearch   = "research"
	ServiceNotifier   = "notifier"
)

// APIHandler serves the grant endpoints. Every downstream call runs through
// the dependency's circuit breaker, and failures are offered to the
// recovery chain before an error reaches the client.
type APIHandler struct {
	services *service.Manager
	breakers *circuitbreaker.Manager
	recovery *recovery.Manager
}

// NewAPIHandler wires the grant API to the live managers.
func NewAPIHandler(svc *service.Manager, brk *circuitbreaker.Manager, rec *recovery.Manager) *APIHandler {
	return &APIHandler{services: svc, breakers: brk, recovery: rec}
}

func (h *APIHandler) grantStore() (grantstore.Store, bool) {
	svc, ok := h.services.Get(ServiceGrantStore)
	if !ok {
		return nil, false
	}
	store, ok := svc.(grantstore.Store)
	return store, ok
}

// SearchGrants handles GET /api/grants?q=...&agency=...&category=...&limit=...
func (h *APIHandler) SearchGrants(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	store, ok := h.grantStore()
	if !ok {
		respond.Error(ctx, w, apperr.ErrUnavailable)
		return
	}

	q := grantstore.Query{
		Keyword:  strings.TrimSpace(r.URL.Query().Get("q")),
		Agency:   strings.TrimSpace(r.URL.Query().Get("agency")),
		Category: strings.TrimSpace(r.URL.Query().Get("category")),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respond.Error(ctx, w, apperr.New(apperr.KindValidation, "limit must be a positive integer"))
			return
		}
		q.MaxResults = n
	}

	doSearch := func() (*grantstore.SearchResult, error) {
		var res *grantstore.SearchResult
		err := h.breakers.Get(ServiceGrantStore).Execute(ctx, func(ctx2 context.Context) error {
			var opErr error
			res, opErr = store.Search(ctx2, q)
			return opErr
		})
		return res, err
	}

	res, err := doSearch()
	if err == nil {
		h.recovery.RecordSuccess(searchCacheKey(q), res)
		respond.JSON(ctx, w, http.StatusOK, res)
		return
	}

	recovered, recErr := h.recovery.Recover(ctx, err, recovery.OpContext{
		Operation: "grant_search",
		CacheKey:  searchCacheKey(q),
		Attempt: func(ctx2 context.Context) (any, error) {
			return doSearch()
		},
	})
	if recErr != nil {
		respond.Error(ctx, w, recErr)
		return
	}
	respond.JSON(ctx, w, http.StatusOK, recovered)
}

func searchCacheKey(q grantstore.Query) string {
	return "search:" + q.Keyword + "|" + q.Agency + "|" + q.Category
}

// GetGrant handles GET /api/grants/{id}.
func (h *APIHandler) GetGrant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	store, ok := h.grantStore()
	if !ok {
		respond.Error(ctx, w, apperr.ErrUnavailable)
		return
	}

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		respond.Error(ctx, w, apperr.New(apperr.KindValidation, "grant id must be a positive integer"))
		return
	}

	var grant *entity.Grant
	err = h.breakers.Get(ServiceGrantStore).Execute(ctx, func(ctx2 context.Context) error {
		var opErr error
		grant, opErr = store.GetByID(ctx2, id)
		return opErr
	})
	if err != nil {
		respond.Error(ctx, w, err)
		return
	}
	respond.JSON(ctx, w, http.StatusOK, grant)
}

// SimilarGrants handles POST /api/grants/similar with {"text": ..., "limit": ...}.
func (h *APIHandler) SimilarGrants(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Text  string `json:"text"`
		Limit int    `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(ctx, w, apperr.Wrap(apperr.KindValidation, "invalid request body", err))
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respond.Error(ctx, w, apperr.New(apperr.KindValidation, "text is required"))
		return
	}

	svc, ok := h.services.Get(ServiceVector)
	if !ok {
		respond.Error(ctx, w, apperr.ErrUnavailable)
		return
	}
	searcher, ok := svc.(vector.Searcher)
	if !ok {
		respond.Error(ctx, w, apperr.New(apperr.KindInternal, "vector search misconfigured"))
		return
	}

	doSearch := func() (*vector.SearchResult, error) {
		var res *vector.SearchResult
		err := h.breakers.Get(ServiceVector).Execute(ctx, func(ctx2 context.Context) error {
			var opErr error
			res, opErr = searcher.SimilarGrants(ctx2, req.Text, req.Limit)
			return opErr
		})
		return res, err
	}

	res, err := doSearch()
	if err == nil {
		respond.JSON(ctx, w, http.StatusOK, res)
		return
	}

	recovered, recErr := h.recovery.Recover(ctx, err, recovery.OpContext{
		Operation: "similar_grants",
		CacheKey:  "similar:" + req.Text,
		Attempt: func(ctx2 context.Context) (any, error) {
			return doSearch()
		},
	})
	if recErr != nil {
		respond.Error(ctx, w, recErr)
		return
	}
	respond.JSON(ctx, w, http.StatusOK, recovered)
}

// ResearchGrant handles POST /api/grants/{id}/research with {"profile": ...}.
func (h *APIHandler) ResearchGrant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		respond.Error(ctx, w, apperr.New(apperr.KindValidation, "grant id must be a positive integer"))
		return
	}

	var req struct {
		Profile string `json:"profile"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(ctx, w, apperr.Wrap(apperr.KindValidation, "invalid request body", err))
		return
	}
	if strings.TrimSpace(req.Profile) == "" {
		respond.Error(ctx, w, apperr.New(apperr.KindValidation, "profile is required"))
		return
	}

	store, ok := h.grantStore()
	if !ok {
		respond.Error(ctx, w, apperr.ErrUnavailable)
		return
	}
	var grant *entity.Grant
	err = h.breakers.Get(ServiceGrantStore).Execute(ctx, func(ctx2 context.Context) error {
		var opErr error
		grant, opErr = store.GetByID(ctx2, id)
		return opErr
	})
	if err != nil {
		respond.Error(ctx, w, err)
		return
	}

	svc, ok := h.services.Get(ServiceResearch)
	if !ok {
		respond.Error(ctx, w, apperr.ErrUnavailable)
		return
	}
	researcher, ok := svc.(research.Researcher)
	if !ok {
		respond.Error(ctx, w, apperr.New(apperr.KindInternal, "research service misconfigured"))
		return
	}

	var brief *entity.ResearchBrief
	err = h.breakers.Get(ServiceResearch).Execute(ctx, func(ctx2 context.Context) error {
		var opErr error
		brief, opErr = researcher.Research(ctx2, research.Request{Grant: *grant, Profile: req.Profile})
		return opErr
	})
	if err == nil {
		respond.JSON(ctx, w, http.StatusOK, brief)
		return
	}

	recovered, recErr := h.recovery.Recover(ctx, err, recovery.OpContext{
		Operation: "grant_research",
		CacheKey:  "research:" + strconv.FormatInt(id, 10),
	})
	if recErr != nil {
		respond.Error(ctx, w, recErr)
		return
	}
	respond.JSON(ctx, w, http.StatusOK, recovered)
}

// Notify handles POST /api/notifications.
func (h *APIHandler) Notify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var notif entity.Notification
	if err := json.NewDecoder(r.Body).Decode(&notif); err != nil {
		respond.Error(ctx, w, apperr.Wrap(apperr.KindValidation, "invalid request body", err))
		return
	}
	if notif.Subject == "" || notif.Body == "" {
		respond.Error(ctx, w, apperr.New(apperr.KindValidation, "subject and body are required"))
		return
	}

	svc, ok := h.services.Get(ServiceNotifier)
	if !ok {
		respond.Error(ctx, w, apperr.ErrUnavailable)
		return
	}
	sender, ok := svc.(notifier.Notifier)
	if !ok {
		respond.Error(ctx, w, apperr.New(apperr.KindInternal, "notifier misconfigured"))
		return
	}

	var sent *entity.Notification
	err := h.breakers.Get(ServiceNotifier).Execute(ctx, func(ctx2 context.Context) error {
		var opErr error
		sent, opErr = sender.Notify(ctx2, notif)
		return opErr
	})
	if err != nil {
		respond.Error(ctx, w, err)
		return
	}
	respond.JSON(ctx, w, http.StatusAccepted, sent)
}
