package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webmentions/internal/mention"
)

const (
	defaultDocumentLimit = 100
	maxDocumentLimit     = 1000
	cacheTimeout         = 5 * time.Second
)

// MentionHandler exposes read-only views of the incoming and outgoing caches.
type MentionHandler struct {
	cache   CacheReader
	timeout time.Duration
	logger  *zap.Logger
}

// NewMentionHandler wires the cache reader and logger.
func NewMentionHandler(cache CacheReader, logger *zap.Logger) *MentionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MentionHandler{cache: cache, timeout: cacheTimeout, logger: logger}
}

type documentSummaryDTO struct {
	Document string         `json:"document"`
	Count    int            `json:"count"`
	Types    map[string]int `json:"types"`
}

type targetDTO struct {
	Target   string     `json:"target"`
	Status   string     `json:"status"`
	SentAt   *time.Time `json:"sent_at,omitempty"`
	Response any        `json:"response,omitempty"`
}

type sourceDTO struct {
	Source    string      `json:"source"`
	Timestamp *time.Time  `json:"timestamp,omitempty"`
	Targets   []targetDTO `json:"targets"`
}

// List handles GET /v1/mentions. With ?document= it returns
// {"document", "mentions": [...]} or 404; without it returns a page of
// {"documents": [...]} summaries honoring limit and offset.
func (h *MentionHandler) List(w http.ResponseWriter, r *http.Request) {
	ledger, ok := h.loadIncoming(w, r)
	if !ok {
		return
	}
	if doc := strings.TrimSpace(r.URL.Query().Get("document")); doc != "" {
		records := ledger.Records(doc)
		if len(records) == 0 {
			writeError(w, http.StatusNotFound, "no mentions for document")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"document": doc, "mentions": records})
		return
	}

	limit, offset, err := parseLimitOffset(r, defaultDocumentLimit, maxDocumentLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	docs := ledger.Documents()
	page := paginate(docs, limit, offset)
	out := make([]documentSummaryDTO, 0, len(page))
	for _, doc := range page {
		types := make(map[string]int)
		for t, n := range ledger.CountByType(doc) {
			types[string(t)] = n
		}
		out = append(out, documentSummaryDTO{Document: doc, Count: ledger.Len(doc), Types: types})
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": out, "total": len(docs)})
}

// Count handles GET /v1/mentions/count?document=&type=. Types may repeat or be
// comma separated and accept plural names such as "likes".
func (h *MentionHandler) Count(w http.ResponseWriter, r *http.Request) {
	doc := strings.TrimSpace(r.URL.Query().Get("document"))
	if doc == "" {
		writeError(w, http.StatusBadRequest, "document is required")
		return
	}
	var names []string
	for _, raw := range r.URL.Query()["type"] {
		names = append(names, strings.Split(raw, ",")...)
	}
	types, err := mention.ParseFilter(names)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ledger, ok := h.loadIncoming(w, r)
	if !ok {
		return
	}
	typeNames := make([]string, 0, len(types))
	for _, t := range types {
		typeNames = append(typeNames, string(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"document": doc,
		"count":    ledger.Count(doc, types),
		"types":    typeNames,
	})
}

// Outgoing handles GET /v1/outgoing?status=pending|sent|legacy and returns
// {"sources": [...]} with each source's targets.
func (h *MentionHandler) Outgoing(w http.ResponseWriter, r *http.Request) {
	filter := strings.TrimSpace(r.URL.Query().Get("status"))
	if filter != "" && filter != "pending" && filter != "sent" && filter != "legacy" {
		writeError(w, http.StatusBadRequest, "status must be pending, sent or legacy")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	ledger, err := h.cache.LoadOutgoing(ctx)
	if err != nil {
		h.logger.Error("load outgoing cache failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load outgoing cache")
		return
	}
	sources := make([]sourceDTO, 0)
	for _, source := range ledger.Sources() {
		entry, _ := ledger.Entry(source)
		dto := sourceDTO{Source: source, Targets: []targetDTO{}, Timestamp: timePtr(entry.Timestamp)}
		for _, target := range entry.Targets() {
			d, _ := entry.Get(target)
			status := statusName(d.Status)
			if filter != "" && status != filter {
				continue
			}
			dto.Targets = append(dto.Targets, targetDTO{
				Target:   target,
				Status:   status,
				SentAt:   timePtr(d.At),
				Response: d.Response,
			})
		}
		if filter != "" && len(dto.Targets) == 0 {
			continue
		}
		sources = append(sources, dto)
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": sources})
}

func (h *MentionHandler) loadIncoming(w http.ResponseWriter, r *http.Request) (*mention.IncomingLedger, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	ledger, err := h.cache.LoadIncoming(ctx)
	if err != nil {
		h.logger.Error("load incoming cache failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load incoming cache")
		return nil, false
	}
	return ledger, true
}

func statusName(s mention.DeliveryStatus) string {
	switch s {
	case mention.StatusPending:
		return "pending"
	case mention.StatusSent:
		return "sent"
	default:
		return "legacy"
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func paginate(items []string, limit, offset int) []string {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func parseLimitOffset(r *http.Request, defLimit, maxLimit int) (int, int, error) {
	limit := defLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return 0, 0, fmt.Errorf("limit must be a positive integer")
		}
		if v > maxLimit {
			v = maxLimit
		}
		limit = v
	}
	offset := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return 0, 0, fmt.Errorf("offset must be a non-negative integer")
		}
		offset = v
	}
	return limit, offset, nil
}
