package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/rpattn/patchhistory/internal/app"
	"github.com/rpattn/patchhistory/internal/domain"
	"github.com/rpattn/patchhistory/internal/history"
)

type Handler struct {
	service *Service
	mux     *http.ServeMux
}

// NewHTTPHandler serves the read-only history API:
//
//	GET /patches/{collection}?ref=a&ref=b
//	GET /patches/{collection}/{ref}
//	GET /patches/{collection}/{ref}/state?version=n
//	GET /patches/{collection}/{ref}/export.xlsx
//	GET /patches/{collection}/{ref}/export.csv
func NewHTTPHandler(service *Service) http.Handler {
	h := &Handler{service: service, mux: http.NewServeMux()}
	h.mux.HandleFunc("GET /patches/{collection}", h.handleListMany)
	h.mux.HandleFunc("GET /patches/{collection}/{ref}", h.handleHistory)
	h.mux.HandleFunc("GET /patches/{collection}/{ref}/state", h.handleState)
	h.mux.HandleFunc("GET /patches/{collection}/{ref}/export.xlsx", h.handleWorkbook)
	h.mux.HandleFunc("GET /patches/{collection}/{ref}/export.csv", h.handleCSV)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type historyResponse struct {
	Collection string         `json:"collection"`
	Ref        any            `json:"ref"`
	Patches    []domain.Patch `json:"patches"`
}

type stateResponse struct {
	Collection string         `json:"collection"`
	Ref        any            `json:"ref"`
	Version    int            `json:"version"`
	State      map[string]any `json:"state"`
}

func (h *Handler) handleListMany(w http.ResponseWriter, r *http.Request) {
	collection := r.PathValue("collection")
	var raw []string
	for _, value := range r.URL.Query()["ref"] {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				raw = append(raw, trimmed)
			}
		}
	}
	if len(raw) == 0 {
		http.Error(w, "at least one ref is required", http.StatusBadRequest)
		return
	}
	refs := make([]any, len(raw))
	for i, value := range raw {
		ref, err := h.service.ParseRef(value)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid ref: %v", err), http.StatusBadRequest)
			return
		}
		refs[i] = ref
	}

	grouped, err := h.service.HistoryMany(r.Context(), collection, refs)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]historyResponse, len(refs))
	for i, ref := range refs {
		out[i] = historyResponse{Collection: collection, Ref: ref, Patches: grouped[i]}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	collection, ref, ok := h.target(w, r)
	if !ok {
		return
	}
	patches, err := h.service.History(r.Context(), collection, ref)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Collection: collection, Ref: ref, Patches: patches})
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	collection, ref, ok := h.target(w, r)
	if !ok {
		return
	}
	version := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("version")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "version must be zero or positive", http.StatusBadRequest)
			return
		}
		version = parsed
	}
	state, err := h.service.State(r.Context(), collection, ref, version)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{Collection: collection, Ref: ref, Version: version, State: state})
}

func (h *Handler) handleWorkbook(w http.ResponseWriter, r *http.Request) {
	collection, ref, ok := h.target(w, r)
	if !ok {
		return
	}
	// buffered so failures still produce a proper error status
	var buf bytes.Buffer
	if err := h.service.WriteWorkbook(r.Context(), &buf, collection, ref); err != nil {
		writeError(w, err)
		return
	}
	writeAttachment(w, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", FileName(collection, ref, "xlsx"), buf.Bytes())
}

func (h *Handler) handleCSV(w http.ResponseWriter, r *http.Request) {
	collection, ref, ok := h.target(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := h.service.WriteCSV(r.Context(), &buf, collection, ref); err != nil {
		writeError(w, err)
		return
	}
	writeAttachment(w, "text/csv", FileName(collection, ref, "csv"), buf.Bytes())
}

func (h *Handler) target(w http.ResponseWriter, r *http.Request) (string, any, bool) {
	collection := r.PathValue("collection")
	ref, err := h.service.ParseRef(r.PathValue("ref"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid ref: %v", err), http.StatusBadRequest)
		return "", nil, false
	}
	return collection, ref, true
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrUnknownCollection):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, history.ErrVersionOutOfRange):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeAttachment(w http.ResponseWriter, contentType, filename string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
