package apiserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kimhsiao/cutlog/internal/models"
)

// Handler serves the profile, record and sync endpoints.
type Handler struct {
	Store      *Store
	BatchLimit int
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, ErrInvalid):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		http.Error(w, "server error", http.StatusInternalServerError)
	}
}

func idempotencyKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("Idempotency-Key"))
}

func owner(r *http.Request) string {
	id, _ := OwnerFromContext(r.Context())
	return id
}

// =====================================================
// Profiles
// =====================================================

func (h *Handler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"profiles": h.Store.ListProfiles(owner(r))})
}

func (h *Handler) CreateProfile(w http.ResponseWriter, r *http.Request) {
	var req models.ProfilePayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	p, created, err := h.Store.CreateProfile(owner(r), idempotencyKey(r), req)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, p)
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req models.ProfilePayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	p, err := h.Store.UpdateProfile(owner(r), chi.URLParam(r, "id"), req)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) DeleteProfile(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteProfile(owner(r), chi.URLParam(r, "id")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type batchReq struct {
	IDs []string `json:"ids"`
}

func (h *Handler) BatchGetProfiles(w http.ResponseWriter, r *http.Request) {
	var req batchReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if len(req.IDs) > h.BatchLimit {
		http.Error(w, "too many ids", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"profiles": h.Store.BatchGetProfiles(owner(r), req.IDs)})
}

// =====================================================
// Records
// =====================================================

func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	records, err := h.Store.ListRecords(owner(r), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (h *Handler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	var req models.RecordPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	rec, created, err := h.Store.CreateRecord(owner(r), chi.URLParam(r, "id"), idempotencyKey(r), req)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, rec)
}

func (h *Handler) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	var req models.RecordPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	rec, err := h.Store.UpdateRecord(owner(r), chi.URLParam(r, "id"), chi.URLParam(r, "recordID"), req)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteRecord(owner(r), chi.URLParam(r, "id"), chi.URLParam(r, "recordID")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =====================================================
// Sync
// =====================================================

func (h *Handler) Manifest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Store.Manifest(owner(r)))
}
