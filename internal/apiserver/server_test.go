package apiserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/cutlog/internal/models"
	"github.com/kimhsiao/cutlog/internal/remote"
	"github.com/kimhsiao/cutlog/internal/sync/hash"
)

const testSecret = "test-secret"

type testServer struct {
	t       *testing.T
	handler http.Handler
	store   *Store
	token   string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	jwtSvc := NewJWT(testSecret)
	token, err := jwtSvc.Sign("user-1", time.Hour)
	require.NoError(t, err)

	store := NewStore()
	return &testServer{
		t:       t,
		handler: NewRouter(Options{JWTSecret: testSecret, BatchLimit: 2}, store, jwtSvc),
		store:   store,
		token:   token,
	}
}

func (s *testServer) do(method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+s.token)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestHealthNeedsNoAuth(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireAuth(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sync/manifest", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	other, err := NewJWT("other-secret").Sign("user-1", time.Hour)
	require.NoError(t, err)
	s.token = other
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/v1/sync/manifest", nil, nil).Code)
}

func TestJWTRoundTrip(t *testing.T) {
	j := NewJWT(testSecret)
	token, err := j.Sign("owner-42", time.Hour)
	require.NoError(t, err)

	owner, err := j.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "owner-42", owner)

	expired, err := j.Sign("owner-42", -time.Minute)
	require.NoError(t, err)
	_, err = j.Verify(expired)
	assert.Error(t, err)

	_, err = j.Sign("", time.Hour)
	assert.Error(t, err)
}

func TestProfileLifecycle(t *testing.T) {
	s := newTestServer(t)
	payload := models.ProfilePayload{
		Name:         "Ada",
		Measurements: []models.Measurement{{Area: "top", Size: "4cm", StepOrder: 1}},
	}

	rec := s.do(http.MethodPost, "/v1/profiles", payload, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[remote.ServerProfile](t, rec)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "user-1", created.OwnerID)
	assert.Equal(t, hash.ProfilePayload(payload), created.ContentHash)

	payload.Name = "Ada L."
	rec = s.do(http.MethodPut, "/v1/profiles/"+created.ID, payload, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decode[remote.ServerProfile](t, rec)
	assert.NotEqual(t, created.ContentHash, updated.ContentHash)
	assert.Greater(t, updated.UpdatedAt, created.UpdatedAt)

	rec = s.do(http.MethodDelete, "/v1/profiles/"+created.ID, nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	manifest := decode[remote.Manifest](t, s.do(http.MethodGet, "/v1/sync/manifest", nil, nil))
	require.Len(t, manifest.Profiles, 1)
	assert.True(t, manifest.Profiles[0].IsDeleted, "soft-deleted profiles stay in the manifest")
	assert.NotZero(t, manifest.ServerTime)

	assert.Equal(t, http.StatusNoContent, s.do(http.MethodDelete, "/v1/profiles/"+created.ID, nil, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPut, "/v1/profiles/"+created.ID, payload, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodDelete, "/v1/profiles/missing", nil, nil).Code)
}

func TestCreateProfileValidation(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusUnprocessableEntity, s.do(http.MethodPost, "/v1/profiles", models.ProfilePayload{}, nil).Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/profiles", bytes.NewBufferString("{"))
	req.Header.Set("Authorization", "Bearer "+s.token)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateProfileIdempotency(t *testing.T) {
	s := newTestServer(t)
	headers := map[string]string{"Idempotency-Key": "tmp-123"}

	first := s.do(http.MethodPost, "/v1/profiles", models.ProfilePayload{Name: "Ada"}, headers)
	require.Equal(t, http.StatusCreated, first.Code)
	second := s.do(http.MethodPost, "/v1/profiles", models.ProfilePayload{Name: "Ada"}, headers)
	require.Equal(t, http.StatusOK, second.Code)

	assert.Equal(t, decode[remote.ServerProfile](t, first).ID, decode[remote.ServerProfile](t, second).ID)
	assert.Len(t, s.store.ListProfiles("user-1"), 1)
}

func TestBatchGetProfiles(t *testing.T) {
	s := newTestServer(t)
	a, _, err := s.store.CreateProfile("user-1", "", models.ProfilePayload{Name: "A"})
	require.NoError(t, err)
	b, _, err := s.store.CreateProfile("user-1", "", models.ProfilePayload{Name: "B"})
	require.NoError(t, err)
	foreign, _, err := s.store.CreateProfile("user-2", "", models.ProfilePayload{Name: "X"})
	require.NoError(t, err)

	rec := s.do(http.MethodPost, "/v1/profiles/batch", map[string][]string{"ids": {b.ID, foreign.ID}}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode[struct {
		Profiles []remote.ServerProfile `json:"profiles"`
	}](t, rec)
	require.Len(t, out.Profiles, 1, "other owners' profiles are invisible")
	assert.Equal(t, b.ID, out.Profiles[0].ID)

	rec = s.do(http.MethodPost, "/v1/profiles/batch", map[string][]string{"ids": {a.ID, b.ID, "c"}}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "batch limit enforced")
}

func TestRecordLifecycle(t *testing.T) {
	s := newTestServer(t)
	p, _, err := s.store.CreateProfile("user-1", "", models.ProfilePayload{Name: "Ada"})
	require.NoError(t, err)
	base := "/v1/profiles/" + p.ID + "/records"

	payload := models.RecordPayload{OccurredAt: 1700000000, Notes: "fade", PriceCents: 2500}
	rec := s.do(http.MethodPost, base, payload, map[string]string{"Idempotency-Key": "tmp-r"})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[remote.ServerRecord](t, rec)
	assert.Equal(t, p.ID, created.ProfileID)
	assert.Equal(t, hash.RecordPayload(payload), created.ContentHash)

	manifest := decode[remote.Manifest](t, s.do(http.MethodGet, "/v1/sync/manifest", nil, nil))
	require.Len(t, manifest.Profiles, 1)
	assert.Greater(t, manifest.Profiles[0].UpdatedAt, p.UpdatedAt, "record writes touch the parent")
	assert.Equal(t, p.ContentHash, manifest.Profiles[0].ContentHash, "record writes keep the parent hash")

	payload.Notes = "taper"
	rec = s.do(http.MethodPut, base+"/"+created.ID, payload, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	list := decode[struct {
		Records []remote.ServerRecord `json:"records"`
	}](t, s.do(http.MethodGet, base, nil, nil))
	require.Len(t, list.Records, 1)
	assert.Equal(t, "taper", list.Records[0].Notes)

	assert.Equal(t, http.StatusNoContent, s.do(http.MethodDelete, base+"/"+created.ID, nil, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodDelete, base+"/"+created.ID, nil, nil).Code)

	profiles := s.store.ListProfiles("user-1")
	require.Len(t, profiles, 1)
	assert.Zero(t, profiles[0].RecordCount)

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/v1/profiles/missing/records", nil, nil).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, s.do(http.MethodPost, base, models.RecordPayload{}, nil).Code)
}

func TestDeleteProfileRemovesRecords(t *testing.T) {
	s := newTestServer(t)
	p, _, err := s.store.CreateProfile("user-1", "", models.ProfilePayload{Name: "Ada"})
	require.NoError(t, err)
	_, _, err = s.store.CreateRecord("user-1", p.ID, "", models.RecordPayload{OccurredAt: 1})
	require.NoError(t, err)

	require.NoError(t, s.store.DeleteProfile("user-1", p.ID))
	_, err = s.store.ListRecords("user-1", p.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
