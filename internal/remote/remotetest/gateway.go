// Package remotetest provides an in-memory remote.Gateway for tests.
//
// The fake behaves like the reference API: soft-deleted profiles stay in the
// manifest, record writes touch their profile, creates honour the client id
// as an idempotency key. Failures can be injected per call.
package remotetest

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/kimhsiao/cutlog/internal/models"
	"github.com/kimhsiao/cutlog/internal/remote"
	"github.com/kimhsiao/cutlog/internal/sync/hash"
)

// Call names used in failure keys and the call log.
const (
	CallCreateProfile    = "create_profile"
	CallUpdateProfile    = "update_profile"
	CallDeleteProfile    = "delete_profile"
	CallListProfiles     = "list_profiles"
	CallBatchGetProfiles = "batch_get_profiles"
	CallCreateRecord     = "create_record"
	CallUpdateRecord     = "update_record"
	CallDeleteRecord     = "delete_record"
	CallListRecords      = "list_records"
	CallGetManifest      = "get_manifest"
)

// Gateway is an in-memory remote.Gateway.
type Gateway struct {
	mu sync.Mutex

	Owner string

	profiles map[string]*remote.ServerProfile
	records  map[string]*remote.ServerRecord
	idem     map[string]string

	clock   int64
	seq     int
	nextIDs []string
	hashes  map[string]string

	once       map[string][]error
	persistent map[string]error
	calls      []string
}

// New creates an empty Gateway.
func New() *Gateway {
	return &Gateway{
		Owner:      "user-1",
		profiles:   make(map[string]*remote.ServerProfile),
		records:    make(map[string]*remote.ServerRecord),
		idem:       make(map[string]string),
		clock:      1000,
		hashes:     make(map[string]string),
		once:       make(map[string][]error),
		persistent: make(map[string]error),
	}
}

// Key builds a failure key for call on id. An empty id matches every call.
func Key(call, id string) string {
	if id == "" {
		return call
	}
	return call + ":" + id
}

// FailOnce makes the next call matching key return err.
func (g *Gateway) FailOnce(key string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.once[key] = append(g.once[key], err)
}

// Fail makes every call matching key return err until Recover.
func (g *Gateway) Fail(key string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.persistent[key] = err
}

// Recover clears the persistent failure for key.
func (g *Gateway) Recover(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.persistent, key)
}

// SetNextIDs fixes the ids assigned to the next created entities.
func (g *Gateway) SetNextIDs(ids ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextIDs = append(g.nextIDs, ids...)
}

// SetHash overrides the content hash returned for the entity with id.
func (g *Gateway) SetHash(id, contentHash string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hashes[id] = contentHash
}

// Calls returns the call log as "call:id" entries.
func (g *Gateway) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

// ResetCalls clears the call log.
func (g *Gateway) ResetCalls() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = nil
}

// CountCalls returns how many logged calls have the given name.
func (g *Gateway) CountCalls(call string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		if c == call || len(c) > len(call) && c[:len(call)+1] == call+":" {
			n++
		}
	}
	return n
}

// PutProfile stores a copy of sp. An empty content hash is computed.
func (g *Gateway) PutProfile(sp *remote.ServerProfile) *remote.ServerProfile {
	g.mu.Lock()
	defer g.mu.Unlock()
	c := copyProfile(sp)
	if c.ContentHash == "" {
		c.ContentHash = hash.ProfilePayload(c.Payload())
	}
	if c.OwnerID == "" {
		c.OwnerID = g.Owner
	}
	if c.UpdatedAt == 0 {
		c.UpdatedAt = g.tick()
	}
	g.profiles[c.ID] = c
	return copyProfile(c)
}

// PutRecord stores a copy of sr. An empty content hash is computed.
func (g *Gateway) PutRecord(sr *remote.ServerRecord) *remote.ServerRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	c := copyRecord(sr)
	if c.ContentHash == "" {
		c.ContentHash = hash.RecordPayload(c.Payload())
	}
	if c.UpdatedAt == 0 {
		c.UpdatedAt = g.tick()
	}
	g.records[c.ID] = c
	return copyRecord(c)
}

// Profile returns the stored profile, soft-deleted ones included.
func (g *Gateway) Profile(id string) (*remote.ServerProfile, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.profiles[id]
	if !ok {
		return nil, false
	}
	return copyProfile(p), true
}

// Record returns the stored record.
func (g *Gateway) Record(id string) (*remote.ServerRecord, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.records[id]
	if !ok {
		return nil, false
	}
	return copyRecord(r), true
}

// ProfileCount returns the number of stored profiles, soft-deleted ones included.
func (g *Gateway) ProfileCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.profiles)
}

// Purge removes a profile and its records as if it never existed.
func (g *Gateway) Purge(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.profiles, id)
	for rid, r := range g.records {
		if r.ProfileID == id {
			delete(g.records, rid)
		}
	}
}

// =====================================================
// remote.Gateway
// =====================================================

func (g *Gateway) CreateProfile(ctx context.Context, clientID string, payload models.ProfilePayload) (*remote.ServerProfile, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(ctx, CallCreateProfile, clientID); err != nil {
		return nil, err
	}
	if id, ok := g.idem["profile:"+clientID]; ok && clientID != "" {
		return copyProfile(g.profiles[id]), nil
	}

	now := g.tick()
	p := &remote.ServerProfile{
		ID:        g.newID("srv"),
		OwnerID:   g.Owner,
		CreatedAt: now,
		UpdatedAt: now,
	}
	g.applyProfile(p, payload)
	g.profiles[p.ID] = p
	if clientID != "" {
		g.idem["profile:"+clientID] = p.ID
	}
	return copyProfile(p), nil
}

func (g *Gateway) UpdateProfile(ctx context.Context, id string, payload models.ProfilePayload) (*remote.ServerProfile, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(ctx, CallUpdateProfile, id); err != nil {
		return nil, err
	}
	p, err := g.liveProfile(http.MethodPut, id)
	if err != nil {
		return nil, err
	}
	g.applyProfile(p, payload)
	p.UpdatedAt = g.tick()
	return copyProfile(p), nil
}

func (g *Gateway) DeleteProfile(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(ctx, CallDeleteProfile, id); err != nil {
		return err
	}
	p, ok := g.profiles[id]
	if !ok {
		return notFound(http.MethodDelete, "/v1/profiles/"+id)
	}
	if p.IsDeleted {
		return nil
	}
	p.IsDeleted = true
	p.RecordCount = 0
	p.UpdatedAt = g.tick()
	for rid, r := range g.records {
		if r.ProfileID == id {
			delete(g.records, rid)
		}
	}
	return nil
}

func (g *Gateway) ListProfiles(ctx context.Context) ([]*remote.ServerProfile, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(ctx, CallListProfiles, ""); err != nil {
		return nil, err
	}
	var out []*remote.ServerProfile
	for _, id := range g.sortedProfileIDs() {
		if p := g.profiles[id]; !p.IsDeleted {
			out = append(out, copyProfile(p))
		}
	}
	return out, nil
}

func (g *Gateway) BatchGetProfiles(ctx context.Context, ids []string) ([]*remote.ServerProfile, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(ctx, CallBatchGetProfiles, ""); err != nil {
		return nil, err
	}
	if len(ids) > remote.MaxBatchSize {
		return nil, &remote.StatusError{Method: http.MethodPost, Path: "/v1/profiles/batch", StatusCode: http.StatusBadRequest}
	}
	out := make([]*remote.ServerProfile, 0, len(ids))
	for _, id := range ids {
		if p, ok := g.profiles[id]; ok && !p.IsDeleted {
			out = append(out, copyProfile(p))
		}
	}
	return out, nil
}

func (g *Gateway) CreateRecord(ctx context.Context, profileID, clientID string, payload models.RecordPayload) (*remote.ServerRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(ctx, CallCreateRecord, clientID); err != nil {
		return nil, err
	}
	p, err := g.liveProfile(http.MethodPost, profileID)
	if err != nil {
		return nil, err
	}
	if id, ok := g.idem["record:"+clientID]; ok && clientID != "" {
		return copyRecord(g.records[id]), nil
	}

	now := g.tick()
	r := &remote.ServerRecord{
		ID:        g.newID("rec"),
		ProfileID: profileID,
		CreatedBy: g.Owner,
		CreatedAt: now,
		UpdatedAt: now,
	}
	g.applyRecord(r, payload)
	g.records[r.ID] = r
	if clientID != "" {
		g.idem["record:"+clientID] = r.ID
	}
	p.RecordCount++
	p.UpdatedAt = g.tick()
	return copyRecord(r), nil
}

func (g *Gateway) UpdateRecord(ctx context.Context, profileID, id string, payload models.RecordPayload) (*remote.ServerRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(ctx, CallUpdateRecord, id); err != nil {
		return nil, err
	}
	p, r, err := g.liveRecord(http.MethodPut, profileID, id)
	if err != nil {
		return nil, err
	}
	g.applyRecord(r, payload)
	r.UpdatedAt = g.tick()
	p.UpdatedAt = g.tick()
	return copyRecord(r), nil
}

func (g *Gateway) DeleteRecord(ctx context.Context, profileID, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(ctx, CallDeleteRecord, id); err != nil {
		return err
	}
	p, _, err := g.liveRecord(http.MethodDelete, profileID, id)
	if err != nil {
		return err
	}
	delete(g.records, id)
	if p.RecordCount > 0 {
		p.RecordCount--
	}
	p.UpdatedAt = g.tick()
	return nil
}

func (g *Gateway) ListRecords(ctx context.Context, profileID string) ([]*remote.ServerRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(ctx, CallListRecords, profileID); err != nil {
		return nil, err
	}
	if _, err := g.liveProfile(http.MethodGet, profileID); err != nil {
		return nil, err
	}
	out := []*remote.ServerRecord{}
	for _, r := range g.records {
		if r.ProfileID == profileID {
			out = append(out, copyRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (g *Gateway) GetManifest(ctx context.Context) (*remote.Manifest, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(ctx, CallGetManifest, ""); err != nil {
		return nil, err
	}
	m := &remote.Manifest{Profiles: []remote.ManifestEntry{}, ServerTime: g.clock}
	for _, id := range g.sortedProfileIDs() {
		p := g.profiles[id]
		m.Profiles = append(m.Profiles, remote.ManifestEntry{
			ID:          p.ID,
			ContentHash: p.ContentHash,
			UpdatedAt:   p.UpdatedAt,
			IsDeleted:   p.IsDeleted,
		})
	}
	return m, nil
}

var _ remote.Gateway = (*Gateway)(nil)

// =====================================================
// helpers (callers hold g.mu)
// =====================================================

func (g *Gateway) begin(ctx context.Context, call, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.calls = append(g.calls, Key(call, id))
	for _, key := range []string{Key(call, id), call} {
		if errs := g.once[key]; len(errs) > 0 {
			g.once[key] = errs[1:]
			return errs[0]
		}
		if err, ok := g.persistent[key]; ok {
			return err
		}
	}
	return nil
}

func (g *Gateway) tick() int64 {
	g.clock++
	return g.clock
}

func (g *Gateway) newID(prefix string) string {
	if len(g.nextIDs) > 0 {
		id := g.nextIDs[0]
		g.nextIDs = g.nextIDs[1:]
		return id
	}
	g.seq++
	return fmt.Sprintf("%s-%d", prefix, g.seq)
}

func (g *Gateway) applyProfile(p *remote.ServerProfile, payload models.ProfilePayload) {
	p.Name = payload.Name
	p.Description = payload.Description
	p.Measurements = append([]models.Measurement(nil), payload.Measurements...)
	p.ImageURLs = append([]string(nil), payload.ImageURLs...)
	p.ContentHash = hash.ProfilePayload(payload)
	if h, ok := g.hashes[p.ID]; ok {
		p.ContentHash = h
	}
}

func (g *Gateway) applyRecord(r *remote.ServerRecord, payload models.RecordPayload) {
	r.OccurredAt = payload.OccurredAt
	r.Stylist = payload.Stylist
	r.Location = payload.Location
	r.Notes = payload.Notes
	r.PriceCents = payload.PriceCents
	r.DurationMinutes = payload.DurationMinutes
	r.ImageURLs = append([]string(nil), payload.ImageURLs...)
	r.ContentHash = hash.RecordPayload(payload)
	if h, ok := g.hashes[r.ID]; ok {
		r.ContentHash = h
	}
}

func (g *Gateway) liveProfile(method, id string) (*remote.ServerProfile, error) {
	p, ok := g.profiles[id]
	if !ok || p.IsDeleted {
		return nil, notFound(method, "/v1/profiles/"+id)
	}
	return p, nil
}

func (g *Gateway) liveRecord(method, profileID, id string) (*remote.ServerProfile, *remote.ServerRecord, error) {
	p, err := g.liveProfile(method, profileID)
	if err != nil {
		return nil, nil, err
	}
	r, ok := g.records[id]
	if !ok || r.ProfileID != profileID {
		return nil, nil, notFound(method, "/v1/profiles/"+profileID+"/records/"+id)
	}
	return p, r, nil
}

func (g *Gateway) sortedProfileIDs() []string {
	ids := make([]string, 0, len(g.profiles))
	for id := range g.profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func notFound(method, path string) error {
	return &remote.StatusError{Method: method, Path: path, StatusCode: http.StatusNotFound, Message: "not found"}
}

func copyProfile(p *remote.ServerProfile) *remote.ServerProfile {
	c := *p
	c.Measurements = append([]models.Measurement(nil), p.Measurements...)
	c.ImageURLs = append([]string(nil), p.ImageURLs...)
	return &c
}

func copyRecord(r *remote.ServerRecord) *remote.ServerRecord {
	c := *r
	c.ImageURLs = append([]string(nil), r.ImageURLs...)
	return &c
}

// ServerError returns a transient 503 error.
func ServerError() error {
	return &remote.StatusError{Method: http.MethodPost, Path: "/v1", StatusCode: http.StatusServiceUnavailable, Message: "unavailable"}
}

// Rejected returns a permanent 422 error.
func Rejected() error {
	return &remote.StatusError{Method: http.MethodPost, Path: "/v1", StatusCode: http.StatusUnprocessableEntity, Message: "invalid payload"}
}
