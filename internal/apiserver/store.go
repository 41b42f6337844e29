package apiserver

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kimhsiao/cutlog/internal/models"
	"github.com/kimhsiao/cutlog/internal/remote"
	"github.com/kimhsiao/cutlog/internal/sync/hash"
	"github.com/kimhsiao/cutlog/internal/uuid"
)

var (
	ErrNotFound = errors.New("not found")
	ErrInvalid  = errors.New("invalid payload")
)

type ownerData struct {
	profiles map[string]*remote.ServerProfile
	records  map[string]*remote.ServerRecord
	// idempotency key -> created entity id
	idempotency map[string]string
}

// Store is the in-memory authoritative store, partitioned by owner.
type Store struct {
	mu     sync.Mutex
	owners map[string]*ownerData
	now    func() time.Time
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		owners: make(map[string]*ownerData),
		now:    time.Now,
	}
}

// SetClock replaces the time source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) owner(id string) *ownerData {
	od, ok := s.owners[id]
	if !ok {
		od = &ownerData{
			profiles:    make(map[string]*remote.ServerProfile),
			records:     make(map[string]*remote.ServerRecord),
			idempotency: make(map[string]string),
		}
		s.owners[id] = od
	}
	return od
}

// bump returns a timestamp strictly after prev so every write is visible in
// the manifest even within one second.
func (s *Store) bump(prev int64) int64 {
	now := s.now().Unix()
	if now <= prev {
		return prev + 1
	}
	return now
}

func validateProfile(p models.ProfilePayload) error {
	if strings.TrimSpace(p.Name) == "" || len(p.ImageURLs) > models.MaxProfileImages {
		return ErrInvalid
	}
	return nil
}

func validateRecord(r models.RecordPayload) error {
	if r.OccurredAt <= 0 || r.PriceCents < 0 || r.DurationMinutes < 0 {
		return ErrInvalid
	}
	return nil
}

func copyProfile(p *remote.ServerProfile) *remote.ServerProfile {
	c := *p
	c.Measurements = append([]models.Measurement{}, p.Measurements...)
	c.ImageURLs = append([]string{}, p.ImageURLs...)
	return &c
}

func copyRecord(r *remote.ServerRecord) *remote.ServerRecord {
	c := *r
	c.ImageURLs = append([]string{}, r.ImageURLs...)
	return &c
}

func liveProfile(od *ownerData, id string) (*remote.ServerProfile, error) {
	p, ok := od.profiles[id]
	if !ok || p.IsDeleted {
		return nil, ErrNotFound
	}
	return p, nil
}

func applyProfile(p *remote.ServerProfile, payload models.ProfilePayload) {
	p.Name = payload.Name
	p.Description = payload.Description
	p.Measurements = append([]models.Measurement{}, payload.Measurements...)
	p.ImageURLs = append([]string{}, payload.ImageURLs...)
	p.ContentHash = hash.ProfilePayload(payload)
}

func applyRecord(r *remote.ServerRecord, payload models.RecordPayload) {
	r.OccurredAt = payload.OccurredAt
	r.Stylist = payload.Stylist
	r.Location = payload.Location
	r.Notes = payload.Notes
	r.PriceCents = payload.PriceCents
	r.DurationMinutes = payload.DurationMinutes
	r.ImageURLs = append([]string{}, payload.ImageURLs...)
	r.ContentHash = hash.RecordPayload(payload)
}

// =====================================================
// Profiles
// =====================================================

// CreateProfile creates a profile. A repeated idempotency key returns the
// profile created by the first request and created=false.
func (s *Store) CreateProfile(owner, idemKey string, payload models.ProfilePayload) (*remote.ServerProfile, bool, error) {
	if err := validateProfile(payload); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	od := s.owner(owner)

	if idemKey != "" {
		if id, ok := od.idempotency["profile:"+idemKey]; ok {
			if p, ok := od.profiles[id]; ok {
				return copyProfile(p), false, nil
			}
		}
	}

	now := s.now().Unix()
	p := &remote.ServerProfile{
		ID:        uuid.New(),
		OwnerID:   owner,
		CreatedAt: now,
		UpdatedAt: now,
	}
	applyProfile(p, payload)
	od.profiles[p.ID] = p
	if idemKey != "" {
		od.idempotency["profile:"+idemKey] = p.ID
	}
	return copyProfile(p), true, nil
}

// UpdateProfile replaces the editable fields of a live profile.
func (s *Store) UpdateProfile(owner, id string, payload models.ProfilePayload) (*remote.ServerProfile, error) {
	if err := validateProfile(payload); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := liveProfile(s.owner(owner), id)
	if err != nil {
		return nil, err
	}
	applyProfile(p, payload)
	p.UpdatedAt = s.bump(p.UpdatedAt)
	return copyProfile(p), nil
}

// DeleteProfile soft-deletes a profile and removes its records.
// Deleting an already deleted profile succeeds.
func (s *Store) DeleteProfile(owner, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	od := s.owner(owner)

	p, ok := od.profiles[id]
	if !ok {
		return ErrNotFound
	}
	if p.IsDeleted {
		return nil
	}
	p.IsDeleted = true
	p.RecordCount = 0
	p.UpdatedAt = s.bump(p.UpdatedAt)
	for rid, r := range od.records {
		if r.ProfileID == id {
			delete(od.records, rid)
		}
	}
	return nil
}

// ListProfiles returns live profiles, oldest first.
func (s *Store) ListProfiles(owner string) []*remote.ServerProfile {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*remote.ServerProfile
	for _, p := range s.owner(owner).profiles {
		if !p.IsDeleted {
			out = append(out, copyProfile(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// BatchGetProfiles returns the live profiles among ids, in request order.
func (s *Store) BatchGetProfiles(owner string, ids []string) []*remote.ServerProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	od := s.owner(owner)

	out := make([]*remote.ServerProfile, 0, len(ids))
	for _, id := range ids {
		if p, err := liveProfile(od, id); err == nil {
			out = append(out, copyProfile(p))
		}
	}
	return out
}

// Manifest summarizes every profile of owner, soft-deleted ones included.
func (s *Store) Manifest(owner string) *remote.Manifest {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := &remote.Manifest{
		Profiles:   []remote.ManifestEntry{},
		ServerTime: s.now().Unix(),
	}
	for _, p := range s.owner(owner).profiles {
		m.Profiles = append(m.Profiles, remote.ManifestEntry{
			ID:          p.ID,
			ContentHash: p.ContentHash,
			UpdatedAt:   p.UpdatedAt,
			IsDeleted:   p.IsDeleted,
		})
	}
	sort.Slice(m.Profiles, func(i, j int) bool { return m.Profiles[i].ID < m.Profiles[j].ID })
	return m
}

// Purge removes a profile from the store entirely, as if it never existed.
func (s *Store) Purge(owner, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	od := s.owner(owner)
	delete(od.profiles, id)
	for rid, r := range od.records {
		if r.ProfileID == id {
			delete(od.records, rid)
		}
	}
}

// =====================================================
// Records
// =====================================================

// CreateRecord creates a record under a live profile.
func (s *Store) CreateRecord(owner, profileID, idemKey string, payload models.RecordPayload) (*remote.ServerRecord, bool, error) {
	if err := validateRecord(payload); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	od := s.owner(owner)

	p, err := liveProfile(od, profileID)
	if err != nil {
		return nil, false, err
	}
	if idemKey != "" {
		if id, ok := od.idempotency["record:"+idemKey]; ok {
			if r, ok := od.records[id]; ok {
				return copyRecord(r), false, nil
			}
		}
	}

	now := s.now().Unix()
	r := &remote.ServerRecord{
		ID:        uuid.New(),
		ProfileID: profileID,
		CreatedBy: owner,
		CreatedAt: now,
		UpdatedAt: now,
	}
	applyRecord(r, payload)
	od.records[r.ID] = r
	if idemKey != "" {
		od.idempotency["record:"+idemKey] = r.ID
	}

	p.RecordCount++
	p.UpdatedAt = s.bump(p.UpdatedAt)
	return copyRecord(r), true, nil
}

func liveRecord(od *ownerData, profileID, id string) (*remote.ServerProfile, *remote.ServerRecord, error) {
	p, err := liveProfile(od, profileID)
	if err != nil {
		return nil, nil, err
	}
	r, ok := od.records[id]
	if !ok || r.ProfileID != profileID {
		return nil, nil, ErrNotFound
	}
	return p, r, nil
}

// UpdateRecord replaces the editable fields of a record.
func (s *Store) UpdateRecord(owner, profileID, id string, payload models.RecordPayload) (*remote.ServerRecord, error) {
	if err := validateRecord(payload); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, r, err := liveRecord(s.owner(owner), profileID, id)
	if err != nil {
		return nil, err
	}
	applyRecord(r, payload)
	r.UpdatedAt = s.bump(r.UpdatedAt)
	p.UpdatedAt = s.bump(p.UpdatedAt)
	return copyRecord(r), nil
}

// DeleteRecord removes a record.
func (s *Store) DeleteRecord(owner, profileID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	od := s.owner(owner)

	p, _, err := liveRecord(od, profileID, id)
	if err != nil {
		return err
	}
	delete(od.records, id)
	if p.RecordCount > 0 {
		p.RecordCount--
	}
	p.UpdatedAt = s.bump(p.UpdatedAt)
	return nil
}

// ListRecords returns the records of a live profile, most recent haircut first.
func (s *Store) ListRecords(owner, profileID string) ([]*remote.ServerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	od := s.owner(owner)

	if _, err := liveProfile(od, profileID); err != nil {
		return nil, err
	}
	out := []*remote.ServerRecord{}
	for _, r := range od.records {
		if r.ProfileID == profileID {
			out = append(out, copyRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OccurredAt != out[j].OccurredAt {
			return out[i].OccurredAt > out[j].OccurredAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
