package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/cutlog/internal/models"
)

func sampleProfile() *models.Profile {
	return &models.Profile{
		ID:          "p1",
		Name:        "Ada",
		Description: "keeps it short",
		Measurements: []models.Measurement{
			{Area: "sides", Size: "#2", Technique: "clipper", StepOrder: 1},
			{Area: "top", Size: "4cm", Technique: "scissor", StepOrder: 2},
		},
		ImageURLs:  []string{"https://img.example/1"},
		CreatedAt:  100,
		UpdatedAt:  100,
		SyncStatus: models.SyncStatusSynced,
	}
}

func sampleRecord() *models.Record {
	return &models.Record{
		ID:              "r1",
		ProfileID:       "p1",
		OccurredAt:      1700000000,
		Stylist:         "Sam",
		Location:        "Main St",
		Notes:           "fade",
		PriceCents:      3500,
		DurationMinutes: 30,
		CreatedAt:       100,
		UpdatedAt:       100,
	}
}

func TestProfileDeterminism(t *testing.T) {
	p := sampleProfile()
	h1 := Profile(p)
	h2 := Profile(p)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, Length)
	assert.Regexp(t, "^[0-9a-f]+$", h1)
}

func TestProfileIgnoresNonSemanticFields(t *testing.T) {
	p := sampleProfile()
	before := Profile(p)

	p.ID = "srv-1"
	p.UpdatedAt = 999
	p.CreatedAt = 1
	p.RecordCount = 7
	p.SyncStatus = models.SyncStatusPendingUpload
	p.ContentHash = before
	synced := int64(5)
	p.LastSyncedAt = &synced

	assert.Equal(t, before, Profile(p))
}

func TestProfileChangesWithContent(t *testing.T) {
	base := Profile(sampleProfile())

	mutations := map[string]func(p *models.Profile){
		"name":        func(p *models.Profile) { p.Name = "Grace" },
		"description": func(p *models.Profile) { p.Description = "" },
		"measurement": func(p *models.Profile) { p.Measurements[0].Size = "#3" },
		"image":       func(p *models.Profile) { p.ImageURLs = append(p.ImageURLs, "https://img.example/2") },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			p := sampleProfile()
			mutate(p)
			assert.NotEqual(t, base, Profile(p))
		})
	}
}

func TestProfileMeasurementOrderIsSignificant(t *testing.T) {
	p := sampleProfile()
	before := Profile(p)

	p.Measurements[0], p.Measurements[1] = p.Measurements[1], p.Measurements[0]
	assert.NotEqual(t, before, Profile(p))
}

func TestProfileMatchesPayloadHash(t *testing.T) {
	p := sampleProfile()
	assert.Equal(t, Profile(p), ProfilePayload(p.Payload()))
}

func TestNilAndEmptySlicesHashTheSame(t *testing.T) {
	a := sampleProfile()
	a.ImageURLs = nil
	a.Measurements = nil
	b := sampleProfile()
	b.ImageURLs = []string{}
	b.Measurements = []models.Measurement{}

	assert.Equal(t, Profile(a), Profile(b))
}

func TestUnicodeNormalization(t *testing.T) {
	composed := sampleProfile()
	composed.Name = "Ren\u00e9e"
	decomposed := sampleProfile()
	decomposed.Name = "Rene\u0301e"

	assert.Equal(t, Profile(composed), Profile(decomposed))
}

func TestHTMLCharactersAreNotEscaped(t *testing.T) {
	data := canonical(profileProjection{Name: "<a&b>"})
	assert.Contains(t, string(data), "<a&b>")
}

func TestRecordHash(t *testing.T) {
	r := sampleRecord()
	before := Record(r)
	require.Len(t, before, Length)

	r.ID = "c-99"
	r.ProfileID = "srv-1"
	r.UpdatedAt = 12345
	assert.Equal(t, before, Record(r), "ids and timestamps are outside the projection")

	r.PriceCents = 4000
	assert.NotEqual(t, before, Record(r))
	assert.Equal(t, Record(r), RecordPayload(r.Payload()))
}

func TestDomainSeparation(t *testing.T) {
	data := []byte(`{}`)
	assert.NotEqual(t, withDomain(DomainProfile, data), withDomain(DomainRecord, data))
}
