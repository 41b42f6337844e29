// Package hash computes the content hashes used for change detection.
//
// A content hash covers only the user-editable fields of an entity. Ids,
// timestamps, sync status and the hash itself are excluded, so a row that is
// re-saved without edits keeps its hash.
package hash

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"golang.org/x/text/unicode/norm"

	"github.com/kimhsiao/cutlog/internal/models"
)

// Domain prefixes separate profile and record digests. The version suffix
// allows the projection to change later.
const (
	DomainProfile = "cutlog/profile/v1"
	DomainRecord  = "cutlog/record/v1"
)

// Length is the number of hex characters kept from the digest.
const Length = 16

type measurementProjection struct {
	Area      string `json:"area"`
	Size      string `json:"size"`
	Technique string `json:"technique"`
	Notes     string `json:"notes"`
	StepOrder int    `json:"step_order"`
}

type profileProjection struct {
	Name         string                  `json:"name"`
	Description  string                  `json:"description"`
	Measurements []measurementProjection `json:"measurements"`
	ImageURLs    []string                `json:"image_urls"`
}

type recordProjection struct {
	OccurredAt      int64    `json:"occurred_at"`
	Stylist         string   `json:"stylist"`
	Location        string   `json:"location"`
	Notes           string   `json:"notes"`
	PriceCents      int64    `json:"price_cents"`
	DurationMinutes int      `json:"duration_minutes"`
	ImageURLs       []string `json:"image_urls"`
}

// Profile returns the content hash of a profile.
func Profile(p *models.Profile) string {
	return ProfilePayload(p.Payload())
}

// ProfilePayload returns the content hash of profile fields as sent on the wire.
// Measurements keep their stored order.
func ProfilePayload(p models.ProfilePayload) string {
	proj := profileProjection{
		Name:         nfc(p.Name),
		Description:  nfc(p.Description),
		Measurements: make([]measurementProjection, len(p.Measurements)),
		ImageURLs:    nfcAll(p.ImageURLs),
	}
	for i, m := range p.Measurements {
		proj.Measurements[i] = measurementProjection{
			Area:      nfc(m.Area),
			Size:      nfc(m.Size),
			Technique: nfc(m.Technique),
			Notes:     nfc(m.Notes),
			StepOrder: m.StepOrder,
		}
	}
	return withDomain(DomainProfile, canonical(proj))
}

// Record returns the content hash of a record.
func Record(r *models.Record) string {
	return RecordPayload(r.Payload())
}

// RecordPayload returns the content hash of record fields as sent on the wire.
func RecordPayload(r models.RecordPayload) string {
	proj := recordProjection{
		OccurredAt:      r.OccurredAt,
		Stylist:         nfc(r.Stylist),
		Location:        nfc(r.Location),
		Notes:           nfc(r.Notes),
		PriceCents:      r.PriceCents,
		DurationMinutes: r.DurationMinutes,
		ImageURLs:       nfcAll(r.ImageURLs),
	}
	return withDomain(DomainRecord, canonical(proj))
}

// canonical encodes v with struct field order and no HTML escaping.
// The projections hold only strings, ints and slices, so encoding cannot fail.
func canonical(v interface{}) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		panic("hash: encode projection: " + err.Error())
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})
}

// withDomain computes SHA256(domain + 0x00 + data), truncated to Length hex chars.
func withDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))[:Length]
}

func nfc(s string) string {
	return norm.NFC.String(s)
}

// nfcAll normalizes every element. A nil slice and an empty slice hash the same.
func nfcAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = nfc(s)
	}
	return out
}
