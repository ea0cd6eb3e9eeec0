package models

import "time"

// Provenance describes where a link request came from. It is recorded for
// auditing and never used for authorization.
type Provenance struct {
	IP        string
	UserAgent string
}

// MagicLink is a ledger record. An account has at most one record; issuing a
// new link overwrites it in place.
//
// UsedAt carries the whole consumption state: nil means unused, otherwise it
// is the instant of the first successful verification. The grace window is
// measured from it and it is never moved forward by repeated verifications.
type MagicLink struct {
	ID           string
	OwnerID      string
	SecretDigest string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	UsedAt       *time.Time
	Provenance   Provenance
}

// Expired reports whether the link is past its lifetime at now.
func (l *MagicLink) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// Used reports whether the link has been consumed.
func (l *MagicLink) Used() bool {
	return l.UsedAt != nil
}

// WithinGrace reports whether a consumed link may be presented again at now.
// An unused link is never within grace.
func (l *MagicLink) WithinGrace(now time.Time, grace time.Duration) bool {
	if l.UsedAt == nil {
		return false
	}
	return now.Sub(*l.UsedAt) <= grace
}

// Clone returns a deep copy, so stores can hand out records without sharing
// the UsedAt pointer.
func (l *MagicLink) Clone() *MagicLink {
	c := *l
	if l.UsedAt != nil {
		at := *l.UsedAt
		c.UsedAt = &at
	}
	return &c
}
