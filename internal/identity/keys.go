// Package identity defines the Study/Series/Instance key types and the
// query model used to search and match them.
package identity

import "strings"

// maxUIDLength is the DICOM UID length limit (PS3.5).
const maxUIDLength = 64

// StudyKey, SeriesKey and InstanceKey are opaque DICOM UIDs. Equality is
// byte-exact; callers must not infer structure from their contents beyond
// what ValidUID checks.
type (
	StudyKey    string
	SeriesKey   string
	InstanceKey string
)

// ValidUID reports whether s is a syntactically plausible DICOM UID: non-empty,
// at most 64 characters, and restricted to digits and dots. The router never
// calls this (UIDs in paths are opaque), but STOW-RS uses it to reject parts
// whose extracted identifiers are not usable as storage keys.
func ValidUID(s string) bool {
	if s == "" || len(s) > maxUIDLength {
		return false
	}
	for _, r := range s {
		if r != '.' && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// Triple identifies a single stored instance.
type Triple struct {
	Study    StudyKey
	Series   SeriesKey
	Instance InstanceKey
}

// SoftDeleteKey renders the triple's canonical soft-delete-mask key, "s/se/i".
func (t Triple) SoftDeleteKey() string {
	var b strings.Builder
	b.WriteString(string(t.Study))
	b.WriteByte('/')
	b.WriteString(string(t.Series))
	b.WriteByte('/')
	b.WriteString(string(t.Instance))
	return b.String()
}

// DeleteMode selects soft vs permanent deletion semantics (spec.md §4.1).
type DeleteMode int

const (
	DeleteSoft DeleteMode = iota
	DeletePermanent
)

func (m DeleteMode) String() string {
	if m == DeleteSoft {
		return "soft"
	}
	return "permanent"
}
