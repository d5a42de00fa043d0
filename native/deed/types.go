package deed

import (
	"fmt"
	"strings"
)

// Deed is the non-fungible title record for a single property. TokenID is
// assigned by the registry at mint time and never reused.
type Deed struct {
	TokenID  uint64
	Owner    [20]byte
	Approved [20]byte
	URI      string
	MintedAt int64
}

// Clone returns a copy of the deed so callers can mutate it without touching
// the stored instance.
func (d *Deed) Clone() *Deed {
	if d == nil {
		return nil
	}
	clone := *d
	return &clone
}

// SanitizeDeed validates a deed record before persistence, returning a cloned
// instance with a trimmed metadata URI.
func SanitizeDeed(d *Deed) (*Deed, error) {
	if d == nil {
		return nil, fmt.Errorf("nil deed")
	}
	if d.TokenID == 0 {
		return nil, fmt.Errorf("deed token id must be non-zero")
	}
	if d.Owner == ([20]byte{}) {
		return nil, fmt.Errorf("deed owner must be set")
	}
	clone := d.Clone()
	clone.URI = strings.TrimSpace(clone.URI)
	return clone, nil
}
