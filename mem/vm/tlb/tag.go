package tlb

// TagKind tells how a TLB slot may be used.
type TagKind uint8

// Tag kinds.
const (
	Invalid TagKind = iota
	Valid
	// ValidCheckTriggers marks a slot whose accesses must be evaluated
	// against the configured triggers before they complete.
	ValidCheckTriggers
)

// A Tag identifies the virtual page held by a TLB slot.
type Tag struct {
	Kind TagKind
	VPN  uint64
}

// InvalidTag is the tag of an empty slot.
var InvalidTag = Tag{}

// Match returns the kind of hit the tag gives to the virtual page vpn.
func (t Tag) Match(vpn uint64) Hit {
	switch {
	case t.Kind == Invalid || t.VPN != vpn:
		return Miss
	case t.Kind == ValidCheckTriggers:
		return HitCheckTriggers
	default:
		return HitPlain
	}
}
