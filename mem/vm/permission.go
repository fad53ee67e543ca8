package vm

// Verdict is the outcome of a permission check.
type Verdict int

// Verdicts.
const (
	Allow Verdict = iota
	Deny
	// Miss means the access is legal but the leaf must be walked again
	// before it can complete. A store to a clean page is a Miss so that the
	// walk sets the dirty bit.
	Miss
)

// Permit checks an access at privilege eff against the bits of a leaf PTE.
func Permit(pte uint64, access AccessType, eff PrivMode, sum, mxr bool) Verdict {
	if eff == PrivM {
		return Allow
	}

	supervisor := eff == PrivS

	var noPriv bool
	if pte&PTEUser != 0 {
		noPriv = supervisor && (access == Fetch || !sum)
	} else {
		noPriv = !supervisor
	}

	noValid := pte&PTEValid == 0 || (pte&PTERead == 0 && pte&PTEWrite != 0)
	if noPriv || noValid {
		return Deny
	}

	switch access {
	case Fetch:
		if pte&PTEExec == 0 {
			return Deny
		}
	case Load:
		if pte&PTERead == 0 && !(mxr && pte&PTEExec != 0) {
			return Deny
		}
	case Store:
		if pte&PTERead == 0 || pte&PTEWrite == 0 {
			return Deny
		}

		if pte&PTEDirty == 0 {
			return Miss
		}
	}

	return Allow
}
