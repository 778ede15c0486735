package journey

// ClaimSet records which sessions already belong to a journey. One set spans
// one run; a claimed session is never released.
type ClaimSet struct {
	ids map[string]string
}

func NewClaimSet() *ClaimSet {
	return &ClaimSet{ids: make(map[string]string)}
}

// Claimed reports whether sessionID is taken.
func (c *ClaimSet) Claimed(sessionID string) bool {
	_, ok := c.ids[sessionID]
	return ok
}

// Owner returns the conversion that claimed sessionID.
func (c *ClaimSet) Owner(sessionID string) (string, bool) {
	conv, ok := c.ids[sessionID]
	return conv, ok
}

// Claim assigns sessionID to convID. It returns false, leaving the set
// unchanged, when the session is already taken.
func (c *ClaimSet) Claim(sessionID, convID string) bool {
	if _, ok := c.ids[sessionID]; ok {
		return false
	}
	c.ids[sessionID] = convID
	return true
}

func (c *ClaimSet) Len() int { return len(c.ids) }
