package session

// Finalized is the record handed to the external durable log exactly once
// per session, at termination: voluntary end, forced end, or discard.  The
// registry owns no history; everything after this record leaves the core.
type Finalized struct {
	Session *Session `json:"session"`
	// ForceEnd marks terminations triggered by the scheduler rather than
	// by the occupants.
	ForceEnd bool `json:"forceEnd"`
	// ReturnImageURLs are the cleanup photos supplied by the ending
	// caller; empty for forced ends and discards.
	ReturnImageURLs []string `json:"returnImageUrls"`
}
