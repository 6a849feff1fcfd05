package model

// BriefInstrument is the short form of an instrument attached to a
// reservation ("borrowed" for the slot).  The session core carries it
// through untouched; instrument inventory lives in the external store.
type BriefInstrument struct {
	InstrumentID int64  `json:"instrumentId"`
	Name         string `json:"name"`
}
