package domain

import "time"

const (
	GenesisPreviousHash = "0"
	GenesisMessage      = "Genesis Block"
)

// Block is immutable once appended. Hash covers every other field.
type Block struct {
	Index        int64
	Timestamp    time.Time
	Payload      Event
	PreviousHash string
	Hash         string
	Nonce        uint64
}

func (b Block) IsGenesis() bool {
	return b.Index == 0
}

// ChainStatus is the outcome of a full chain walk. FirstBadIndex is nil when
// the chain is valid.
type ChainStatus struct {
	Valid         bool   `json:"valid"`
	Length        int    `json:"length"`
	FirstBadIndex *int64 `json:"first_bad_index,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

func (s ChainStatus) Err() error {
	if s.Valid || s.FirstBadIndex == nil {
		return nil
	}
	return &IntegrityError{Index: *s.FirstBadIndex, Reason: s.Reason}
}
