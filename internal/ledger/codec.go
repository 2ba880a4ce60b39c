package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"medledger/internal/domain"
	"medledger/internal/infra/crypto"
)

const kindKey = "kind"

// BlockRecord is the persisted form of a block. Payload holds the canonical
// event encoding so that stored bytes hash identically after a reload.
type BlockRecord struct {
	Index        int64           `json:"index"`
	Timestamp    string          `json:"timestamp"`
	Payload      json.RawMessage `json:"payload"`
	PreviousHash string          `json:"previous_hash"`
	Hash         string          `json:"hash"`
	Nonce        uint64          `json:"nonce"`
}

// EncodePayload renders an event as {"kind":..., <fields>} with all keys
// sorted.
func EncodePayload(e domain.Event) []byte {
	fields := e.Fields()
	out := make(map[string]string, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out[kindKey] = string(e.Kind())
	return crypto.CanonicalizeStrings(out)
}

func DecodePayload(raw []byte) (domain.Event, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	var fields map[string]string
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	kind := domain.EventKind(fields[kindKey])
	switch kind {
	case domain.EventGenesis:
		return domain.GenesisEvent{Message: fields["message"]}, nil
	case domain.EventCreate:
		return domain.CreateEvent{
			RecordID:    fields["record_id"],
			PatientID:   fields["patient_id"],
			DoctorID:    fields["doctor_id"],
			ContentHash: fields["content_hash"],
		}, nil
	case domain.EventUpdate:
		return domain.UpdateEvent{
			RecordID:    fields["record_id"],
			ContentHash: fields["content_hash"],
		}, nil
	case domain.EventRevoke:
		return domain.RevokeEvent{
			RecordID: fields["record_id"],
			Reason:   fields["reason"],
		}, nil
	case domain.EventGrantAccess:
		return domain.GrantAccessEvent{
			RecordID:  fields["record_id"],
			GranteeID: fields["grantee_id"],
		}, nil
	case "":
		return nil, fmt.Errorf("decode payload: missing %s", kindKey)
	default:
		return nil, fmt.Errorf("decode payload: unknown kind %q", kind)
	}
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func RecordFromBlock(b domain.Block) BlockRecord {
	return BlockRecord{
		Index:        b.Index,
		Timestamp:    FormatTimestamp(b.Timestamp),
		Payload:      json.RawMessage(EncodePayload(b.Payload)),
		PreviousHash: b.PreviousHash,
		Hash:         b.Hash,
		Nonce:        b.Nonce,
	}
}

// BlockFromRecord restores a block exactly as stored. The hash is never
// recomputed here.
func BlockFromRecord(r BlockRecord) (domain.Block, error) {
	ts, err := time.Parse(time.RFC3339Nano, r.Timestamp)
	if err != nil {
		return domain.Block{}, fmt.Errorf("block %d: parse timestamp: %w", r.Index, err)
	}
	payload, err := DecodePayload(r.Payload)
	if err != nil {
		return domain.Block{}, fmt.Errorf("block %d: %w", r.Index, err)
	}
	return domain.Block{
		Index:        r.Index,
		Timestamp:    ts.UTC(),
		Payload:      payload,
		PreviousHash: r.PreviousHash,
		Hash:         r.Hash,
		Nonce:        r.Nonce,
	}, nil
}

func MarshalBlock(b domain.Block) ([]byte, error) {
	return json.Marshal(RecordFromBlock(b))
}

func UnmarshalBlock(data []byte) (domain.Block, error) {
	var rec BlockRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.Block{}, fmt.Errorf("decode block: %w", err)
	}
	return BlockFromRecord(rec)
}
