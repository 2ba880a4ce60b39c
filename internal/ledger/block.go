package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"medledger/internal/domain"
	"medledger/internal/infra/crypto"
)

const MaxDifficulty = 64

// hashInput is the canonical preimage of a block hash:
// {"index":I,"nonce":N,"payload":P,"previous_hash":H,"timestamp":T}.
// The nonce sits between a fixed prefix and suffix so mining only re-renders
// the nonce digits.
type hashInput struct {
	prefix []byte
	suffix []byte
}

func newHashInput(index int64, ts time.Time, payload domain.Event, previousHash string) hashInput {
	prefix := `{"index":` + strconv.FormatInt(index, 10) + `,"nonce":`
	var sb strings.Builder
	sb.WriteString(`,"payload":`)
	sb.Write(EncodePayload(payload))
	sb.WriteString(`,"previous_hash":`)
	sb.WriteString(crypto.QuoteString(previousHash))
	sb.WriteString(`,"timestamp":`)
	sb.WriteString(crypto.QuoteString(FormatTimestamp(ts)))
	sb.WriteByte('}')
	return hashInput{prefix: []byte(prefix), suffix: []byte(sb.String())}
}

func (h hashInput) sum(nonce uint64, scratch []byte) (string, []byte) {
	scratch = append(scratch[:0], h.prefix...)
	scratch = strconv.AppendUint(scratch, nonce, 10)
	scratch = append(scratch, h.suffix...)
	digest := sha256.Sum256(scratch)
	return hex.EncodeToString(digest[:]), scratch
}

// CanonicalBytes returns the exact bytes hashed for b.
func CanonicalBytes(b domain.Block) []byte {
	h := newHashInput(b.Index, b.Timestamp, b.Payload, b.PreviousHash)
	out := append([]byte{}, h.prefix...)
	out = strconv.AppendUint(out, b.Nonce, 10)
	return append(out, h.suffix...)
}

// RecomputeHash derives the hash from the stored fields, ignoring b.Hash.
func RecomputeHash(b domain.Block) string {
	return crypto.SHA256Hex(CanonicalBytes(b))
}

func MeetsDifficulty(hash string, difficulty int) bool {
	if difficulty <= 0 {
		return true
	}
	if len(hash) < difficulty {
		return false
	}
	for i := 0; i < difficulty; i++ {
		if hash[i] != '0' {
			return false
		}
	}
	return true
}

// Compute builds a block linked to previousHash. With difficulty > 0 the nonce
// is searched from zero until the hash has at least difficulty leading zero
// hex digits. The search stops early when ctx is cancelled.
func Compute(ctx context.Context, index int64, ts time.Time, payload domain.Event, previousHash string, difficulty int) (domain.Block, error) {
	if payload == nil {
		return domain.Block{}, domain.NewValidationError("payload", "is required")
	}
	if difficulty < 0 || difficulty > MaxDifficulty {
		return domain.Block{}, domain.NewValidationError("difficulty", fmt.Sprintf("must be between 0 and %d", MaxDifficulty))
	}
	ts = ts.UTC().Truncate(time.Microsecond)
	input := newHashInput(index, ts, payload, previousHash)

	var (
		nonce   uint64
		hash    string
		scratch = make([]byte, 0, len(input.prefix)+len(input.suffix)+20)
	)
	for {
		hash, scratch = input.sum(nonce, scratch)
		if MeetsDifficulty(hash, difficulty) {
			break
		}
		nonce++
		if nonce&0xfff == 0 {
			if err := ctx.Err(); err != nil {
				return domain.Block{}, err
			}
		}
	}
	return domain.Block{
		Index:        index,
		Timestamp:    ts,
		Payload:      payload,
		PreviousHash: previousHash,
		Hash:         hash,
		Nonce:        nonce,
	}, nil
}

func Genesis(ctx context.Context, ts time.Time, difficulty int) (domain.Block, error) {
	return Compute(ctx, 0, ts, domain.GenesisEvent{Message: domain.GenesisMessage}, domain.GenesisPreviousHash, difficulty)
}
