package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Actor identifies who caused an audit event.
type Actor string

const (
	ActorSystem Actor = "system"
	ActorHuman  Actor = "human"
)

// Record is one link in a conversation's hash chain. Hash covers the
// canonical bytes of the record plus the previous record's hash, so any
// retroactive edit breaks verification from that point on.
type Record struct {
	EventID        string    `json:"event_id"`
	ConversationID string    `json:"conversation_id"`
	Actor          Actor     `json:"actor"`
	Action         string    `json:"action"`
	Timestamp      time.Time `json:"timestamp"`
	PrevHash       string    `json:"prev_hash,omitempty"`
	Hash           string    `json:"hash"`
	// Erased marks a record emptied under a right-to-erasure request.
	// Verification stops vouching for content from this link onward and
	// reports the boundary instead of silently passing.
	Erased bool `json:"erased,omitempty"`
}

// canonical is the byte representation the hash is computed over. Field
// order is fixed by the struct; timestamps are normalized to UTC RFC3339Nano.
type canonical struct {
	EventID        string `json:"event_id"`
	ConversationID string `json:"conversation_id"`
	Actor          Actor  `json:"actor"`
	Action         string `json:"action"`
	Timestamp      string `json:"timestamp"`
}

// ComputeHash returns hex(sha256(canonical_bytes(r) || prevHash)).
func ComputeHash(r Record, prevHash string) string {
	b, _ := json.Marshal(canonical{
		EventID:        r.EventID,
		ConversationID: r.ConversationID,
		Actor:          r.Actor,
		Action:         r.Action,
		Timestamp:      r.Timestamp.UTC().Format(time.RFC3339Nano),
	})
	sum := sha256.Sum256(append(b, []byte(prevHash)...))
	return hex.EncodeToString(sum[:])
}

// Seal fills PrevHash and Hash so the record can be appended after prev.
func Seal(r Record, prevHash string) Record {
	r.PrevHash = prevHash
	r.Hash = ComputeHash(r, prevHash)
	return r
}

// AppendResult of an optimistic append.
type AppendResult int

const (
	// Appended means the record is now the chain head.
	Appended AppendResult = iota
	// Conflict means expectedPrev no longer matches the head; the caller
	// must re-read the head and retry with a fresh hash.
	Conflict
)

func (r AppendResult) String() string {
	if r == Appended {
		return "appended"
	}
	return "conflict"
}

// Log is an append-only, hash-chained event log keyed by conversation.
type Log interface {
	// Append adds rec if expectedPrev equals the current head hash for
	// rec's conversation ("" for an empty chain).
	Append(ctx context.Context, rec Record, expectedPrev string) (AppendResult, error)
	// Latest returns the chain head, ok=false when the chain is empty.
	Latest(ctx context.Context, conversationID string) (Record, bool, error)
	// History returns up to limit records oldest first (limit<=0: all).
	History(ctx context.Context, conversationID string, limit int) ([]Record, error)
}

// ChainError pinpoints the first broken link found by Verify.
type ChainError struct {
	Index  int
	Reason string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("audit chain broken at record %d: %s", e.Index, e.Reason)
}

// Verify recomputes every hash in a stored history (oldest first). Any
// mismatch proves tampering or corruption. Erased records form a
// verification boundary: their content hash is no longer recomputable, so
// linkage continues from their stored hash and the boundary is reported.
func Verify(records []Record) (boundaries []int, err error) {
	prev := ""
	for i, r := range records {
		if r.PrevHash != prev {
			return boundaries, &ChainError{Index: i, Reason: fmt.Sprintf("prev_hash %q does not match preceding head %q", r.PrevHash, prev)}
		}
		if r.Erased {
			boundaries = append(boundaries, i)
		} else if got := ComputeHash(r, prev); got != r.Hash {
			return boundaries, &ChainError{Index: i, Reason: fmt.Sprintf("stored hash %q, recomputed %q", r.Hash, got)}
		}
		prev = r.Hash
	}
	return boundaries, nil
}

// Redact empties a record's content under a right-to-erasure procedure.
// The hash fields are preserved so the rest of the chain keeps linking;
// Verify reports the record as a boundary rather than a pass.
func Redact(r Record) Record {
	r.Action = "erased"
	r.Actor = ActorSystem
	r.Erased = true
	return r
}
