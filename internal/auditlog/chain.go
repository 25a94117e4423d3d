package auditlog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// GenesisHash anchors the first entry of every chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// ErrChainIntegrity marks any verification failure: a mutated entry, a
// truncated tail, reordered entries, or a sequence gap.
var ErrChainIntegrity = errors.New("audit chain integrity violation")

// Entry is one immutable audit event. Hash covers every other field plus
// the previous entry's hash, so editing any recorded fact breaks the link.
type Entry struct {
	Seq       uint64            `json:"seq"`
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Event     string            `json:"event"`
	Detail    map[string]string `json:"detail,omitempty"`
	PrevHash  string            `json:"prev_hash"`
	Hash      string            `json:"hash"`
}

func (e *Entry) digest() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d|%s|%s|%s|", e.Seq, e.ID, e.Timestamp.UTC().Format(time.RFC3339Nano), e.Event)
	if len(e.Detail) > 0 {
		// map keys marshal sorted, so the digest is stable.
		b, _ := json.Marshal(e.Detail)
		sb.Write(b)
	}
	sb.WriteString("|")
	sb.WriteString(e.PrevHash)
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// Chain is an append-only hash chain of audit entries. Append is
// serialized so concurrent recorders cannot interleave sequence numbers.
type Chain struct {
	mu      sync.Mutex
	entries []Entry
}

func NewChain() *Chain {
	return &Chain{}
}

// FromEntries reconstructs a chain from persisted entries, for re-verifying
// or re-certifying a loaded job. The entries are taken as-is; Verify reports
// whether they still form an intact chain.
func FromEntries(entries []Entry) *Chain {
	c := &Chain{entries: make([]Entry, len(entries))}
	copy(c.entries, entries)
	return c
}

// Append records one event and links it to the chain head. The returned
// entry is a copy; callers cannot mutate recorded history through it.
func (c *Chain) Append(event string, detail map[string]string) Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := GenesisHash
	if n := len(c.entries); n > 0 {
		prev = c.entries[n-1].Hash
	}

	e := Entry{
		Seq:       uint64(len(c.entries)),
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Event:     event,
		Detail:    detail,
		PrevHash:  prev,
	}
	e.Hash = e.digest()
	c.entries = append(c.entries, e)
	return e
}

// Entries returns a snapshot of the chain.
func (c *Chain) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Len returns the number of recorded entries.
func (c *Chain) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// HeadHash returns the hash of the newest entry, or the genesis hash for
// an empty chain. It is the value a certificate binds to.
func (c *Chain) HeadHash() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) == 0 {
		return GenesisHash
	}
	return c.entries[len(c.entries)-1].Hash
}

// VerifyChain walks a sequence of entries and confirms every link.
// expectedHead, when non-empty, must match the final entry's hash; this is
// how truncation of the tail is detected.
func VerifyChain(entries []Entry, expectedHead string) error {
	prev := GenesisHash
	for i, e := range entries {
		if e.Seq != uint64(i) {
			return errors.Mark(errors.Newf("entry %d has sequence %d", i, e.Seq), ErrChainIntegrity)
		}
		if e.PrevHash != prev {
			return errors.Mark(errors.Newf("entry %d does not link to its predecessor", i), ErrChainIntegrity)
		}
		if e.digest() != e.Hash {
			return errors.Mark(errors.Newf("entry %d hash does not match its content", i), ErrChainIntegrity)
		}
		prev = e.Hash
	}
	if expectedHead != "" {
		head := GenesisHash
		if len(entries) > 0 {
			head = entries[len(entries)-1].Hash
		}
		if head != expectedHead {
			return errors.Mark(errors.New("chain head does not match expected hash"), ErrChainIntegrity)
		}
	}
	return nil
}

// Verify confirms the in-memory chain is internally consistent.
func (c *Chain) Verify() error {
	return VerifyChain(c.Entries(), "")
}
