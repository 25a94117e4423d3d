package auditlog

import (
	"encoding/json"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildChain(t *testing.T, events int) *Chain {
	t.Helper()
	c := NewChain()
	for i := 0; i < events; i++ {
		c.Append("test_event", map[string]string{"n": string(rune('a' + i))})
	}
	return c
}

func TestChainAppendLinks(t *testing.T) {
	c := NewChain()

	first := c.Append("job_created", map[string]string{"device": "/dev/sdz"})
	assert.Equal(t, uint64(0), first.Seq)
	assert.Equal(t, GenesisHash, first.PrevHash)
	assert.Len(t, first.Hash, 64)

	second := c.Append("device_inspected", nil)
	assert.Equal(t, uint64(1), second.Seq)
	assert.Equal(t, first.Hash, second.PrevHash)
	assert.Equal(t, second.Hash, c.HeadHash())

	require.NoError(t, c.Verify())
}

func TestChainEmptyHeadIsGenesis(t *testing.T) {
	c := NewChain()
	assert.Equal(t, GenesisHash, c.HeadHash())
	assert.NoError(t, c.Verify())
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(entries []Entry) []Entry
		head   func(entries []Entry) string
	}{
		{
			name: "mutated event field",
			mutate: func(entries []Entry) []Entry {
				entries[1].Event = "something_else"
				return entries
			},
		},
		{
			name: "mutated detail",
			mutate: func(entries []Entry) []Entry {
				entries[2].Detail = map[string]string{"n": "forged"}
				return entries
			},
		},
		{
			name: "reordered entries",
			mutate: func(entries []Entry) []Entry {
				entries[1], entries[2] = entries[2], entries[1]
				return entries
			},
		},
		{
			name: "sequence gap",
			mutate: func(entries []Entry) []Entry {
				entries[3].Seq = 7
				return entries
			},
		},
		{
			name: "truncated tail",
			mutate: func(entries []Entry) []Entry {
				return entries[:2]
			},
			head: func(entries []Entry) string {
				return entries[len(entries)-1].Hash
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := buildChain(t, 5)
			entries := c.Entries()

			head := ""
			if tt.head != nil {
				head = tt.head(entries)
			}

			err := VerifyChain(tt.mutate(entries), head)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrChainIntegrity)
		})
	}
}

func TestVerifyChainAcceptsIntactChain(t *testing.T) {
	c := buildChain(t, 10)
	require.NoError(t, VerifyChain(c.Entries(), c.HeadHash()))
}

func TestFromEntriesPreservesChain(t *testing.T) {
	c := buildChain(t, 5)

	rebuilt := FromEntries(c.Entries())
	assert.Equal(t, c.HeadHash(), rebuilt.HeadHash())
	assert.Equal(t, c.Len(), rebuilt.Len())
	require.NoError(t, rebuilt.Verify())

	// A forged entry makes the rebuilt chain fail verification.
	entries := c.Entries()
	entries[2].Event = "rewritten"
	forged := FromEntries(entries)
	assert.ErrorIs(t, forged.Verify(), ErrChainIntegrity)
}

func TestChainConcurrentAppend(t *testing.T) {
	c := NewChain()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Append("concurrent_event", nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, c.Len())
	require.NoError(t, c.Verify())
}

func TestStoreRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())
	c := buildChain(t, 4)

	path, err := store.Save("job-1", c)
	require.NoError(t, err)
	assert.FileExists(t, path)

	entries, err := store.Load("job-1")
	require.NoError(t, err)
	assert.Len(t, entries, 4)
	assert.Equal(t, c.HeadHash(), entries[len(entries)-1].Hash)
}

func TestStoreLoadDetectsTamperedFile(t *testing.T) {
	store := NewStore(t.TempDir())
	c := buildChain(t, 4)

	path, err := store.Save("job-2", c)
	require.NoError(t, err)

	// Edit the persisted log the way an attacker with file access would.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc struct {
		JobID   string  `json:"job_id"`
		Head    string  `json:"head"`
		Entries []Entry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	doc.Entries[1].Event = "rewritten"
	data, err = json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	entries, err := store.Load("job-2")
	assert.ErrorIs(t, err, ErrChainIntegrity)
	// The tampered entries are still returned for inspection.
	assert.Len(t, entries, 4)
}

func TestStoreLoadMissing(t *testing.T) {
	store := NewStore(t.TempDir())
	_, err := store.Load("nope")
	assert.Error(t, err)
}
