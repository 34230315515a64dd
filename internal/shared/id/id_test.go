package id

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerator_Monotonic(t *testing.T) {
	gen := NewGenerator()
	prev := gen.Generate()
	for i := 0; i < 1000; i++ {
		next := gen.Generate()
		require.Equal(t, 1, next.Compare(prev), "ids sort in creation order")
		prev = next
	}
}

func TestTypedIDs(t *testing.T) {
	for prefix, s := range map[string]string{
		SessionPrefix: NewSessionID().String(),
		FramePrefix:   NewFrameID().String(),
		RequestPrefix: NewRequestID().String(),
	} {
		assert.True(t, strings.HasPrefix(s, prefix+"_"), s)
		assert.Len(t, s, len(prefix)+1+26)
	}

	a, b := NewEventID(), NewEventID()
	assert.NotEqual(t, a, b)
	assert.True(t, IsValidEventID(a.String()))
	assert.False(t, IsValidEventID("evt_1"))
}

func TestParseSessionID(t *testing.T) {
	sid := NewSessionID()
	parsed, err := ParseSessionID(sid.String())
	require.NoError(t, err)
	assert.Equal(t, sid, parsed)

	for _, bad := range []string{"", "sess_", "sess_not-a-ulid", NewFrameID().String(), "bogus"} {
		_, err := ParseSessionID(bad)
		assert.ErrorIs(t, err, ErrInvalidID, bad)
	}
}

func TestSessionID_Created(t *testing.T) {
	before := time.Now().Add(-time.Second)
	created, err := NewSessionID().Created()
	require.NoError(t, err)
	assert.True(t, created.After(before))

	_, err = SessionID("sess_x").Created()
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestConcurrentGeneration(t *testing.T) {
	gen := NewGenerator()
	const workers = 16
	const perWorker = 100

	var mu sync.Mutex
	seen := make(map[string]struct{}, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				s := gen.WithPrefix("t")
				mu.Lock()
				seen[s] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, workers*perWorker)
}
