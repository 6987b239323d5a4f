package listener

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vndarlan/chegou-autoads/internal/storage"
)

type countingInvalidator struct{ n int }

func (c *countingInvalidator) Invalidate() { c.n++ }

func TestJitter_StaysWithinBounds(t *testing.T) {
	base := 2 * time.Second
	for n := 0; n < 100; n++ {
		d := jitter(base)
		assert.GreaterOrEqual(t, d, base/2)
		assert.Less(t, d, base*3/2)
	}
	assert.GreaterOrEqual(t, jitter(0), 500*time.Millisecond)
}

func TestListenAndInvalidate_ReturnsOnSQLite(t *testing.T) {
	st, err := storage.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(st.Close)

	target := &countingInvalidator{}
	done := make(chan struct{})
	go func() {
		ListenAndInvalidate(context.Background(), st, target, "", time.Second)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not return for a store without postgres")
	}
	assert.Equal(t, 0, target.n)
}
