package imappool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmitReleaseRoundTrip(t *testing.T) {
	p := New(Config{MaxPerAccount: 1, WaiterTimeout: time.Second}, nil, nil)

	require.NoError(t, p.admit(context.Background(), "acct-1"))
	assert.Equal(t, 1, p.inUse["acct-1"])

	p.release("acct-1")
	assert.Equal(t, 0, p.inUse["acct-1"])
}

func TestAdmitBlocksAtCapacity(t *testing.T) {
	p := New(Config{MaxPerAccount: 1, WaiterTimeout: 200 * time.Millisecond}, nil, nil)
	require.NoError(t, p.admit(context.Background(), "acct-1"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := p.admit(ctx, "acct-1")
	assert.Error(t, err)
}

func TestAdmitUnblocksOnRelease(t *testing.T) {
	p := New(Config{MaxPerAccount: 1, WaiterTimeout: time.Second}, nil, nil)
	require.NoError(t, p.admit(context.Background(), "acct-1"))

	done := make(chan error, 1)
	go func() {
		done <- p.admit(context.Background(), "acct-1")
	}()

	time.Sleep(20 * time.Millisecond)
	p.release("acct-1")

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("second admit never unblocked")
	}
}
