package oauth2

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	calls int32
	token Token
	err   error
	delay time.Duration
}

func (f *fakeSource) FetchToken(ctx context.Context, accountID string) (Token, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return Token{}, f.err
	}
	return f.token, nil
}

func TestGetTokenFetchesOnFirstCall(t *testing.T) {
	src := &fakeSource{token: Token{AccessToken: "abc", ExpiresAt: time.Now().Add(time.Hour)}}
	p := NewCachingProvider(src)

	tok, err := p.GetToken(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)
	assert.EqualValues(t, 1, atomic.LoadInt32(&src.calls))
}

func TestGetTokenReusesCachedToken(t *testing.T) {
	src := &fakeSource{token: Token{AccessToken: "abc", ExpiresAt: time.Now().Add(time.Hour)}}
	p := NewCachingProvider(src)

	_, err := p.GetToken(context.Background(), "acct-1")
	require.NoError(t, err)
	_, err = p.GetToken(context.Background(), "acct-1")
	require.NoError(t, err)

	assert.EqualValues(t, 1, atomic.LoadInt32(&src.calls))
}

func TestGetTokenRefreshesWhenExpiringSoon(t *testing.T) {
	src := &fakeSource{token: Token{AccessToken: "abc", ExpiresAt: time.Now().Add(30 * time.Second)}}
	p := NewCachingProvider(src)

	_, err := p.GetToken(context.Background(), "acct-1")
	require.NoError(t, err)
	_, err = p.GetToken(context.Background(), "acct-1")
	require.NoError(t, err)

	assert.EqualValues(t, 2, atomic.LoadInt32(&src.calls))
}

func TestInvalidateForcesRefresh(t *testing.T) {
	src := &fakeSource{token: Token{AccessToken: "abc", ExpiresAt: time.Now().Add(time.Hour)}}
	p := NewCachingProvider(src)

	_, err := p.GetToken(context.Background(), "acct-1")
	require.NoError(t, err)

	p.Invalidate("acct-1")

	_, err = p.GetToken(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&src.calls))
}

func TestConcurrentGetTokenCoalescesIntoOneFetch(t *testing.T) {
	src := &fakeSource{
		token: Token{AccessToken: "abc", ExpiresAt: time.Now().Add(time.Hour)},
		delay: 50 * time.Millisecond,
	}
	p := NewCachingProvider(src)

	const n = 10
	results := make(chan string, n)
	for i := 0; i < n; i++ {
		go func() {
			tok, err := p.GetToken(context.Background(), "acct-1")
			require.NoError(t, err)
			results <- tok
		}()
	}
	for i := 0; i < n; i++ {
		assert.Equal(t, "abc", <-results)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&src.calls))
}

func TestGetTokenPropagatesSourceError(t *testing.T) {
	src := &fakeSource{err: fmt.Errorf("refresh token revoked")}
	p := NewCachingProvider(src)

	_, err := p.GetToken(context.Background(), "acct-1")
	assert.Error(t, err)
}

func TestGetTokenRespectsContextCancellation(t *testing.T) {
	src := &fakeSource{
		token: Token{AccessToken: "abc", ExpiresAt: time.Now().Add(time.Hour)},
		delay: 200 * time.Millisecond,
	}
	p := NewCachingProvider(src)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.GetToken(ctx, "acct-1")
	assert.Error(t, err)
}

func TestDifferentAccountsDoNotShareCache(t *testing.T) {
	src := &fakeSource{token: Token{AccessToken: "abc", ExpiresAt: time.Now().Add(time.Hour)}}
	p := NewCachingProvider(src)

	_, err := p.GetToken(context.Background(), "acct-1")
	require.NoError(t, err)
	_, err = p.GetToken(context.Background(), "acct-2")
	require.NoError(t, err)

	assert.EqualValues(t, 2, atomic.LoadInt32(&src.calls))
}

func TestEncodeXOAUTH2Format(t *testing.T) {
	got := EncodeXOAUTH2("user@example.com", "ya29.abc")
	assert.Equal(t, "user=user@example.com\x01auth=Bearer ya29.abc\x01\x01", string(got))
}
