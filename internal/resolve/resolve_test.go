package resolve

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDNS struct {
	calls atomic.Int32
	names map[string][]string
}

func (f *fakeDNS) lookup(_ context.Context, addr string) ([]string, error) {
	f.calls.Add(1)
	if n, ok := f.names[addr]; ok {
		return n, nil
	}
	return nil, errors.New("nxdomain")
}

func newResolver(t *testing.T, dns *fakeDNS) *Resolver {
	t.Helper()
	r, err := New(context.Background(), Options{Rate: 1000, Burst: 100, Timeout: time.Second}, dns.lookup, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestHostname(t *testing.T) {
	dns := &fakeDNS{names: map[string][]string{
		"8.8.8.8": {"dns.google."},
		"1.1.1.1": {"", "one.one.one.one."},
	}}
	r := newResolver(t, dns)
	ctx := context.Background()

	assert.Equal(t, "dns.google", r.Hostname(ctx, "8.8.8.8"))
	assert.Equal(t, "one.one.one.one", r.Hostname(ctx, "1.1.1.1"))
	assert.Equal(t, Unknown, r.Hostname(ctx, "10.9.9.9"))
	assert.Equal(t, Unknown, r.Hostname(ctx, "-"))
	assert.Equal(t, Unknown, r.Hostname(ctx, ""))
}

func TestHostnameCachesFailuresToo(t *testing.T) {
	dns := &fakeDNS{names: map[string][]string{"8.8.8.8": {"dns.google."}}}
	r := newResolver(t, dns)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		r.Hostname(ctx, "8.8.8.8")
		r.Hostname(ctx, "10.9.9.9")
	}
	assert.Equal(t, int32(2), dns.calls.Load())
}

func TestHostnames(t *testing.T) {
	dns := &fakeDNS{names: map[string][]string{"8.8.8.8": {"dns.google."}}}
	r := newResolver(t, dns)

	got := r.Hostnames(context.Background(), []string{"8.8.8.8", "10.0.0.1", "8.8.8.8"})
	assert.Equal(t, map[string]string{"8.8.8.8": "dns.google", "10.0.0.1": Unknown}, got)
}

func TestHostnameCancelled(t *testing.T) {
	r := newResolver(t, &fakeDNS{names: map[string][]string{"8.8.8.8": {"dns.google."}}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, Unknown, r.Hostname(ctx, "8.8.8.8"))
}
