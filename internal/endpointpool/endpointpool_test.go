package endpointpool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewBuildsUsableClient(t *testing.T) {
	p, err := New(Config{
		Timeouts:            Timeouts{Connect: time.Second, Read: time.Second},
		MaxIdleConnsPerHost: 2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if p.Client() == nil {
		t.Fatalf("expected a non-nil client")
	}
}

func TestAcquireWithoutLimitNeverBlocks(t *testing.T) {
	p, err := New(Config{Timeouts: Timeouts{Connect: time.Second, Read: time.Second}})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	release, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	release()
}

func TestAcquireRespectsConnectionLimit(t *testing.T) {
	p, err := New(Config{
		Timeouts:        Timeouts{Connect: time.Second, Read: time.Second},
		ConnectionLimit: 2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if p.Limit() != 2 {
		t.Fatalf("expected Limit() == 2, got %d", p.Limit())
	}

	ctx := context.Background()
	if _, err := p.Acquire(ctx); err != nil {
		t.Fatalf("unexpected error acquiring first slot: %s", err)
	}
	if _, err := p.Acquire(ctx); err != nil {
		t.Fatalf("unexpected error acquiring second slot: %s", err)
	}

	shortCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(shortCtx); err == nil {
		t.Fatalf("expected a timeout acquiring a third slot beyond the connection limit")
	}
}

func TestReleaseReturnsCapacityToPool(t *testing.T) {
	p, err := New(Config{
		Timeouts:        Timeouts{Connect: time.Second, Read: time.Second},
		ConnectionLimit: 1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	ctx := context.Background()
	release, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("unexpected error acquiring the only slot: %s", err)
	}

	blocked := context.Background()
	shortCtx, cancel := context.WithTimeout(blocked, 20*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(shortCtx); err == nil {
		t.Fatalf("expected the pool to stay exhausted until release")
	}

	release()

	if _, err := p.Acquire(ctx); err != nil {
		t.Fatalf("expected the slot to be available again after release: %s", err)
	}
}

func TestReleaseIsSafeToCallMoreThanOnce(t *testing.T) {
	p, err := New(Config{
		Timeouts:        Timeouts{Connect: time.Second, Read: time.Second},
		ConnectionLimit: 1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	ctx := context.Background()
	release, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	release()
	release()

	if _, err := p.Acquire(ctx); err != nil {
		t.Fatalf("unexpected error re-acquiring after double release: %s", err)
	}
}

func TestDoPerformsRequest(t *testing.T) {
	srv := httptest.NewServer(nil)
	defer srv.Close()

	p, err := New(Config{Timeouts: Timeouts{Connect: time.Second, Read: time.Second}})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	resp, err := p.Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	resp.Body.Close()
}
