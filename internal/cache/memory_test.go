package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryProviderRoundTrip(t *testing.T) {
	t.Parallel()

	p, err := NewMemoryProvider()
	if err != nil {
		t.Fatalf("NewMemoryProvider() error = %v", err)
	}
	ctx := context.Background()

	if _, err := p.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}

	key := CallbackKey("card", "evt_1")
	if err := p.Set(ctx, key, "ORD123", time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	value, err := p.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if value != "ORD123" {
		t.Errorf("Get() = %q, want ORD123", value)
	}

	if err := p.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := p.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
}

func TestMemoryProviderExpiry(t *testing.T) {
	t.Parallel()

	p, err := NewMemoryProvider()
	if err != nil {
		t.Fatalf("NewMemoryProvider() error = %v", err)
	}
	ctx := context.Background()

	if err := p.Set(ctx, "k", "v", -time.Second); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, err := p.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() on expired key error = %v, want ErrNotFound", err)
	}
}

func TestCallbackKey(t *testing.T) {
	t.Parallel()

	if got := CallbackKey("card", "evt_1"); got != "callback:card:evt_1" {
		t.Errorf("CallbackKey() = %q", got)
	}
}

func TestNewProviderRejectsUnknown(t *testing.T) {
	t.Parallel()

	if _, err := NewProvider(Config{Provider: "memcached"}); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}
