package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shineum/ses-forwarder/internal/domain"
	"github.com/shineum/ses-forwarder/internal/storage"
)

func mustKey(t *testing.T, raw string) domain.StorageKey {
	t.Helper()
	key, err := domain.NewStorageKey(raw)
	if err != nil {
		t.Fatalf("NewStorageKey(%q): %v", raw, err)
	}
	return key
}

func TestPutGet(t *testing.T) {
	t.Parallel()

	s := New()
	key := mustKey(t, "incoming/abc")
	ctx := context.Background()

	if err := s.Put(ctx, "bucket", key, []byte("hello")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.Get(ctx, "bucket", key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("Get: got %q, want %q", got, "hello")
	}

	got[0] = 'j'
	again, _ := s.Get(ctx, "bucket", key)
	if string(again) != "hello" {
		t.Errorf("stored object was modified through returned slice: %q", again)
	}
}

func TestGetMissing(t *testing.T) {
	t.Parallel()

	s := New()
	key := mustKey(t, "incoming/abc")
	if err := s.Put(context.Background(), "other-bucket", key, []byte("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	_, err := s.Get(context.Background(), "bucket", key)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestConcurrentAccess(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	keys := make([]domain.StorageKey, 20)
	for i := range keys {
		keys[i] = mustKey(t, "incoming/"+string(rune('a'+i)))
	}

	var wg sync.WaitGroup
	for i, key := range keys {
		wg.Add(1)
		go func(i int, key domain.StorageKey) {
			defer wg.Done()
			_ = s.Put(ctx, "bucket", key, []byte{byte(i)})
			_, _ = s.Get(ctx, "bucket", key)
		}(i, key)
	}
	wg.Wait()

	if got := s.Len(); got != 20 {
		t.Errorf("Len: got %d, want 20", got)
	}
}
