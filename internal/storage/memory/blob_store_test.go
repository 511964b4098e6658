package memory

import (
	"bytes"
	"context"
	"testing"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte(`{"navigation_allowed":[]}`)
	uri, err := store.PutObject(context.Background(), "2026/08/21/abc.json", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://2026/08/21/abc.json" {
		t.Fatalf("unexpected uri %s", uri)
	}
	payload[0] = 'X'
	stored, ok := store.GetObject("2026/08/21/abc.json")
	if !ok {
		t.Fatal("expected object to be stored")
	}
	if string(stored) != `{"navigation_allowed":[]}` {
		t.Fatalf("expected stored copy to be immutable, got %q", stored)
	}
}

func TestBlobStoreGetObjectMissing(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	if _, ok := store.GetObject("nope"); ok {
		t.Fatal("expected missing object")
	}
}
