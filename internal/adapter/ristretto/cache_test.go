package ristretto

import (
	"context"
	"testing"
	"time"

	"github.com/tangmingchang/edustream/internal/port/cache"
)

var _ cache.Cache = (*Cache)(nil)

func TestSetGetDelete(t *testing.T) {
	c, err := New(1 << 20)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	defer c.Close()

	ctx := context.Background()

	if err := c.Set(ctx, "conv:1", []byte(`["hello"]`), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	c.Wait()

	data, ok, err := c.Get(ctx, "conv:1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatal("expected hit")
	}
	if string(data) != `["hello"]` {
		t.Fatalf("unexpected value: %s", data)
	}

	if err := c.Delete(ctx, "conv:1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	c.Wait()

	if _, ok, _ := c.Get(ctx, "conv:1"); ok {
		t.Fatal("expected miss after delete")
	}
}

func TestGetMiss(t *testing.T) {
	c, err := New(1 << 20)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	defer c.Close()

	data, ok, err := c.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok || data != nil {
		t.Fatalf("expected miss, got ok=%v data=%s", ok, data)
	}
}
