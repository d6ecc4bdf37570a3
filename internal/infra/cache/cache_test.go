package cache_test

import (
	"testing"
	"time"

	"github.com/architecte-ia/etsy-analytics-pro/internal/domain"
	"github.com/architecte-ia/etsy-analytics-pro/internal/infra/cache"
)

func TestCache_SetAndGet(t *testing.T) {
	c := cache.New[*domain.Customer](5 * time.Minute)
	defer c.Close()

	c.Set("key-1", &domain.Customer{Email: "shop@example.com"})
	val, ok := c.Get("key-1")
	if !ok {
		t.Fatal("expected key to exist")
	}
	if val.Email != "shop@example.com" {
		t.Errorf("expected 'shop@example.com', got '%s'", val.Email)
	}
}

func TestCache_GetMiss(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Close()

	if _, ok := c.Get("nonexistent"); ok {
		t.Fatal("expected cache miss for nonexistent key")
	}
}

func TestCache_Expiration(t *testing.T) {
	c := cache.New[string](50 * time.Millisecond)
	defer c.Close()

	c.Set("key1", "value1")
	time.Sleep(100 * time.Millisecond)

	if _, ok := c.Get("key1"); ok {
		t.Fatal("expected cache entry to be expired")
	}
}

func TestCache_SetWithTTL(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Close()

	c.SetWithTTL("short", "v", 20*time.Millisecond)
	c.Set("long", "v")
	time.Sleep(50 * time.Millisecond)

	if _, ok := c.Get("short"); ok {
		t.Error("expected short-lived entry to expire")
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 live entry, got %d", c.Len())
	}
}

func TestCache_Delete(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Close()

	c.Set("key1", "value1")
	c.Delete("key1")

	if _, ok := c.Get("key1"); ok {
		t.Fatal("expected key to be deleted")
	}
}

func TestCache_CloseIsIdempotent(t *testing.T) {
	c := cache.New[int](time.Minute)
	c.Close()
	c.Close()

	c.Set("k", 1)
	if v, ok := c.Get("k"); !ok || v != 1 {
		t.Fatal("expected cache to remain usable after Close")
	}
}
