package main

import (
	"testing"

	"github.com/coursebridge/coursebridge/internal/config"
)

func TestBuildCacheStoreRoundTrip(t *testing.T) {
	store := buildCacheStore(config.DefaultConfig().Cache)

	store.Set("canvas_courses", "", map[string]int64{"Intro": 1})
	if _, ok := store.Get("canvas_courses", ""); !ok {
		t.Fatalf("expected freshly set entry to be retrievable")
	}
	if _, ok := store.Get("canvas_modules", "42"); ok {
		t.Fatalf("expected unset category to miss")
	}
}
