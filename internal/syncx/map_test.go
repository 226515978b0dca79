// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

package syncx

import (
	"sync"
	"testing"
)

func TestMapBasic(t *testing.T) {
	var m Map[string, int]
	if _, ok := m.Load("a"); ok {
		t.Fatal("expected miss on empty map")
	}
	m.Store("a", 1)
	v, ok := m.Load("a")
	if !ok || v != 1 {
		t.Fatalf("Load(a) = %d, %v", v, ok)
	}
	if actual, loaded := m.LoadOrStore("a", 2); !loaded || actual != 1 {
		t.Fatalf("LoadOrStore on existing key = %d, %v", actual, loaded)
	}
	if actual, loaded := m.LoadOrStore("b", 2); loaded || actual != 2 {
		t.Fatalf("LoadOrStore on new key = %d, %v", actual, loaded)
	}
	if m.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", m.Len())
	}
	m.Delete("a")
	if _, ok := m.Load("a"); ok {
		t.Fatal("expected miss after delete")
	}
}

func TestMapConcurrentAccess(t *testing.T) {
	var m Map[int, int]
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Store(i, i*i)
		}(i)
	}
	wg.Wait()
	if m.Len() != 50 {
		t.Fatalf("Len() = %d, want 50", m.Len())
	}
}
