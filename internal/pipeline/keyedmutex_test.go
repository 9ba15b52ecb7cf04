// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeyedMutex_SerializesKey(t *testing.T) {
	k := NewKeyedMutex()

	var active, overlaps atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := k.Lock(context.Background(), "acme-tool")
			if err != nil {
				t.Errorf("Lock() error = %v", err)
				return
			}
			if active.Add(1) > 1 {
				overlaps.Add(1)
			}
			time.Sleep(5 * time.Millisecond)
			active.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	if n := overlaps.Load(); n != 0 {
		t.Errorf("observed %d overlapping holders", n)
	}
	if n := k.held(); n != 0 {
		t.Errorf("held() = %d after all unlocks, want 0", n)
	}
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	k := NewKeyedMutex()

	unlockA, err := k.Lock(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := k.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("Lock(b) blocked by holder of a: %v", err)
	}
	unlockB()
}

func TestKeyedMutex_ContextCancel(t *testing.T) {
	k := NewKeyedMutex()

	unlock, err := k.Lock(context.Background(), "acme-tool")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := k.Lock(ctx, "acme-tool"); err != context.DeadlineExceeded {
		t.Fatalf("Lock() error = %v, want DeadlineExceeded", err)
	}

	unlock()
	if n := k.held(); n != 0 {
		t.Errorf("held() = %d, want 0", n)
	}
}

func TestKeyedMutex_TryLock(t *testing.T) {
	k := NewKeyedMutex()

	unlock, ok := k.TryLock("acme-tool")
	if !ok {
		t.Fatal("TryLock() on a free key = false")
	}
	if _, ok := k.TryLock("acme-tool"); ok {
		t.Fatal("TryLock() on a held key = true")
	}

	unlock()
	unlock() // second call is a no-op

	unlock, ok = k.TryLock("acme-tool")
	if !ok {
		t.Fatal("TryLock() after unlock = false")
	}
	unlock()
}
