// Copyright 2025 regulator-dynamic project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package stat provides named atomic counters shared between the fuzzing
// loop, the progress renderer and the metrics exporter.
package stat

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Val is a single named counter. All methods are safe for concurrent use.
type Val struct {
	Name string
	Desc string
	v    atomic.Int64
}

func (v *Val) Add(n int) {
	v.v.Add(int64(n))
}

func (v *Val) Val() int {
	return int(v.v.Load())
}

var (
	mu       sync.Mutex
	registry []*Val
	byName   = map[string]*Val{}
)

// New registers a counter under a unique name. Registering the same name
// twice returns the existing counter, which lets per-campaign code share
// process-wide totals.
func New(name, desc string) *Val {
	mu.Lock()
	defer mu.Unlock()
	if v := byName[name]; v != nil {
		return v
	}
	v := &Val{Name: name, Desc: desc}
	registry = append(registry, v)
	byName[name] = v
	return v
}

// All returns the registered counters sorted by name.
func All() []*Val {
	mu.Lock()
	defer mu.Unlock()
	ret := make([]*Val, len(registry))
	copy(ret, registry)
	sort.Slice(ret, func(i, j int) bool { return ret[i].Name < ret[j].Name })
	return ret
}
