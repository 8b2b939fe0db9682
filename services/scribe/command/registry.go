// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package command

import (
	"fmt"
	"sort"
	"sync"

	"github.com/AleutianAI/ScribeFOSS/services/scribe/fault"
)

// Registry maps command kinds to bindings.
//
// Registration validates eagerly so that a broken binding surfaces at
// startup, not mid-batch.
//
// Thread Safety: all methods are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	bindings map[Kind]Binding
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{bindings: make(map[Kind]Binding)}
}

// Register adds a binding.
//
// Outputs:
//   - error: *fault.ValidationError when the kind is unknown, the forward
//     executor is missing, the chunk spec is incomplete, or the kind is
//     already registered.
func (r *Registry) Register(b Binding) error {
	if _, err := ParseKind(string(b.Kind)); err != nil {
		return err
	}
	if b.Forward == nil {
		return &fault.ValidationError{
			Field:        "forward",
			CommandIndex: fault.NoIndex,
			Message:      fmt.Sprintf("binding for %s has no forward executor", b.Kind),
		}
	}
	if b.Chunk != nil && (b.Chunk.Units == nil || b.Chunk.Window == nil) {
		return &fault.ValidationError{
			Field:        "chunk",
			CommandIndex: fault.NoIndex,
			Message:      fmt.Sprintf("chunk spec for %s must define Units and Window", b.Kind),
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.bindings[b.Kind]; exists {
		return &fault.ValidationError{
			Field:        "kind",
			CommandIndex: fault.NoIndex,
			Message:      fmt.Sprintf("command kind %s registered twice", b.Kind),
		}
	}
	r.bindings[b.Kind] = b
	return nil
}

// Resolve looks a binding up.
//
// Outputs:
//   - Binding: The registered binding.
//   - error: *fault.ValidationError when no binding exists for k.
func (r *Registry) Resolve(k Kind) (Binding, error) {
	r.mu.RLock()
	b, ok := r.bindings[k]
	r.mu.RUnlock()
	if !ok {
		return Binding{}, &fault.ValidationError{
			Field:        "kind",
			CommandIndex: fault.NoIndex,
			Message:      fmt.Sprintf("no binding registered for command kind %q", k),
		}
	}
	return b, nil
}

// RegisteredKinds returns the registered kinds sorted by wire name.
func (r *Registry) RegisteredKinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]Kind, 0, len(r.bindings))
	for k := range r.bindings {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
