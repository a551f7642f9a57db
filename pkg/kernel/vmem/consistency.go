// Copyright 2026 The CascadeOS Authors.
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

package vmem

import "fmt"

// checkConsistency walks the whole arena and panics on any violated
// structural invariant:
//
//  1. the all-chain is ascending by base and each span's tiling chain
//     partitions it without gaps,
//  2. no two free tags are neighbors,
//  3. every free tag sits in the freelist indexed by its most significant
//     bit, and the bitmap mirrors freelist emptiness,
//  4. every allocated tag sits in its allocation-table bucket,
//  5. free plus allocated lengths equal span lengths.
//
// The walker is for tests and debug builds; it takes the arena mutex.
func (a *Arena) checkConsistency() {
	a.mu.Lock()
	defer a.mu.Unlock()

	var spanTotal, freeTotal, allocatedTotal uintptr
	var span *boundaryTag
	var tileEnd uintptr
	var prev *boundaryTag

	for t := a.allHead; t != nil; t = t.allNext {
		if t.allPrev != prev {
			panic(fmt.Sprintf("arena %q: broken all-chain back link at %#x", a.name, t.base))
		}
		switch t.kind {
		case tagSpan, tagImportedSpan:
			if span != nil && tileEnd != span.base+span.len {
				panic(fmt.Sprintf("arena %q: span at %#x not fully tiled", a.name, span.base))
			}
			if span != nil && t.base < span.base+span.len {
				panic(fmt.Sprintf("arena %q: span at %#x overlaps previous", a.name, t.base))
			}
			if !a.spans.contains(t) {
				panic(fmt.Sprintf("arena %q: span at %#x missing from spans list", a.name, t.base))
			}
			span = t
			tileEnd = t.base
			spanTotal += t.len
		case tagFree, tagAllocated:
			if span == nil {
				panic(fmt.Sprintf("arena %q: tag at %#x precedes any span", a.name, t.base))
			}
			if t.base != tileEnd {
				panic(fmt.Sprintf("arena %q: gap before tag at %#x (expected %#x)", a.name, t.base, tileEnd))
			}
			tileEnd = t.base + t.len
			if tileEnd > span.base+span.len {
				panic(fmt.Sprintf("arena %q: tag at %#x spills past its span", a.name, t.base))
			}
			if t.kind == tagFree {
				if prev != nil && prev.kind == tagFree {
					panic(fmt.Sprintf("arena %q: uncoalesced free tags at %#x", a.name, t.base))
				}
				idx := indexOfFreelistContaining(t.len)
				if !a.freelists[idx].contains(t) {
					panic(fmt.Sprintf("arena %q: free tag at %#x missing from freelist %d", a.name, t.base, idx))
				}
				freeTotal += t.len
			} else {
				if !a.table[tableBucket(t.base)].contains(t) {
					panic(fmt.Sprintf("arena %q: allocated tag at %#x missing from allocation table", a.name, t.base))
				}
				allocatedTotal += t.len
			}
		default:
			panic(fmt.Sprintf("arena %q: invalid tag kind %d at %#x", a.name, t.kind, t.base))
		}
		prev = t
	}
	if span != nil && tileEnd != span.base+span.len {
		panic(fmt.Sprintf("arena %q: span at %#x not fully tiled", a.name, span.base))
	}
	if prev != a.allTail {
		panic(fmt.Sprintf("arena %q: stale all-chain tail", a.name))
	}

	for i := range a.freelists {
		if (a.freeBitmap>>uint(i))&1 == 1 && a.freelists[i].empty() {
			panic(fmt.Sprintf("arena %q: bitmap bit %d set for empty freelist", a.name, i))
		}
		if (a.freeBitmap>>uint(i))&1 == 0 && !a.freelists[i].empty() {
			panic(fmt.Sprintf("arena %q: bitmap bit %d clear for non-empty freelist", a.name, i))
		}
		for t := a.freelists[i].first; t != nil; t = t.kindNext {
			if t.kind != tagFree {
				panic(fmt.Sprintf("arena %q: %s tag at %#x on freelist %d", a.name, t.kind, t.base, i))
			}
			if indexOfFreelistContaining(t.len) != i {
				panic(fmt.Sprintf("arena %q: tag of len %#x on freelist %d", a.name, t.len, i))
			}
		}
	}

	if freeTotal+allocatedTotal != spanTotal {
		panic(fmt.Sprintf("arena %q: conservation violated: free %#x + allocated %#x != spans %#x", a.name, freeTotal, allocatedTotal, spanTotal))
	}
}

func (l *tagList) contains(t *boundaryTag) bool {
	for c := l.first; c != nil; c = c.kindNext {
		if c == t {
			return true
		}
	}
	return false
}

// tagView is a test-visible snapshot of one tag.
type tagView struct {
	kind tagKind
	base uintptr
	len  uintptr
}

// snapshot returns the all-chain in order.
func (a *Arena) snapshot() []tagView {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []tagView
	for t := a.allHead; t != nil; t = t.allNext {
		out = append(out, tagView{kind: t.kind, base: t.base, len: t.len})
	}
	return out
}
