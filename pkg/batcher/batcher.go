// Package batcher groups mapped payloads into size-bounded batches. Packing
// is greedy and order-preserving rather than size-optimal: downstream batch
// endpoints correlate per-item results by position, so member order must be
// stable.
package batcher

import (
	"github.com/dataloaders/hubspot-writer/pkg/mapper"
	"github.com/dataloaders/hubspot-writer/pkg/registry"
)

// Batch is an ordered, non-empty sequence of payloads bound for one resolved
// endpoint path.
type Batch struct {
	// Seq is the batch's position in dispatch order, starting at 0. Used to
	// reconcile parallel completion back to a deterministic report.
	Seq int

	Descriptor registry.Descriptor
	Path       string
	Payloads   []*mapper.Payload
}

// RowRefs returns the member row references in batch order.
func (b Batch) RowRefs() []int {
	refs := make([]int, len(b.Payloads))
	for i, p := range b.Payloads {
		refs[i] = p.RowRef
	}
	return refs
}

// Build packs payloads into batches. Non-batchable descriptors yield one
// batch per payload. Batchable descriptors whose path carries row-dependent
// segments (list membership, custom object types) are packed per resolved
// path, paths ordered by first appearance; within a path, members keep input
// order and close at MaxBatchSize. No payload is split across batches.
func Build(desc registry.Descriptor, payloads []*mapper.Payload) []Batch {
	var batches []Batch

	if !desc.Batchable {
		for _, p := range payloads {
			batches = append(batches, Batch{
				Seq:        len(batches),
				Descriptor: desc,
				Path:       p.Path,
				Payloads:   []*mapper.Payload{p},
			})
		}
		return batches
	}

	var pathOrder []string
	byPath := make(map[string][]*mapper.Payload)
	for _, p := range payloads {
		if _, seen := byPath[p.Path]; !seen {
			pathOrder = append(pathOrder, p.Path)
		}
		byPath[p.Path] = append(byPath[p.Path], p)
	}

	for _, path := range pathOrder {
		members := byPath[path]
		for start := 0; start < len(members); start += desc.MaxBatchSize {
			end := start + desc.MaxBatchSize
			if end > len(members) {
				end = len(members)
			}
			batches = append(batches, Batch{
				Seq:        len(batches),
				Descriptor: desc,
				Path:       path,
				Payloads:   members[start:end],
			})
		}
	}

	return batches
}
