package batcher

import (
	"fmt"
	"testing"

	"github.com/dataloaders/hubspot-writer/pkg/mapper"
	"github.com/dataloaders/hubspot-writer/pkg/registry"
)

func payloads(n int, path string) []*mapper.Payload {
	ps := make([]*mapper.Payload, n)
	for i := range ps {
		ps[i] = &mapper.Payload{RowRef: i + 1, Path: path}
	}
	return ps
}

func TestBuild_GreedyOrderPreservingPacking(t *testing.T) {
	desc, err := registry.Resolve(registry.ObjectContact, registry.ActionAddToList)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	// 1200 rows at max 500 must pack into 500/500/200, in input order.
	batches := Build(desc, payloads(1200, "contacts/v1/lists/7/add"))

	if len(batches) != 3 {
		t.Fatalf("Build() produced %d batches, want 3", len(batches))
	}

	wantSizes := []int{500, 500, 200}
	next := 1
	for i, b := range batches {
		if len(b.Payloads) != wantSizes[i] {
			t.Errorf("batch %d size = %d, want %d", i, len(b.Payloads), wantSizes[i])
		}
		if b.Seq != i {
			t.Errorf("batch %d Seq = %d", i, b.Seq)
		}
		for _, p := range b.Payloads {
			if p.RowRef != next {
				t.Fatalf("row order broken: got row %d, want %d", p.RowRef, next)
			}
			next++
		}
	}
	if next != 1201 {
		t.Errorf("packed %d rows, want 1200 with none duplicated or dropped", next-1)
	}
}

func TestBuild_NonBatchableYieldsSingletons(t *testing.T) {
	desc, err := registry.Resolve(registry.ObjectAssociation, registry.ActionCreate)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	ps := []*mapper.Payload{
		{RowRef: 1, Path: "crm/v4/objects/contact/1/associations/default/company/2"},
		{RowRef: 2, Path: "crm/v4/objects/contact/3/associations/default/company/4"},
		{RowRef: 3, Path: "crm/v4/objects/contact/5/associations/default/company/6"},
	}

	batches := Build(desc, ps)
	if len(batches) != 3 {
		t.Fatalf("Build() produced %d batches, want 3", len(batches))
	}
	for i, b := range batches {
		if len(b.Payloads) != 1 {
			t.Errorf("batch %d size = %d, want 1", i, len(b.Payloads))
		}
		if b.Payloads[0].RowRef != i+1 {
			t.Errorf("batch %d carries row %d, want %d", i, b.Payloads[0].RowRef, i+1)
		}
		if b.Path != ps[i].Path {
			t.Errorf("batch %d path = %q", i, b.Path)
		}
	}
}

func TestBuild_GroupsByResolvedPath(t *testing.T) {
	desc, err := registry.Resolve(registry.ObjectContact, registry.ActionAddToList)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	// Rows interleave two lists; batches group per path, paths in
	// first-appearance order, members in input order within each path.
	ps := []*mapper.Payload{
		{RowRef: 1, Path: "contacts/v1/lists/7/add"},
		{RowRef: 2, Path: "contacts/v1/lists/9/add"},
		{RowRef: 3, Path: "contacts/v1/lists/7/add"},
		{RowRef: 4, Path: "contacts/v1/lists/9/add"},
	}

	batches := Build(desc, ps)
	if len(batches) != 2 {
		t.Fatalf("Build() produced %d batches, want 2", len(batches))
	}

	if batches[0].Path != "contacts/v1/lists/7/add" {
		t.Errorf("first batch path = %q, want list 7 (first appearance)", batches[0].Path)
	}
	if got := batches[0].RowRefs(); fmt.Sprint(got) != "[1 3]" {
		t.Errorf("first batch rows = %v, want [1 3]", got)
	}
	if got := batches[1].RowRefs(); fmt.Sprint(got) != "[2 4]" {
		t.Errorf("second batch rows = %v, want [2 4]", got)
	}
}

func TestBuild_NoPayloadSplit(t *testing.T) {
	desc, err := registry.Resolve(registry.ObjectContact, registry.ActionCreate)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	batches := Build(desc, payloads(150, "crm/v3/objects/contacts/batch/create"))
	if len(batches) != 2 {
		t.Fatalf("Build() produced %d batches, want 2", len(batches))
	}

	total := 0
	seen := map[int]bool{}
	for _, b := range batches {
		for _, p := range b.Payloads {
			if seen[p.RowRef] {
				t.Fatalf("row %d appears in more than one batch", p.RowRef)
			}
			seen[p.RowRef] = true
			total++
		}
	}
	if total != 150 {
		t.Errorf("total rows = %d, want 150", total)
	}
}

func TestBuild_Empty(t *testing.T) {
	desc, err := registry.Resolve(registry.ObjectContact, registry.ActionCreate)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if batches := Build(desc, nil); len(batches) != 0 {
		t.Errorf("Build(nil) = %v, want no batches", batches)
	}
}
