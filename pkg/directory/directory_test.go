package directory

import (
	"context"
	"testing"
)

func seeded() *MemoryDirectory {
	d := NewMemoryDirectory()
	d.Seed(Contact{ID: "u123", PrincipalID: "p1", DisplayName: "Sam Alvarez", Handle: "@salvarez"})
	d.Seed(Contact{ID: "u456", PrincipalID: "p1", DisplayName: "Sam Okafor", Handle: "@sokafor"})
	d.Seed(Contact{ID: "u789", PrincipalID: "p1", DisplayName: "Priya Nair", Handle: "@priya"})
	d.Seed(Contact{ID: "u999", PrincipalID: "p2", DisplayName: "Sam Whitfield"})
	return d
}

func TestFindByNameMultipleMatches(t *testing.T) {
	d := seeded()
	got, err := d.FindByName(context.Background(), "p1", "Sam")
	if err != nil {
		t.Fatalf("FindByName: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d matches, want 2", len(got))
	}
}

func TestFindByNameScopedToPrincipal(t *testing.T) {
	d := seeded()
	got, err := d.FindByName(context.Background(), "p2", "Sam")
	if err != nil {
		t.Fatalf("FindByName: %v", err)
	}
	if len(got) != 1 || got[0].ID != "u999" {
		t.Fatalf("got %+v, want only u999", got)
	}
}

func TestFindByNameExactAndHandle(t *testing.T) {
	d := seeded()

	got, _ := d.FindByName(context.Background(), "p1", "sam okafor")
	if len(got) != 1 || got[0].ID != "u456" {
		t.Fatalf("full-name match: got %+v", got)
	}

	got, _ = d.FindByName(context.Background(), "p1", "@priya")
	if len(got) != 1 || got[0].ID != "u789" {
		t.Fatalf("handle match: got %+v", got)
	}
}

func TestFindByNameNoMatch(t *testing.T) {
	d := seeded()
	got, err := d.FindByName(context.Background(), "p1", "Lennart")
	if err != nil {
		t.Fatalf("FindByName: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %+v, want none", got)
	}
}

func TestCreateThenGet(t *testing.T) {
	d := NewMemoryDirectory()
	ctx := context.Background()

	created, err := d.Create(ctx, "p1", "  Lennart Berg ")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.DisplayName != "Lennart Berg" {
		t.Fatalf("display name not trimmed: %q", created.DisplayName)
	}

	got, ok, err := d.Get(ctx, "p1", created.ID)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.DisplayName != "Lennart Berg" {
		t.Fatalf("got %+v", got)
	}

	if _, ok, _ := d.Get(ctx, "p2", created.ID); ok {
		t.Fatal("contact leaked across principals")
	}
}
