package ledgerfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mnt-exchange/core/internal/exchange/accounting"
	"github.com/mnt-exchange/core/internal/exchange/money"
)

func TestAppendAndReadAllRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trades.log")

	f, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	p := accounting.Posting{
		Seq: 0, ID: "abc", Timestamp: 1, Kind: "deposit", Ref: "dep-1", Desc: "user deposit",
		Legs: []accounting.Leg{
			{Account: accounting.UserCash("alice"), Debit: 5_000_000},
			{Account: "Liabilities:Omnibus", Credit: 5_000_000},
		},
	}
	if err := f.Append(p); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	postings, err := ReadAll(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(postings) != 1 {
		t.Fatalf("expected 1 posting, got %d", len(postings))
	}
	got := postings[0]
	if got.ID != "abc" || got.Kind != "deposit" || len(got.Legs) != 2 {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
	if got.Legs[0].Account != accounting.UserCash("alice") || got.Legs[0].Debit != money.Micro(5_000_000) {
		t.Fatalf("leg 0 mismatch: %+v", got.Legs[0])
	}
}

func TestReadAllSkipsCorruptLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trades.log")
	if err := os.WriteFile(path, []byte("not|enough|fields\n0|abc|1|deposit|ref|desc|Assets:Cash:MNT:alice^5000000^0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	postings, err := ReadAll(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(postings) != 1 {
		t.Fatalf("expected corrupt line skipped, 1 valid posting, got %d", len(postings))
	}
}

func TestReadAllMissingFileReturnsEmpty(t *testing.T) {
	postings, err := ReadAll(filepath.Join(t.TempDir(), "missing.log"))
	if err != nil {
		t.Fatal(err)
	}
	if postings != nil {
		t.Fatalf("expected nil postings for missing file, got %v", postings)
	}
}
