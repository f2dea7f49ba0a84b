package ledger

import (
	"testing"

	"github.com/utxotab/facilitator/internal/storage"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(storage.NewMemory())
}

func makeEntry(txid string, vout uint32, payer string, value, remaining Satoshis) *Entry {
	return &Entry{
		UTXOID:              UTXOKey(txid, vout),
		TxID:                txid,
		Vout:                vout,
		PayerAddress:        payer,
		ReceiverAddress:     "server",
		TransactionValueSat: value,
		RemainingBalanceSat: remaining,
		TotalDebitedSat:     value - remaining,
		FirstSeen:           "2025-01-01T00:00:00.000Z",
		LastUpdated:         "2025-01-01T00:00:00.000Z",
		LastChecked:         "2025-01-01T00:00:00.000Z",
	}
}

func TestStore_PutAndGetEntry(t *testing.T) {
	s := testStore(t)
	e := makeEntry("tx1", 0, "payerA", 2000, 1500)

	if err := s.PutEntry(e); err != nil {
		t.Fatalf("PutEntry() error: %v", err)
	}

	got, err := s.GetEntry("tx1:0")
	if err != nil {
		t.Fatalf("GetEntry() error: %v", err)
	}
	if got.TransactionValueSat != 2000 || got.RemainingBalanceSat != 1500 || got.TotalDebitedSat != 500 {
		t.Errorf("monetary fields = %d/%d/%d, want 2000/1500/500",
			got.TransactionValueSat, got.RemainingBalanceSat, got.TotalDebitedSat)
	}
}

func TestStore_GetEntryMissing(t *testing.T) {
	s := testStore(t)
	_, err := s.GetEntry("missing:0")
	if !storage.IsNotFound(err) {
		t.Errorf("GetEntry() error = %v, want ErrNotFound", err)
	}
}

func TestStore_UpsertAddress(t *testing.T) {
	s := testStore(t)
	e := makeEntry("tx1", 0, "payerA", 2000, 1500)

	if err := s.UpsertAddress(e); err != nil {
		t.Fatalf("UpsertAddress() error: %v", err)
	}
	entries, err := s.AddressEntries("payerA")
	if err != nil {
		t.Fatalf("AddressEntries() error: %v", err)
	}
	if len(entries) != 1 || entries[0].UTXOID != "tx1:0" {
		t.Fatalf("AddressEntries() = %+v", entries)
	}

	// Upserting the same id replaces, not appends.
	e2 := e.Clone()
	e2.RemainingBalanceSat = 500
	if err := s.UpsertAddress(e2); err != nil {
		t.Fatalf("UpsertAddress() error: %v", err)
	}
	entries, _ = s.AddressEntries("payerA")
	if len(entries) != 1 {
		t.Fatalf("list length after replace = %d, want 1", len(entries))
	}
	if entries[0].RemainingBalanceSat != 500 {
		t.Errorf("RemainingBalanceSat = %d, want 500", entries[0].RemainingBalanceSat)
	}

	// A different id appends.
	if err := s.UpsertAddress(makeEntry("tx2", 1, "payerA", 3000, 3000)); err != nil {
		t.Fatalf("UpsertAddress() error: %v", err)
	}
	entries, _ = s.AddressEntries("payerA")
	if len(entries) != 2 {
		t.Errorf("list length = %d, want 2", len(entries))
	}
}

func TestStore_RemoveAddress(t *testing.T) {
	s := testStore(t)
	s.UpsertAddress(makeEntry("tx1", 0, "payerA", 2000, 1500))
	s.UpsertAddress(makeEntry("tx2", 0, "payerA", 1000, 1000))

	if err := s.RemoveAddress("payerA", "tx1:0"); err != nil {
		t.Fatalf("RemoveAddress() error: %v", err)
	}
	entries, _ := s.AddressEntries("payerA")
	if len(entries) != 1 || entries[0].UTXOID != "tx2:0" {
		t.Fatalf("AddressEntries() after remove = %+v", entries)
	}

	// Removing the last entry deletes the key rather than leaving [].
	if err := s.RemoveAddress("payerA", "tx2:0"); err != nil {
		t.Fatalf("RemoveAddress() error: %v", err)
	}
	entries, err := s.AddressEntries("payerA")
	if err != nil {
		t.Fatalf("AddressEntries() error: %v", err)
	}
	if entries != nil {
		t.Errorf("AddressEntries() = %+v, want nil", entries)
	}
	if ok, _ := s.addrs.Has([]byte("payerA")); ok {
		t.Error("address key should be deleted when its list empties")
	}
}

func TestStore_AddressEntriesMalformed(t *testing.T) {
	s := testStore(t)
	s.addrs.Put([]byte("payerA"), []byte("not json"))

	entries, err := s.AddressEntries("payerA")
	if err != nil {
		t.Fatalf("AddressEntries() error: %v", err)
	}
	if entries != nil {
		t.Errorf("malformed index value should read as empty, got %+v", entries)
	}
}

func TestStore_Rebuild(t *testing.T) {
	s := testStore(t)

	// Entries exist in the UTXO namespace but the index is stale: one
	// address list is missing entirely, another references a deleted coin.
	s.PutEntry(makeEntry("tx1", 0, "payerA", 2000, 1500))
	s.PutEntry(makeEntry("tx2", 0, "payerA", 1000, 1000))
	s.PutEntry(makeEntry("tx3", 0, "payerB", 500, 100))
	s.UpsertAddress(makeEntry("tx9", 0, "payerC", 9, 9)) // orphan index record

	if err := s.Rebuild(); err != nil {
		t.Fatalf("Rebuild() error: %v", err)
	}

	a, _ := s.AddressEntries("payerA")
	if len(a) != 2 {
		t.Errorf("payerA entries = %d, want 2", len(a))
	}
	b, _ := s.AddressEntries("payerB")
	if len(b) != 1 || b[0].UTXOID != "tx3:0" {
		t.Errorf("payerB entries = %+v", b)
	}
	c, _ := s.AddressEntries("payerC")
	if c != nil {
		t.Errorf("orphan index entry survived rebuild: %+v", c)
	}
}
