package ledger

import "testing"

func TestSelectUTXO_OldestEligibleWins(t *testing.T) {
	s := testStore(t)

	older := makeEntry("tx1", 0, "payerA", 2000, 1500)
	older.FirstSeen = "2024-01-01T00:00:00.000Z"
	newer := makeEntry("tx2", 0, "payerA", 1000, 500)
	newer.FirstSeen = "2025-01-01T00:00:00.000Z"
	s.UpsertAddress(newer)
	s.UpsertAddress(older)

	// Both pay the server; only the older one covers 1000.
	got := s.SelectUTXO("payerA", "server", 1000)
	if got == nil {
		t.Fatal("SelectUTXO() = nil, want entry")
	}
	if got.UTXOID != "tx1:0" {
		t.Errorf("SelectUTXO() = %s, want tx1:0", got.UTXOID)
	}

	// With a lower requirement both are eligible; FIFO still picks the older.
	got = s.SelectUTXO("payerA", "server", 400)
	if got == nil || got.UTXOID != "tx1:0" {
		t.Errorf("SelectUTXO() = %+v, want tx1:0", got)
	}
}

func TestSelectUTXO_FiltersReceiver(t *testing.T) {
	s := testStore(t)

	e := makeEntry("tx1", 0, "payerA", 2000, 2000)
	e.ReceiverAddress = "someone-else"
	s.UpsertAddress(e)

	if got := s.SelectUTXO("payerA", "server", 100); got != nil {
		t.Errorf("SelectUTXO() = %+v, want nil for foreign receiver", got)
	}
}

func TestSelectUTXO_FiltersBalance(t *testing.T) {
	s := testStore(t)
	s.UpsertAddress(makeEntry("tx1", 0, "payerA", 2000, 500))

	if got := s.SelectUTXO("payerA", "server", 501); got != nil {
		t.Errorf("SelectUTXO() = %+v, want nil for insufficient balance", got)
	}
	if got := s.SelectUTXO("payerA", "server", 500); got == nil {
		t.Error("SelectUTXO() = nil for exactly sufficient balance")
	}
}

func TestSelectUTXO_UnknownPayer(t *testing.T) {
	s := testStore(t)
	if got := s.SelectUTXO("nobody", "server", 1); got != nil {
		t.Errorf("SelectUTXO() = %+v, want nil", got)
	}
}

func TestSelectUTXO_InvalidFirstSeenSortsFirst(t *testing.T) {
	s := testStore(t)

	dated := makeEntry("tx1", 0, "payerA", 2000, 2000)
	dated.FirstSeen = "2024-01-01T00:00:00.000Z"
	undated := makeEntry("tx2", 0, "payerA", 2000, 2000)
	undated.FirstSeen = "garbage"
	s.UpsertAddress(dated)
	s.UpsertAddress(undated)

	// The unparseable timestamp reads as the epoch, so it drains first.
	got := s.SelectUTXO("payerA", "server", 100)
	if got == nil || got.UTXOID != "tx2:0" {
		t.Errorf("SelectUTXO() = %+v, want tx2:0", got)
	}
}

func TestSelectUTXO_ReturnsCopy(t *testing.T) {
	s := testStore(t)
	s.UpsertAddress(makeEntry("tx1", 0, "payerA", 2000, 2000))

	got := s.SelectUTXO("payerA", "server", 100)
	if got == nil {
		t.Fatal("SelectUTXO() = nil")
	}
	got.RemainingBalanceSat = 1

	again := s.SelectUTXO("payerA", "server", 100)
	if again == nil || again.RemainingBalanceSat != 2000 {
		t.Error("mutating a selected entry must not affect the index")
	}
}
