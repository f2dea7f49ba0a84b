package ledger

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	klog "github.com/utxotab/facilitator/internal/log"
	"github.com/utxotab/facilitator/internal/storage"
)

// Key prefixes for the two ledger namespaces within one database.
var (
	prefixUTXO = []byte("u/") // u/<txid:vout> -> Entry JSON
	prefixAddr = []byte("a/") // a/<payerAddress> -> []Entry JSON
)

// Store persists ledger entries in two views: the authoritative map keyed by
// UTXO id, and a secondary index keyed by payer address holding entry lists.
// The index may drift on partial failures; Rebuild reconstructs it.
type Store struct {
	utxos  *storage.PrefixDB
	addrs  *storage.PrefixDB
	logger zerolog.Logger
}

// NewStore creates a ledger store over the given database.
func NewStore(db storage.DB) *Store {
	return &Store{
		utxos:  storage.NewPrefixDB(db, prefixUTXO),
		addrs:  storage.NewPrefixDB(db, prefixAddr),
		logger: klog.Storage,
	}
}

// GetEntry loads the entry for a UTXO id. Returns storage.ErrNotFound when
// no entry exists.
func (s *Store) GetEntry(utxoID string) (*Entry, error) {
	data, err := s.utxos.Get([]byte(utxoID))
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("ledger entry unmarshal: %w", err)
	}
	return &e, nil
}

// PutEntry writes the entry into the UTXO namespace.
func (s *Store) PutEntry(e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("ledger entry marshal: %w", err)
	}
	if err := s.utxos.Put([]byte(e.UTXOID), data); err != nil {
		return fmt.Errorf("ledger entry put: %w", err)
	}
	return nil
}

// DeleteEntry removes the entry from the UTXO namespace.
func (s *Store) DeleteEntry(utxoID string) error {
	if err := s.utxos.Delete([]byte(utxoID)); err != nil {
		return fmt.Errorf("ledger entry delete: %w", err)
	}
	return nil
}

// AddressEntries returns the entries indexed under a payer address. A
// missing key or a malformed value reads as empty; the index is advisory.
func (s *Store) AddressEntries(addr string) ([]Entry, error) {
	data, err := s.addrs.Get([]byte(addr))
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		s.logger.Warn().Str("address", addr).Err(err).Msg("malformed address index value, treating as empty")
		return nil, nil
	}
	return entries, nil
}

// UpsertAddress inserts or replaces the entry in its payer's index list.
func (s *Store) UpsertAddress(e *Entry) error {
	entries, err := s.AddressEntries(e.PayerAddress)
	if err != nil {
		return err
	}
	replaced := false
	for i := range entries {
		if entries[i].UTXOID == e.UTXOID {
			entries[i] = *e
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append(entries, *e)
	}
	return s.putAddress(e.PayerAddress, entries)
}

// RemoveAddress deletes the entry from its payer's index list, removing the
// address key entirely when the list empties.
func (s *Store) RemoveAddress(addr, utxoID string) error {
	entries, err := s.AddressEntries(addr)
	if err != nil {
		return err
	}
	kept := entries[:0]
	for _, e := range entries {
		if e.UTXOID != utxoID {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		if err := s.addrs.Delete([]byte(addr)); err != nil {
			return fmt.Errorf("address index delete: %w", err)
		}
		return nil
	}
	return s.putAddress(addr, kept)
}

func (s *Store) putAddress(addr string, entries []Entry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("address index marshal: %w", err)
	}
	if err := s.addrs.Put([]byte(addr), data); err != nil {
		return fmt.Errorf("address index put: %w", err)
	}
	return nil
}

// ForEachEntry iterates over every entry in the UTXO namespace.
func (s *Store) ForEachEntry(fn func(*Entry) error) error {
	return s.utxos.ForEach(nil, func(_, value []byte) error {
		var e Entry
		if err := json.Unmarshal(value, &e); err != nil {
			return fmt.Errorf("ledger entry unmarshal: %w", err)
		}
		return fn(&e)
	})
}

// Rebuild reconstructs the address index from the UTXO namespace. The UTXO
// namespace is the source of truth; index writes that failed mid-flight are
// repaired here at startup.
func (s *Store) Rebuild() error {
	byAddr := make(map[string][]Entry)
	err := s.ForEachEntry(func(e *Entry) error {
		byAddr[e.PayerAddress] = append(byAddr[e.PayerAddress], *e)
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan utxo namespace: %w", err)
	}

	if err := s.addrs.DeleteAll(); err != nil {
		return fmt.Errorf("clear address index: %w", err)
	}
	for addr, entries := range byAddr {
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].firstSeenTime().Before(entries[j].firstSeenTime())
		})
		if err := s.putAddress(addr, entries); err != nil {
			return err
		}
	}

	s.logger.Info().Int("addresses", len(byAddr)).Msg("address index rebuilt")
	return nil
}
