package ledger

import "sort"

// SelectUTXO picks a usable entry for a payer that does not pin an outpoint:
// the entry must pay the requested receiver and still hold at least the
// required balance. Eligible entries drain oldest-first by FirstSeen, which
// bounds the number of open tabs per payer.
//
// Selection is advisory. Store failures read as "nothing usable" and return
// nil rather than an error.
func (s *Store) SelectUTXO(payer, payTo string, required Satoshis) *Entry {
	entries, err := s.AddressEntries(payer)
	if err != nil {
		s.logger.Warn().Str("address", payer).Err(err).Msg("address index read failed during selection")
		return nil
	}

	eligible := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.ReceiverAddress == payTo && e.RemainingBalanceSat >= required {
			eligible = append(eligible, e)
		}
	}
	if len(eligible) == 0 {
		return nil
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].firstSeenTime().Before(eligible[j].firstSeenTime())
	})
	return eligible[0].Clone()
}
