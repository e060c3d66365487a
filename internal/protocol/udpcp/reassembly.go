package udpcp

import "sync"

// ReassemblyTable accumulates inbound Data fragments per peer and emits a
// complete message once the peer's most recent arrival reports the fragment
// count that has now been reached.
//
// Fragments are concatenated in arrival order, not indexed by
// fragment_number: the table does not detect duplicates, missing
// fragments, or out-of-order arrivals. This reproduces the reference
// implementation's wire-compatible but lossy reassembly behavior rather
// than the fragment_number-indexed scheme a from-scratch design would
// likely choose (see DESIGN.md, Open Question decisions).
type ReassemblyTable struct {
	mu      sync.Mutex
	entries map[string][][]byte
}

// NewReassemblyTable returns an empty table.
func NewReassemblyTable() *ReassemblyTable {
	return &ReassemblyTable{entries: make(map[string][][]byte)}
}

// Append records one fragment's payload for peer, in arrival order. If the
// accumulated fragment count for peer now equals fragmentAmount, the
// accumulated chunks are concatenated and returned with complete=true, and
// the peer's entry is removed.
func (t *ReassemblyTable) Append(peer string, fragmentAmount uint8, payload []byte) (message []byte, complete bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	chunk := append([]byte(nil), payload...)
	t.entries[peer] = append(t.entries[peer], chunk)

	chunks := t.entries[peer]
	if len(chunks) != int(fragmentAmount) {
		return nil, false
	}

	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	message = make([]byte, 0, total)
	for _, c := range chunks {
		message = append(message, c...)
	}

	delete(t.entries, peer)
	return message, true
}

// Pending reports how many fragments have been accumulated for peer so far.
func (t *ReassemblyTable) Pending(peer string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries[peer])
}
