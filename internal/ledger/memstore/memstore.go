// Package memstore is an in-memory ledger.Store used by unit and contract
// tests, following the same thread-safe copy-on-read/write discipline as
// the in-memory transaction state store this stack's tests are built on.
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gnosis/safe-transaction-history/internal/ledger"
)

type key struct {
	txHash common.Hash
	trace  string
}

func traceKey(h common.Hash, trace []int) key {
	s := make([]byte, 0, len(trace)*2)
	for _, t := range trace {
		s = append(s, byte(t), '.')
	}
	return key{txHash: h, trace: string(s)}
}

// Store is a thread-safe in-memory ledger.Store.
type Store struct {
	mu sync.RWMutex

	blocks       map[uint64]*ledger.Block
	txs          map[common.Hash]*ledger.EthereumTx
	internalTxs  map[key]*ledger.InternalTx
	decoded      map[key]*ledger.InternalTxDecoded
	events       map[key]*ledger.EthereumEvent // keyed by (tx_hash, logIndex) via trace field reuse
	contracts    map[common.Address]*ledger.SafeContract
	statuses     map[common.Address][]*ledger.SafeStatus
	multisigTxs  map[common.Hash]*ledger.MultisigTransaction
	confirmations map[common.Hash][]*ledger.MultisigConfirmation
	tokens       map[common.Address]*ledger.TokenInfo
	delegates    []*ledger.Delegate
	monitored    map[common.Address]*ledger.MonitoredAddress
	erc20        []*ledger.ERC20Transfer
	erc721       []*ledger.ERC721Transfer
	indexing     map[uint64]*ledger.IndexingStatus
}

func New() *Store {
	return &Store{
		blocks:        make(map[uint64]*ledger.Block),
		txs:           make(map[common.Hash]*ledger.EthereumTx),
		internalTxs:   make(map[key]*ledger.InternalTx),
		decoded:       make(map[key]*ledger.InternalTxDecoded),
		events:        make(map[key]*ledger.EthereumEvent),
		contracts:     make(map[common.Address]*ledger.SafeContract),
		statuses:      make(map[common.Address][]*ledger.SafeStatus),
		multisigTxs:   make(map[common.Hash]*ledger.MultisigTransaction),
		confirmations: make(map[common.Hash][]*ledger.MultisigConfirmation),
		tokens:        make(map[common.Address]*ledger.TokenInfo),
		monitored:     make(map[common.Address]*ledger.MonitoredAddress),
		indexing:      make(map[uint64]*ledger.IndexingStatus),
	}
}

func (s *Store) UpsertBlock(_ context.Context, b *ledger.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.blocks[b.Number] = &cp
	return nil
}

func (s *Store) UpsertEthereumTx(_ context.Context, tx *ledger.EthereumTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tx
	s.txs[tx.Hash] = &cp
	return nil
}

func (s *Store) UpsertInternalTx(_ context.Context, itx *ledger.InternalTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *itx
	s.internalTxs[traceKey(itx.TxHash, itx.TraceAddress)] = &cp
	return nil
}

func (s *Store) UpsertInternalTxDecoded(_ context.Context, d *ledger.InternalTxDecoded) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	k := traceKey(d.TxHash, d.TraceAddress)
	if existing, ok := s.decoded[k]; ok && existing.Processed {
		cp.Processed = true
	}
	s.decoded[k] = &cp
	return nil
}

func (s *Store) UpsertEthereumEvent(_ context.Context, e *ledger.EthereumEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.events[key{txHash: e.TxHash, trace: itoaKey(e.LogIndex)}] = &cp
	return nil
}

func (s *Store) UpsertSafeContract(_ context.Context, sc *ledger.SafeContract) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sc
	s.contracts[sc.Address] = &cp
	return nil
}

func (s *Store) GetSafeContract(_ context.Context, address common.Address) (*ledger.SafeContract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.contracts[address]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	cp := *sc
	return &cp, nil
}

func (s *Store) ListSafeContracts(_ context.Context) ([]*ledger.SafeContract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ledger.SafeContract, 0, len(s.contracts))
	for _, sc := range s.contracts {
		cp := *sc
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address.Hex() < out[j].Address.Hex() })
	return out, nil
}

func (s *Store) GetInternalTx(_ context.Context, txHash common.Hash, traceAddress []int) (*ledger.InternalTx, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	itx, ok := s.internalTxs[traceKey(txHash, traceAddress)]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	cp := *itx
	return &cp, nil
}

func (s *Store) AppendSafeStatus(_ context.Context, st *ledger.SafeStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *st
	s.statuses[st.Safe] = append(s.statuses[st.Safe], &cp)
	return nil
}

// UpsertMultisigTransaction fills in the execution fields (executed_tx_hash,
// is_successful, signatures) only if the existing row lacks them, so a
// pre-proposed transaction's first execTransaction sighting still attaches
// its outcome rather than the two writes racing to overwrite each other.
func (s *Store) UpsertMultisigTransaction(_ context.Context, m *ledger.MultisigTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.multisigTxs[m.SafeTxHash]; ok {
		cp := *existing
		if cp.ExecutedTxHash == nil {
			cp.ExecutedTxHash = m.ExecutedTxHash
		}
		if cp.IsSuccessful == nil {
			cp.IsSuccessful = m.IsSuccessful
		}
		if cp.Signatures == nil {
			cp.Signatures = m.Signatures
		}
		cp.IsExecuted = cp.IsExecuted || m.IsExecuted
		s.multisigTxs[m.SafeTxHash] = &cp
		return nil
	}

	cp := *m
	s.multisigTxs[m.SafeTxHash] = &cp
	return nil
}

// DeleteStaleMultisigTransactions removes any row matching (safe, nonce,
// ethereumTxHash) whose safe_tx_hash differs from keepSafeTxHash.
func (s *Store) DeleteStaleMultisigTransactions(_ context.Context, safe common.Address, ethereumTxHash common.Hash, nonce uint64, keepSafeTxHash common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for hash, m := range s.multisigTxs {
		if hash == keepSafeTxHash {
			continue
		}
		if m.Safe != safe || m.Nonce != nonce {
			continue
		}
		if m.ExecutedTxHash == nil || *m.ExecutedTxHash != ethereumTxHash {
			continue
		}
		delete(s.multisigTxs, hash)
	}
	return nil
}

// ExecutionFailed scans persisted EthereumEvent rows for ethereumTxHash for
// a Safe execution-failure event keyed by safeTxHash, per the JSON shape
// the events stream writes.
func (s *Store) ExecutionFailed(_ context.Context, ethereumTxHash common.Hash, safeTxHash common.Hash) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for k, e := range s.events {
		if k.txHash != ethereumTxHash {
			continue
		}
		var payload struct {
			SafeTxHash string `json:"safe_tx_hash"`
			Outcome    string `json:"outcome"`
		}
		if err := json.Unmarshal(e.Arguments, &payload); err != nil {
			continue
		}
		if payload.Outcome == "failure" && common.HexToHash(payload.SafeTxHash) == safeTxHash {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) UpsertMultisigConfirmation(_ context.Context, c *ledger.MultisigConfirmation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.confirmations[c.SafeTxHash] {
		if existing.Owner == c.Owner {
			*existing = *c
			return nil
		}
	}
	cp := *c
	s.confirmations[c.SafeTxHash] = append(s.confirmations[c.SafeTxHash], &cp)
	return nil
}

func (s *Store) UpsertTokenInfo(_ context.Context, t *ledger.TokenInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tokens[t.Address] = &cp
	return nil
}

func (s *Store) GetTokenInfo(_ context.Context, address common.Address) (*ledger.TokenInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[address]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *Store) UpsertDelegate(_ context.Context, d *ledger.Delegate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	for i, existing := range s.delegates {
		if existing.Safe == d.Safe && existing.Delegate == d.Delegate {
			s.delegates[i] = &cp
			return nil
		}
	}
	s.delegates = append(s.delegates, &cp)
	return nil
}

func (s *Store) SetIndexingStatus(_ context.Context, st *ledger.IndexingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *st
	s.indexing[st.ChainID] = &cp
	return nil
}

func (s *Store) UpsertERC20Transfer(_ context.Context, t *ledger.ERC20Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	for i, existing := range s.erc20 {
		if existing.TxHash == t.TxHash && existing.LogIndex == t.LogIndex {
			s.erc20[i] = &cp
			return nil
		}
	}
	s.erc20 = append(s.erc20, &cp)
	return nil
}

func (s *Store) UpsertERC721Transfer(_ context.Context, t *ledger.ERC721Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	for i, existing := range s.erc721 {
		if existing.TxHash == t.TxHash && existing.LogIndex == t.LogIndex {
			s.erc721[i] = &cp
			return nil
		}
	}
	s.erc721 = append(s.erc721, &cp)
	return nil
}

func (s *Store) GetMultisigTransaction(_ context.Context, safeTxHash common.Hash) (*ledger.MultisigTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.multisigTxs[safeTxHash]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *Store) GetConfirmations(_ context.Context, safeTxHash common.Hash) ([]*ledger.MultisigConfirmation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.confirmations[safeTxHash]
	out := make([]*ledger.MultisigConfirmation, len(list))
	for i, c := range list {
		cp := *c
		out[i] = &cp
	}
	return out, nil
}

func (s *Store) LastSafeStatusFor(_ context.Context, safe common.Address) (*ledger.SafeStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.statuses[safe]
	if len(list) == 0 {
		return nil, ledger.ErrNotFound
	}
	cp := *list[len(list)-1]
	return &cp, nil
}

func (s *Store) PendingDecodedInvocations(_ context.Context, safe common.Address, limit int) ([]*ledger.InternalTxDecoded, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*ledger.InternalTxDecoded
	for k, d := range s.decoded {
		if d.Processed {
			continue
		}
		itx, ok := s.internalTxs[k]
		if !ok || itx.To != safe {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		a := s.internalTxs[traceKey(out[i].TxHash, out[i].TraceAddress)]
		b := s.internalTxs[traceKey(out[j].TxHash, out[j].TraceAddress)]
		if a.BlockNumber != b.BlockNumber {
			return a.BlockNumber < b.BlockNumber
		}
		if a.TransactionPosition != b.TransactionPosition {
			return a.TransactionPosition < b.TransactionPosition
		}
		for k := 0; k < len(a.TraceAddress) && k < len(b.TraceAddress); k++ {
			if a.TraceAddress[k] != b.TraceAddress[k] {
				return a.TraceAddress[k] < b.TraceAddress[k]
			}
		}
		return len(a.TraceAddress) < len(b.TraceAddress)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	cpList := make([]*ledger.InternalTxDecoded, len(out))
	for i, d := range out {
		cp := *d
		cpList[i] = &cp
	}
	return cpList, nil
}

func (s *Store) MarkInvocationProcessed(_ context.Context, txHash common.Hash, traceAddress []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := traceKey(txHash, traceAddress)
	d, ok := s.decoded[k]
	if !ok {
		return ledger.ErrNotFound
	}
	d.Processed = true
	return nil
}

func (s *Store) GetMonitoredAddress(_ context.Context, address common.Address) (*ledger.MonitoredAddress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.monitored[address]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *Store) UpsertMonitoredAddress(_ context.Context, m *ledger.MonitoredAddress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.monitored[m.Address] = &cp
	return nil
}

func (s *Store) ListMonitoredAddresses(_ context.Context) ([]*ledger.MonitoredAddress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ledger.MonitoredAddress, 0, len(s.monitored))
	for _, m := range s.monitored {
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address.Hex() < out[j].Address.Hex() })
	return out, nil
}

func (s *Store) GetERC20Transfers(_ context.Context, address common.Address, limit, offset int) ([]*ledger.ERC20Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matches []*ledger.ERC20Transfer
	for _, t := range s.erc20 {
		if t.From == address || t.To == address {
			matches = append(matches, t)
		}
	}
	return paginate(matches, limit, offset), nil
}

func (s *Store) GetERC721Transfers(_ context.Context, address common.Address, limit, offset int) ([]*ledger.ERC721Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matches []*ledger.ERC721Transfer
	for _, t := range s.erc721 {
		if t.From == address || t.To == address {
			matches = append(matches, t)
		}
	}
	return paginate(matches, limit, offset), nil
}

func (s *Store) GetERC721Owner(_ context.Context, token common.Address, tokenID string) (common.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var owner common.Address
	var found bool
	for _, t := range s.erc721 {
		if t.Token == token && t.TokenID.String() == tokenID {
			owner = t.To
			found = true
		}
	}
	if !found {
		return common.Address{}, ledger.ErrNotFound
	}
	return owner, nil
}

func (s *Store) Close() error { return nil }

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	out := make([]T, len(items))
	copy(out, items)
	return out
}

func itoaKey(n uint) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

var _ ledger.Store = (*Store)(nil)
