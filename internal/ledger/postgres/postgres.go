// Package postgres is the production ledger.Store backend: explicit SQL
// over a pgx pool, no ORM, following the same explicit-query/explicit-
// transaction idiom this stack uses for other append-mostly ledgers.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gnosis/safe-transaction-history/internal/chainerr"
	"github.com/gnosis/safe-transaction-history/internal/ledger"
)

const uniqueViolation = "23505"

type Store struct {
	pool *pgxpool.Pool
}

func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// asConflict translates a unique-constraint violation into the ledger's
// own ERR_UNIQUE_CONFLICT classification so callers never have to inspect
// a driver-specific error code.
func asConflict(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return chainerr.NewNonRetryable(chainerr.ErrCodeUniqueConflict, "unique constraint violated", err)
	}
	return err
}

func (s *Store) UpsertBlock(ctx context.Context, b *ledger.Block) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO blocks (number, hash, parent_hash, timestamp)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (number) DO UPDATE SET hash = EXCLUDED.hash, parent_hash = EXCLUDED.parent_hash, timestamp = EXCLUDED.timestamp
	`, b.Number, b.Hash.Bytes(), b.ParentHash.Bytes(), b.Timestamp)
	return asConflict(err)
}

func (s *Store) UpsertEthereumTx(ctx context.Context, tx *ledger.EthereumTx) error {
	var to []byte
	if tx.To != nil {
		to = tx.To.Bytes()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ethereum_txs (hash, block_number, block_hash, tx_from, tx_to, value, data, nonce, gas_used, success, tx_index)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (hash) DO NOTHING
	`, tx.Hash.Bytes(), tx.BlockNumber, tx.BlockHash.Bytes(), tx.From.Bytes(), to, tx.Value.String(), tx.Data, tx.Nonce, tx.GasUsed, tx.Success, tx.TxIndex)
	return asConflict(err)
}

func (s *Store) UpsertInternalTx(ctx context.Context, itx *ledger.InternalTx) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO internal_txs (tx_hash, trace_address, block_number, tx_position, type, tx_from, tx_to, value, gas, gas_used, data, output, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (tx_hash, trace_address) DO NOTHING
	`, itx.TxHash.Bytes(), traceAddressKey(itx.TraceAddress), itx.BlockNumber, itx.TransactionPosition, itx.Type, itx.From.Bytes(), itx.To.Bytes(), itx.Value.String(), itx.Gas, itx.GasUsed, itx.Data, itx.Output, itx.Error)
	return asConflict(err)
}

func (s *Store) GetInternalTx(ctx context.Context, txHash common.Hash, traceAddress []int) (*ledger.InternalTx, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT block_number, tx_position, type, tx_from, tx_to, value, gas, gas_used, data, output, error
		FROM internal_txs WHERE tx_hash = $1 AND trace_address = $2
	`, txHash.Bytes(), traceAddressKey(traceAddress))

	itx := &ledger.InternalTx{TxHash: txHash, TraceAddress: traceAddress}
	var from, to []byte
	var value string
	if err := row.Scan(&itx.BlockNumber, &itx.TransactionPosition, &itx.Type, &from, &to, &value, &itx.Gas, &itx.GasUsed, &itx.Data, &itx.Output, &itx.Error); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("scanning internal tx: %w", err)
	}
	itx.From = common.BytesToAddress(from)
	itx.To = common.BytesToAddress(to)
	itx.Value = parseBig(value)
	return itx, nil
}

func (s *Store) UpsertInternalTxDecoded(ctx context.Context, d *ledger.InternalTxDecoded) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO internal_tx_decoded (tx_hash, trace_address, version, function_name, arguments, processed)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tx_hash, trace_address) DO UPDATE SET processed = internal_tx_decoded.processed OR EXCLUDED.processed
	`, d.TxHash.Bytes(), traceAddressKey(d.TraceAddress), d.Version, d.FunctionName, d.Arguments, d.Processed)
	return asConflict(err)
}

func (s *Store) UpsertEthereumEvent(ctx context.Context, e *ledger.EthereumEvent) error {
	topics := make([][]byte, len(e.Topics))
	for i, t := range e.Topics {
		topics[i] = t.Bytes()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ethereum_events (tx_hash, log_index, block_number, address, topics, arguments)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tx_hash, log_index) DO NOTHING
	`, e.TxHash.Bytes(), e.LogIndex, e.BlockNumber, e.Address.Bytes(), topics, e.Arguments)
	return asConflict(err)
}

func (s *Store) UpsertSafeContract(ctx context.Context, sc *ledger.SafeContract) error {
	var factory []byte
	if sc.FactoryAddr != nil {
		factory = sc.FactoryAddr.Bytes()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO safe_contracts (address, master_copy, setup_tx_hash, factory_address)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (address) DO NOTHING
	`, sc.Address.Bytes(), sc.MasterCopy.Bytes(), sc.SetupTxHash.Bytes(), factory)
	return asConflict(err)
}

func (s *Store) GetSafeContract(ctx context.Context, address common.Address) (*ledger.SafeContract, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT master_copy, setup_tx_hash, factory_address FROM safe_contracts WHERE address = $1
	`, address.Bytes())

	sc := &ledger.SafeContract{Address: address}
	var masterCopy, setupTxHash, factory []byte
	if err := row.Scan(&masterCopy, &setupTxHash, &factory); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("scanning safe contract: %w", err)
	}
	sc.MasterCopy = common.BytesToAddress(masterCopy)
	sc.SetupTxHash = common.BytesToHash(setupTxHash)
	if factory != nil {
		f := common.BytesToAddress(factory)
		sc.FactoryAddr = &f
	}
	return sc, nil
}

func (s *Store) ListSafeContracts(ctx context.Context) ([]*ledger.SafeContract, error) {
	rows, err := s.pool.Query(ctx, `SELECT address, master_copy, setup_tx_hash, factory_address FROM safe_contracts ORDER BY address`)
	if err != nil {
		return nil, fmt.Errorf("listing safe contracts: %w", err)
	}
	defer rows.Close()

	var out []*ledger.SafeContract
	for rows.Next() {
		var addr, masterCopy, setupTxHash, factory []byte
		sc := &ledger.SafeContract{}
		if err := rows.Scan(&addr, &masterCopy, &setupTxHash, &factory); err != nil {
			return nil, fmt.Errorf("scanning safe contract: %w", err)
		}
		sc.Address = common.BytesToAddress(addr)
		sc.MasterCopy = common.BytesToAddress(masterCopy)
		sc.SetupTxHash = common.BytesToHash(setupTxHash)
		if factory != nil {
			f := common.BytesToAddress(factory)
			sc.FactoryAddr = &f
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *Store) AppendSafeStatus(ctx context.Context, st *ledger.SafeStatus) error {
	owners := make([][]byte, len(st.Owners))
	for i, o := range st.Owners {
		owners[i] = o.Bytes()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO safe_statuses (safe, tx_hash, trace_address, owners, threshold, master_copy, nonce, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (safe, tx_hash, trace_address) DO NOTHING
	`, st.Safe.Bytes(), st.TxHash.Bytes(), traceAddressKey(st.TraceAddress), owners, st.Threshold, st.MasterCopy.Bytes(), st.Nonce, st.CreatedAt)
	return asConflict(err)
}

// UpsertMultisigTransaction fills in the execution columns (executed_tx_hash,
// is_successful, signatures) only where the stored row is still null, so a
// pre-proposed transaction's eventual execTransaction sighting attaches its
// outcome instead of two independent writers fighting over the same row.
func (s *Store) UpsertMultisigTransaction(ctx context.Context, m *ledger.MultisigTransaction) error {
	var executedTxHash []byte
	if m.ExecutedTxHash != nil {
		executedTxHash = m.ExecutedTxHash.Bytes()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO multisig_transactions (safe_tx_hash, safe, to_address, value, data, operation, safe_tx_gas, base_gas, gas_price, gas_token, refund_receiver, nonce, executed_tx_hash, is_executed, is_successful, signatures)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (safe_tx_hash) DO UPDATE SET
			executed_tx_hash = COALESCE(multisig_transactions.executed_tx_hash, EXCLUDED.executed_tx_hash),
			is_executed = multisig_transactions.is_executed OR EXCLUDED.is_executed,
			is_successful = COALESCE(multisig_transactions.is_successful, EXCLUDED.is_successful),
			signatures = COALESCE(multisig_transactions.signatures, EXCLUDED.signatures)
	`, m.SafeTxHash.Bytes(), m.Safe.Bytes(), m.To.Bytes(), bigString(m.Value), m.Data, m.Operation, bigString(m.SafeTxGas), bigString(m.BaseGas), bigString(m.GasPrice), m.GasToken.Bytes(), m.RefundRcvr.Bytes(), m.Nonce, executedTxHash, m.IsExecuted, m.IsSuccessful, m.Signatures)
	return asConflict(err)
}

// DeleteStaleMultisigTransactions removes rows left over from an earlier
// processing pass that computed the wrong safe_tx_hash for this
// (safe, nonce, ethereum_tx) off a stale master_copy.
func (s *Store) DeleteStaleMultisigTransactions(ctx context.Context, safe common.Address, ethereumTxHash common.Hash, nonce uint64, keepSafeTxHash common.Hash) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM multisig_transactions
		WHERE safe = $1 AND nonce = $2 AND executed_tx_hash = $3 AND safe_tx_hash != $4
	`, safe.Bytes(), nonce, ethereumTxHash.Bytes(), keepSafeTxHash.Bytes())
	return err
}

// ExecutionFailed reports whether ethereumTxHash's persisted logs include a
// Safe execution-failure event for safeTxHash, per the JSON shape the
// events stream writes into ethereum_events.arguments.
func (s *Store) ExecutionFailed(ctx context.Context, ethereumTxHash common.Hash, safeTxHash common.Hash) (bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM ethereum_events
			WHERE tx_hash = $1
			  AND arguments->>'outcome' = 'failure'
			  AND arguments->>'safe_tx_hash' = $2
		)
	`, ethereumTxHash.Bytes(), safeTxHash.Hex())
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, fmt.Errorf("checking execution failure: %w", err)
	}
	return exists, nil
}

func (s *Store) UpsertMultisigConfirmation(ctx context.Context, c *ledger.MultisigConfirmation) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO multisig_confirmations (multisig_transaction_hash, owner, signature_type, signature, transaction_hash, block_number)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (multisig_transaction_hash, owner) DO UPDATE SET
			signature_type = EXCLUDED.signature_type,
			signature = EXCLUDED.signature
	`, c.SafeTxHash.Bytes(), c.Owner.Bytes(), c.SignatureType, c.Signature, c.TransactionHash.Bytes(), c.BlockNumber)
	return asConflict(err)
}

func (s *Store) UpsertTokenInfo(ctx context.Context, t *ledger.TokenInfo) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO token_info (address, name, symbol, decimals, token_type)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (address) DO NOTHING
	`, t.Address.Bytes(), t.Name, t.Symbol, t.Decimals, string(t.Type))
	return asConflict(err)
}

func (s *Store) GetTokenInfo(ctx context.Context, address common.Address) (*ledger.TokenInfo, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT name, symbol, decimals, token_type FROM token_info WHERE address = $1
	`, address.Bytes())

	t := &ledger.TokenInfo{Address: address}
	var tokenType string
	if err := row.Scan(&t.Name, &t.Symbol, &t.Decimals, &tokenType); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("scanning token info: %w", err)
	}
	t.Type = ledger.TokenType(tokenType)
	return t, nil
}

func (s *Store) UpsertDelegate(ctx context.Context, d *ledger.Delegate) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO delegates (safe, delegate, delegator, label, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (safe, delegate) DO UPDATE SET label = EXCLUDED.label
	`, d.Safe.Bytes(), d.Delegate.Bytes(), d.Delegator.Bytes(), d.Label, d.CreatedAt)
	return asConflict(err)
}

func (s *Store) SetIndexingStatus(ctx context.Context, st *ledger.IndexingStatus) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO indexing_status (chain_id, current_block, current_block_timestamp, synced)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (chain_id) DO UPDATE SET current_block = EXCLUDED.current_block, current_block_timestamp = EXCLUDED.current_block_timestamp, synced = EXCLUDED.synced
	`, st.ChainID, st.CurrentBlock, st.CurrentBlockTimestamp, st.Synced)
	return asConflict(err)
}

func (s *Store) UpsertERC20Transfer(ctx context.Context, t *ledger.ERC20Transfer) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO erc20_transfers (tx_hash, log_index, token, tx_from, tx_to, value, block_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tx_hash, log_index) DO NOTHING
	`, t.TxHash.Bytes(), t.LogIndex, t.Token.Bytes(), t.From.Bytes(), t.To.Bytes(), bigString(t.Value), t.BlockNumber)
	return asConflict(err)
}

func (s *Store) UpsertERC721Transfer(ctx context.Context, t *ledger.ERC721Transfer) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO erc721_transfers (tx_hash, log_index, token, tx_from, tx_to, token_id, block_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tx_hash, log_index) DO NOTHING
	`, t.TxHash.Bytes(), t.LogIndex, t.Token.Bytes(), t.From.Bytes(), t.To.Bytes(), bigString(t.TokenID), t.BlockNumber)
	return asConflict(err)
}

func (s *Store) GetMultisigTransaction(ctx context.Context, safeTxHash common.Hash) (*ledger.MultisigTransaction, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT safe, to_address, value, data, operation, safe_tx_gas, base_gas, gas_price, gas_token, refund_receiver, nonce, executed_tx_hash, is_executed, is_successful, signatures
		FROM multisig_transactions WHERE safe_tx_hash = $1
	`, safeTxHash.Bytes())

	m := &ledger.MultisigTransaction{SafeTxHash: safeTxHash}
	var safe, to, gasToken, refundReceiver, executedTxHash []byte
	var value, safeTxGas, baseGas, gasPrice string
	if err := row.Scan(&safe, &to, &value, &m.Data, &m.Operation, &safeTxGas, &baseGas, &gasPrice, &gasToken, &refundReceiver, &m.Nonce, &executedTxHash, &m.IsExecuted, &m.IsSuccessful, &m.Signatures); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("scanning multisig transaction: %w", err)
	}
	m.Safe = common.BytesToAddress(safe)
	m.To = common.BytesToAddress(to)
	m.Value = parseBig(value)
	m.SafeTxGas = parseBig(safeTxGas)
	m.BaseGas = parseBig(baseGas)
	m.GasPrice = parseBig(gasPrice)
	m.GasToken = common.BytesToAddress(gasToken)
	m.RefundRcvr = common.BytesToAddress(refundReceiver)
	if executedTxHash != nil {
		h := common.BytesToHash(executedTxHash)
		m.ExecutedTxHash = &h
	}
	return m, nil
}

func (s *Store) GetConfirmations(ctx context.Context, safeTxHash common.Hash) ([]*ledger.MultisigConfirmation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT owner, signature_type, signature, transaction_hash, block_number
		FROM multisig_confirmations WHERE multisig_transaction_hash = $1
	`, safeTxHash.Bytes())
	if err != nil {
		return nil, fmt.Errorf("querying confirmations: %w", err)
	}
	defer rows.Close()

	var out []*ledger.MultisigConfirmation
	for rows.Next() {
		var owner, txHash []byte
		c := &ledger.MultisigConfirmation{SafeTxHash: safeTxHash}
		if err := rows.Scan(&owner, &c.SignatureType, &c.Signature, &txHash, &c.BlockNumber); err != nil {
			return nil, fmt.Errorf("scanning confirmation: %w", err)
		}
		c.Owner = common.BytesToAddress(owner)
		c.TransactionHash = common.BytesToHash(txHash)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) LastSafeStatusFor(ctx context.Context, safe common.Address) (*ledger.SafeStatus, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT tx_hash, trace_address, owners, threshold, master_copy, nonce, created_at
		FROM safe_statuses WHERE safe = $1 ORDER BY created_at DESC, id DESC LIMIT 1
	`, safe.Bytes())

	var txHash, masterCopy []byte
	var owners [][]byte
	var traceAddress string
	var threshold, nonce uint64
	var createdAt interface{ String() string }
	st := &ledger.SafeStatus{Safe: safe}
	if err := row.Scan(&txHash, &traceAddress, &owners, &threshold, &masterCopy, &nonce, &st.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("scanning safe status: %w", err)
	}
	st.TxHash = common.BytesToHash(txHash)
	st.MasterCopy = common.BytesToAddress(masterCopy)
	st.Threshold = threshold
	st.Nonce = nonce
	st.TraceAddress = parseTraceAddressKey(traceAddress)
	st.Owners = make([]common.Address, len(owners))
	for i, o := range owners {
		st.Owners[i] = common.BytesToAddress(o)
	}
	_ = createdAt
	return st, nil
}

func (s *Store) PendingDecodedInvocations(ctx context.Context, safe common.Address, limit int) ([]*ledger.InternalTxDecoded, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT d.tx_hash, d.trace_address, d.version, d.function_name, d.arguments, d.processed
		FROM internal_tx_decoded d
		JOIN internal_txs it ON it.tx_hash = d.tx_hash AND it.trace_address = d.trace_address
		WHERE d.processed = false AND it.tx_to = $1
		ORDER BY it.block_number ASC, it.tx_position ASC, string_to_array(d.trace_address, '.')::int[] ASC
		LIMIT $2
	`, safe.Bytes(), limit)
	if err != nil {
		return nil, fmt.Errorf("querying pending invocations: %w", err)
	}
	defer rows.Close()

	var out []*ledger.InternalTxDecoded
	for rows.Next() {
		var txHash []byte
		var traceAddress string
		d := &ledger.InternalTxDecoded{}
		var args json.RawMessage
		if err := rows.Scan(&txHash, &traceAddress, &d.Version, &d.FunctionName, &args, &d.Processed); err != nil {
			return nil, fmt.Errorf("scanning pending invocation: %w", err)
		}
		d.TxHash = common.BytesToHash(txHash)
		d.TraceAddress = parseTraceAddressKey(traceAddress)
		d.Arguments = args
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) MarkInvocationProcessed(ctx context.Context, txHash common.Hash, traceAddress []int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE internal_tx_decoded SET processed = true WHERE tx_hash = $1 AND trace_address = $2
	`, txHash.Bytes(), traceAddressKey(traceAddress))
	return err
}

func (s *Store) GetMonitoredAddress(ctx context.Context, address common.Address) (*ledger.MonitoredAddress, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT internal_tx_cursor, events_cursor, proxy_factory_cursor FROM monitored_addresses WHERE address = $1
	`, address.Bytes())
	m := &ledger.MonitoredAddress{Address: address}
	if err := row.Scan(&m.InternalTxCursor, &m.EventsCursor, &m.ProxyFactoryCursor); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("scanning monitored address: %w", err)
	}
	return m, nil
}

func (s *Store) UpsertMonitoredAddress(ctx context.Context, m *ledger.MonitoredAddress) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO monitored_addresses (address, internal_tx_cursor, events_cursor, proxy_factory_cursor)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (address) DO UPDATE SET
			internal_tx_cursor = EXCLUDED.internal_tx_cursor,
			events_cursor = EXCLUDED.events_cursor,
			proxy_factory_cursor = EXCLUDED.proxy_factory_cursor
	`, m.Address.Bytes(), m.InternalTxCursor, m.EventsCursor, m.ProxyFactoryCursor)
	return asConflict(err)
}

func (s *Store) ListMonitoredAddresses(ctx context.Context) ([]*ledger.MonitoredAddress, error) {
	rows, err := s.pool.Query(ctx, `SELECT address, internal_tx_cursor, events_cursor, proxy_factory_cursor FROM monitored_addresses ORDER BY address`)
	if err != nil {
		return nil, fmt.Errorf("listing monitored addresses: %w", err)
	}
	defer rows.Close()

	var out []*ledger.MonitoredAddress
	for rows.Next() {
		var addr []byte
		m := &ledger.MonitoredAddress{}
		if err := rows.Scan(&addr, &m.InternalTxCursor, &m.EventsCursor, &m.ProxyFactoryCursor); err != nil {
			return nil, fmt.Errorf("scanning monitored address: %w", err)
		}
		m.Address = common.BytesToAddress(addr)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) GetERC20Transfers(ctx context.Context, address common.Address, limit, offset int) ([]*ledger.ERC20Transfer, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT tx_hash, log_index, token, tx_from, tx_to, value, block_number FROM erc20_transfers
		WHERE tx_from = $1 OR tx_to = $1 ORDER BY block_number DESC LIMIT $2 OFFSET $3
	`, address.Bytes(), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ledger.ERC20Transfer
	for rows.Next() {
		var txHash, token, from, to []byte
		var value string
		t := &ledger.ERC20Transfer{}
		if err := rows.Scan(&txHash, &t.LogIndex, &token, &from, &to, &value, &t.BlockNumber); err != nil {
			return nil, err
		}
		t.TxHash = common.BytesToHash(txHash)
		t.Token = common.BytesToAddress(token)
		t.From = common.BytesToAddress(from)
		t.To = common.BytesToAddress(to)
		t.Value = parseBig(value)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetERC721Transfers(ctx context.Context, address common.Address, limit, offset int) ([]*ledger.ERC721Transfer, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT tx_hash, log_index, token, tx_from, tx_to, token_id, block_number FROM erc721_transfers
		WHERE tx_from = $1 OR tx_to = $1 ORDER BY block_number DESC LIMIT $2 OFFSET $3
	`, address.Bytes(), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ledger.ERC721Transfer
	for rows.Next() {
		var txHash, token, from, to []byte
		var tokenID string
		t := &ledger.ERC721Transfer{}
		if err := rows.Scan(&txHash, &t.LogIndex, &token, &from, &to, &tokenID, &t.BlockNumber); err != nil {
			return nil, err
		}
		t.TxHash = common.BytesToHash(txHash)
		t.Token = common.BytesToAddress(token)
		t.From = common.BytesToAddress(from)
		t.To = common.BytesToAddress(to)
		t.TokenID = parseBig(tokenID)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetERC721Owner(ctx context.Context, token common.Address, tokenID string) (common.Address, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT tx_to FROM erc721_transfers WHERE token = $1 AND token_id = $2 ORDER BY block_number DESC LIMIT 1
	`, token.Bytes(), tokenID)
	var to []byte
	if err := row.Scan(&to); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return common.Address{}, ledger.ErrNotFound
		}
		return common.Address{}, err
	}
	return common.BytesToAddress(to), nil
}

var _ ledger.Store = (*Store)(nil)
