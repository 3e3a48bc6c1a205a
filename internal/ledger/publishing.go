package ledger

import "context"

// publishingStore decorates a Store with EventPublisher calls on the two
// mutations external collaborators care about: a Safe's status changing
// and a multisig transaction's lifecycle advancing. The underlying write
// always happens first; send failures are swallowed by the publisher
// implementation itself (the Kafka publisher logs and returns nil on a
// failed send; NoOp never fails) so a broker outage never blocks
// indexing. Any error a publisher does return is passed back to the
// caller.
type publishingStore struct {
	Store
	publisher EventPublisher
}

// WithPublisher wraps store so every AppendSafeStatus/
// UpsertMultisigTransaction call also notifies publisher. Pass outbox.NoOp{}
// when no broker is configured.
func WithPublisher(store Store, publisher EventPublisher) Store {
	return &publishingStore{Store: store, publisher: publisher}
}

func (s *publishingStore) AppendSafeStatus(ctx context.Context, st *SafeStatus) error {
	if err := s.Store.AppendSafeStatus(ctx, st); err != nil {
		return err
	}
	return s.publisher.PublishSafeStatusChanged(ctx, st.Safe, st.TxHash)
}

func (s *publishingStore) UpsertMultisigTransaction(ctx context.Context, m *MultisigTransaction) error {
	if err := s.Store.UpsertMultisigTransaction(ctx, m); err != nil {
		return err
	}
	return s.publisher.PublishMultisigTransactionChanged(ctx, m.SafeTxHash)
}

func (s *publishingStore) Close() error {
	if err := s.Store.Close(); err != nil {
		return err
	}
	return s.publisher.Close()
}
