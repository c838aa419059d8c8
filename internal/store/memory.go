package store

import (
	"context"
	"fmt"
	"sync"

	"conciliacao-service/internal/domain"
)

// MemoryStore guarda tudo em memória, em ordem de inserção. É seguro para uso
// concorrente e perde os dados ao reiniciar.
type MemoryStore struct {
	mu sync.RWMutex

	statements     map[string]domain.BankStatementRecord
	statementOrder []string
	hashes         map[string]string

	ledger      map[string]domain.LedgerTransaction
	ledgerOrder []string

	matches    map[string]domain.MatchCandidate
	matchOrder []string

	categories []domain.Category
}

// NewMemoryStore cria um store vazio.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		statements: make(map[string]domain.BankStatementRecord),
		hashes:     make(map[string]string),
		ledger:     make(map[string]domain.LedgerTransaction),
		matches:    make(map[string]domain.MatchCandidate),
	}
}

// Close não faz nada; existe para satisfazer Store.
func (s *MemoryStore) Close() error { return nil }

// ---------------------- extratos ----------------------

func (s *MemoryStore) CreateStatement(ctx context.Context, rec domain.BankStatementRecord) (domain.BankStatementRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.BankStatementRecord{}, &domain.PersistenceError{Kind: domain.PersistenceTimeout, Op: "create statement", Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkStatement(rec, nil); err != nil {
		return domain.BankStatementRecord{}, err
	}
	s.putStatement(rec)
	return rec, nil
}

func (s *MemoryStore) CreateStatements(ctx context.Context, recs []domain.BankStatementRecord) ([]domain.BankStatementRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.PersistenceError{Kind: domain.PersistenceTimeout, Op: "create statements", Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := make(map[string]bool, len(recs))
	for _, rec := range recs {
		if err := s.checkStatement(rec, batch); err != nil {
			return nil, err
		}
		batch[dedupKey(rec)] = true
	}
	for _, rec := range recs {
		s.putStatement(rec)
	}
	out := make([]domain.BankStatementRecord, len(recs))
	copy(out, recs)
	return out, nil
}

func (s *MemoryStore) checkStatement(rec domain.BankStatementRecord, batch map[string]bool) error {
	if rec.ID == "" {
		return &domain.PersistenceError{Kind: domain.PersistenceGeneric, Op: "create statement", Err: fmt.Errorf("id obrigatório")}
	}
	if _, ok := s.statements[rec.ID]; ok {
		return duplicateErr("create statement")
	}
	if _, ok := s.hashes[dedupKey(rec)]; ok || batch[dedupKey(rec)] {
		return duplicateErr("create statement")
	}
	return nil
}

func (s *MemoryStore) putStatement(rec domain.BankStatementRecord) {
	s.statements[rec.ID] = rec
	s.statementOrder = append(s.statementOrder, rec.ID)
	s.hashes[dedupKey(rec)] = rec.ID
}

func (s *MemoryStore) FindStatements(ctx context.Context, filter StatementFilter) ([]domain.BankStatementRecord, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.BankStatementRecord
	for _, id := range s.statementOrder {
		if r := s.statements[id]; filter.matches(r) {
			out = append(out, r)
		}
	}
	return out, len(out), nil
}

func (s *MemoryStore) UpdateStatement(ctx context.Context, id string, patch StatementPatch) (domain.BankStatementRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.statements[id]
	if !ok {
		return domain.BankStatementRecord{}, notFoundErr("update statement", id)
	}
	patch.apply(&r)
	s.statements[id] = r
	return r, nil
}

// ---------------------- lançamentos internos ----------------------

func (s *MemoryStore) CreateLedger(ctx context.Context, tx domain.LedgerTransaction) (domain.LedgerTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.ID == "" {
		return domain.LedgerTransaction{}, &domain.PersistenceError{Kind: domain.PersistenceGeneric, Op: "create ledger", Err: fmt.Errorf("id obrigatório")}
	}
	if _, ok := s.ledger[tx.ID]; ok {
		return domain.LedgerTransaction{}, duplicateErr("create ledger")
	}
	s.ledger[tx.ID] = tx
	s.ledgerOrder = append(s.ledgerOrder, tx.ID)
	return tx, nil
}

func (s *MemoryStore) FindLedger(ctx context.Context, filter LedgerFilter) ([]domain.LedgerTransaction, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.LedgerTransaction
	for _, id := range s.ledgerOrder {
		if l := s.ledger[id]; filter.matches(l) {
			out = append(out, l)
		}
	}
	return out, len(out), nil
}

func (s *MemoryStore) UpdateLedger(ctx context.Context, id string, patch LedgerPatch) (domain.LedgerTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.ledger[id]
	if !ok {
		return domain.LedgerTransaction{}, notFoundErr("update ledger", id)
	}
	patch.apply(&l)
	s.ledger[id] = l
	return l, nil
}

// ---------------------- pares ----------------------

func (s *MemoryStore) SaveMatch(ctx context.Context, m domain.MatchCandidate) (domain.MatchCandidate, error) {
	if m.ID == "" {
		return domain.MatchCandidate{}, &domain.PersistenceError{Kind: domain.PersistenceGeneric, Op: "save match", Err: fmt.Errorf("id obrigatório")}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.matches[m.ID]; !ok {
		s.matchOrder = append(s.matchOrder, m.ID)
	}
	m.MatchReasons = append([]string(nil), m.MatchReasons...)
	s.matches[m.ID] = m
	return m, nil
}

func (s *MemoryStore) GetMatch(ctx context.Context, id string) (domain.MatchCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.matches[id]
	if !ok {
		return domain.MatchCandidate{}, notFoundErr("get match", id)
	}
	return m, nil
}

func (s *MemoryStore) FindMatches(ctx context.Context, filter MatchFilter) ([]domain.MatchCandidate, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.MatchCandidate
	for _, id := range s.matchOrder {
		if m := s.matches[id]; filter.matches(m) {
			out = append(out, m)
		}
	}
	return out, len(out), nil
}

func (s *MemoryStore) DeleteMatch(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.matches[id]; !ok {
		return notFoundErr("delete match", id)
	}
	delete(s.matches, id)
	for i, mid := range s.matchOrder {
		if mid == id {
			s.matchOrder = append(s.matchOrder[:i], s.matchOrder[i+1:]...)
			break
		}
	}
	return nil
}

// ---------------------- categorias ----------------------

func (s *MemoryStore) CreateCategory(ctx context.Context, c domain.Category) (domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.categories {
		if existing.ID == c.ID {
			return domain.Category{}, duplicateErr("create category")
		}
	}
	s.categories = append(s.categories, c)
	return c, nil
}

func (s *MemoryStore) GetCategories(ctx context.Context, filter domain.CategoryFilter) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Category
	for _, c := range s.categories {
		if filter.Type == "" || c.Type == filter.Type {
			out = append(out, c)
		}
	}
	return out, nil
}

// Ensure MemoryStore implements Store interface.
var _ Store = (*MemoryStore)(nil)
