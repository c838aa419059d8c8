// Package store implementa os colaboradores de persistência consumidos pela
// conciliação: extratos, lançamentos internos, pares e categorias.
package store

import (
	"context"
	"fmt"
	"strings"

	"conciliacao-service/internal/domain"
)

// StatementFilter seleciona registros de extrato. Campos zero não filtram.
type StatementFilter struct {
	AccountID   string
	IDs         []string
	HashUniques []string
	Reconciled  *bool
	DateFrom    string
	DateTo      string
}

// StatementPatch altera os únicos campos mutáveis de um registro de extrato.
type StatementPatch struct {
	Reconciled        *bool
	SuggestedCategory *string
}

// StatementStore persiste registros de extrato. hashUnique é único por conta:
// violação devolve PersistenceError de restrição embrulhando ErrDuplicateKey.
type StatementStore interface {
	CreateStatement(ctx context.Context, rec domain.BankStatementRecord) (domain.BankStatementRecord, error)
	// CreateStatements é atômico: qualquer falha descarta o lote inteiro.
	CreateStatements(ctx context.Context, recs []domain.BankStatementRecord) ([]domain.BankStatementRecord, error)
	FindStatements(ctx context.Context, filter StatementFilter) ([]domain.BankStatementRecord, int, error)
	UpdateStatement(ctx context.Context, id string, patch StatementPatch) (domain.BankStatementRecord, error)
}

// LedgerFilter seleciona lançamentos internos.
type LedgerFilter struct {
	AccountID  string
	IDs        []string
	Kind       domain.LedgerKind
	Status     string
	Reconciled *bool
	DateFrom   string
	DateTo     string
}

// LedgerPatch altera status e marca de conciliação de um lançamento.
type LedgerPatch struct {
	Status     *string
	Reconciled *bool
}

// LedgerStore é o livro de receitas e despesas.
type LedgerStore interface {
	CreateLedger(ctx context.Context, tx domain.LedgerTransaction) (domain.LedgerTransaction, error)
	FindLedger(ctx context.Context, filter LedgerFilter) ([]domain.LedgerTransaction, int, error)
	UpdateLedger(ctx context.Context, id string, patch LedgerPatch) (domain.LedgerTransaction, error)
}

// MatchFilter seleciona pares persistidos.
type MatchFilter struct {
	AccountID         string
	Status            domain.MatchStatus
	BankTransactionID string
	LedgerID          string
}

// MatchStore guarda os pares propostos e revisados.
type MatchStore interface {
	SaveMatch(ctx context.Context, m domain.MatchCandidate) (domain.MatchCandidate, error)
	GetMatch(ctx context.Context, id string) (domain.MatchCandidate, error)
	FindMatches(ctx context.Context, filter MatchFilter) ([]domain.MatchCandidate, int, error)
	DeleteMatch(ctx context.Context, id string) error
}

// CategoryStore fornece as categorias usadas pela categorização automática.
type CategoryStore interface {
	CreateCategory(ctx context.Context, c domain.Category) (domain.Category, error)
	GetCategories(ctx context.Context, filter domain.CategoryFilter) ([]domain.Category, error)
}

// Store reúne todos os colaboradores.
type Store interface {
	StatementStore
	LedgerStore
	MatchStore
	CategoryStore
	Close() error
}

// ---------------------- predicados comuns ----------------------

func inSet(v string, set []string) bool {
	if len(set) == 0 {
		return true
	}
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func inDateRange(date, from, to string) bool {
	if from != "" && date < from {
		return false
	}
	if to != "" && date > to {
		return false
	}
	return true
}

func (f StatementFilter) matches(r domain.BankStatementRecord) bool {
	if f.AccountID != "" && r.AccountID != f.AccountID {
		return false
	}
	if f.Reconciled != nil && r.Reconciled != *f.Reconciled {
		return false
	}
	return inSet(r.ID, f.IDs) && inSet(r.HashUnique, f.HashUniques) && inDateRange(r.Date, f.DateFrom, f.DateTo)
}

func (p StatementPatch) apply(r *domain.BankStatementRecord) {
	if p.Reconciled != nil {
		r.Reconciled = *p.Reconciled
	}
	if p.SuggestedCategory != nil {
		c := *p.SuggestedCategory
		r.SuggestedCategory = &c
	}
}

func (f LedgerFilter) matches(l domain.LedgerTransaction) bool {
	if f.AccountID != "" && l.AccountID != f.AccountID {
		return false
	}
	if f.Kind != "" && l.Kind != f.Kind {
		return false
	}
	if f.Status != "" && !strings.EqualFold(l.Status, f.Status) {
		return false
	}
	if f.Reconciled != nil && l.Reconciled != *f.Reconciled {
		return false
	}
	return inSet(l.ID, f.IDs) && inDateRange(l.Date, f.DateFrom, f.DateTo)
}

func (p LedgerPatch) apply(l *domain.LedgerTransaction) {
	if p.Status != nil {
		l.Status = *p.Status
	}
	if p.Reconciled != nil {
		l.Reconciled = *p.Reconciled
	}
}

func (f MatchFilter) matches(m domain.MatchCandidate) bool {
	if f.AccountID != "" && m.BankTransaction.AccountID != f.AccountID {
		return false
	}
	if f.Status != "" && m.Status != f.Status {
		return false
	}
	if f.BankTransactionID != "" && m.BankTransaction.ID != f.BankTransactionID {
		return false
	}
	if f.LedgerID != "" && m.InternalTransaction.ID != f.LedgerID {
		return false
	}
	return true
}

// dedupKey identifica um registro de extrato para a restrição de unicidade.
func dedupKey(r domain.BankStatementRecord) string {
	return r.AccountID + "|" + r.HashUnique
}

func duplicateErr(op string) error {
	return &domain.PersistenceError{Kind: domain.PersistenceConstraint, Op: op, Err: domain.ErrDuplicateKey}
}

func notFoundErr(op, id string) error {
	return &domain.PersistenceError{Kind: domain.PersistenceGeneric, Op: op, Err: fmt.Errorf("%w: %s", domain.ErrNotFound, id)}
}
