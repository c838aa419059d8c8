package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"conciliacao-service/internal/core/normalizer"
	"conciliacao-service/internal/domain"
	"conciliacao-service/internal/store"

	"go.uber.org/zap"
)

// Repository reúne os colaboradores de persistência usados na revisão.
type Repository interface {
	store.StatementStore
	store.LedgerStore
	store.MatchStore
}

// Period limita a busca por datas ISO; vazio não limita.
type Period struct {
	From string `form:"dateFrom" json:"dateFrom"`
	To   string `form:"dateTo" json:"dateTo"`
}

// Action é uma transição aplicada em lote.
type Action string

// Ações em lote.
const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// BulkResult separa os ids transicionados dos que falharam (com o motivo).
type BulkResult struct {
	Succeeded []string          `json:"succeeded"`
	Failed    map[string]string `json:"failed"`
}

// Service define as operações de conciliação sobre pares persistidos.
type Service interface {
	AutoMatch(ctx context.Context, accountID string, period Period) ([]domain.MatchCandidate, error)
	Suggest(ctx context.Context, bankTransactionID string) ([]domain.MatchCandidate, error)
	CreateManual(ctx context.Context, bankTransactionID, ledgerID string) (domain.MatchCandidate, error)
	Record(ctx context.Context, m domain.MatchCandidate) (domain.MatchCandidate, error)
	List(ctx context.Context, accountID string, filter Filter) ([]domain.MatchCandidate, error)
	Approve(ctx context.Context, id string) (domain.MatchCandidate, error)
	Reject(ctx context.Context, id string) (domain.MatchCandidate, error)
	Delete(ctx context.Context, id string) error
	Bulk(ctx context.Context, ids []string, action Action) BulkResult
}

type service struct {
	repo    Repository
	matcher *Matcher
	logger  *zap.Logger
	now     func() time.Time
}

// NewService cria o serviço de conciliação.
func NewService(repo Repository, matcher *Matcher, logger *zap.Logger) Service {
	if matcher == nil {
		matcher = NewMatcher(DefaultConfig())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &service{repo: repo, matcher: matcher, logger: logger, now: time.Now}
}

func boolPtr(b bool) *bool { return &b }

// shiftDate desloca uma data ISO em dias; datas inválidas voltam como estão.
func shiftDate(iso string, days int) string {
	t, ok := normalizer.ParseISODate(iso)
	if !ok {
		return iso
	}
	return t.AddDate(0, 0, days).Format("2006-01-02")
}

// AutoMatch gera e grava pares automáticos para as transações não conciliadas
// da conta no período. Transações ou lançamentos que já têm par pendente ou
// aprovado ficam de fora.
func (s *service) AutoMatch(ctx context.Context, accountID string, period Period) ([]domain.MatchCandidate, error) {
	statements, _, err := s.repo.FindStatements(ctx, store.StatementFilter{
		AccountID:  accountID,
		Reconciled: boolPtr(false),
		DateFrom:   period.From,
		DateTo:     period.To,
	})
	if err != nil {
		return nil, fmt.Errorf("erro ao buscar o extrato: %w", err)
	}

	tol := s.matcher.Config().DateToleranceDays
	lf := store.LedgerFilter{AccountID: accountID, Reconciled: boolPtr(false)}
	if period.From != "" {
		lf.DateFrom = shiftDate(period.From, -tol)
	}
	if period.To != "" {
		lf.DateTo = shiftDate(period.To, tol)
	}
	ledger, _, err := s.repo.FindLedger(ctx, lf)
	if err != nil {
		return nil, fmt.Errorf("erro ao buscar os lançamentos: %w", err)
	}

	existing, _, err := s.repo.FindMatches(ctx, store.MatchFilter{AccountID: accountID})
	if err != nil {
		return nil, fmt.Errorf("erro ao buscar os pares existentes: %w", err)
	}
	busyBank := make(map[string]bool)
	busyLedger := make(map[string]bool)
	for _, m := range existing {
		if m.Status == domain.MatchRejected {
			continue
		}
		busyBank[m.BankTransaction.ID] = true
		busyLedger[m.InternalTransaction.ID] = true
	}

	freeBank := statements[:0:0]
	for _, b := range statements {
		if !busyBank[b.ID] {
			freeBank = append(freeBank, b)
		}
	}
	freeLedger := ledger[:0:0]
	for _, l := range ledger {
		if !busyLedger[l.ID] {
			freeLedger = append(freeLedger, l)
		}
	}

	proposed := s.matcher.AutoMatch(freeBank, freeLedger)
	saved := make([]domain.MatchCandidate, 0, len(proposed))
	for _, m := range proposed {
		out, err := s.repo.SaveMatch(ctx, m)
		if err != nil {
			return saved, fmt.Errorf("erro ao gravar o par: %w", err)
		}
		saved = append(saved, out)
	}

	s.logger.Info("pareamento automático concluído",
		zap.String("account", accountID),
		zap.Int("statements", len(freeBank)),
		zap.Int("ledger", len(freeLedger)),
		zap.Int("matches", len(saved)),
	)
	return saved, nil
}

func (s *service) statement(ctx context.Context, id string) (domain.BankStatementRecord, error) {
	found, _, err := s.repo.FindStatements(ctx, store.StatementFilter{IDs: []string{id}})
	if err != nil {
		return domain.BankStatementRecord{}, err
	}
	if len(found) == 0 {
		return domain.BankStatementRecord{}, fmt.Errorf("%w: transação %s", domain.ErrNotFound, id)
	}
	return found[0], nil
}

func (s *service) ledgerEntry(ctx context.Context, id string) (domain.LedgerTransaction, error) {
	found, _, err := s.repo.FindLedger(ctx, store.LedgerFilter{IDs: []string{id}})
	if err != nil {
		return domain.LedgerTransaction{}, err
	}
	if len(found) == 0 {
		return domain.LedgerTransaction{}, fmt.Errorf("%w: lançamento %s", domain.ErrNotFound, id)
	}
	return found[0], nil
}

// Suggest lista candidatos para uma transação sem gravá-los.
func (s *service) Suggest(ctx context.Context, bankTransactionID string) ([]domain.MatchCandidate, error) {
	bank, err := s.statement(ctx, bankTransactionID)
	if err != nil {
		return nil, err
	}
	ledger, _, err := s.repo.FindLedger(ctx, store.LedgerFilter{AccountID: bank.AccountID, Reconciled: boolPtr(false)})
	if err != nil {
		return nil, fmt.Errorf("erro ao buscar os lançamentos: %w", err)
	}
	return s.matcher.Candidates(bank, ledger), nil
}

// CreateManual grava um par escolhido pelo usuário, pontuado como os demais.
func (s *service) CreateManual(ctx context.Context, bankTransactionID, ledgerID string) (domain.MatchCandidate, error) {
	bank, err := s.statement(ctx, bankTransactionID)
	if err != nil {
		return domain.MatchCandidate{}, err
	}
	ledger, err := s.ledgerEntry(ctx, ledgerID)
	if err != nil {
		return domain.MatchCandidate{}, err
	}
	if bank.Reconciled || ledger.Reconciled {
		return domain.MatchCandidate{}, fmt.Errorf("%w: transação ou lançamento já conciliado", domain.ErrInvalidTransition)
	}
	if !Compatible(bank, ledger) {
		return domain.MatchCandidate{}, &domain.ValidationError{
			Field:   "match",
			Reasons: []string{"tipo da transação incompatível com o lançamento"},
		}
	}

	m := s.matcher.candidate(bank, ledger, s.matcher.Score(bank, ledger), domain.MatchManual)
	return s.repo.SaveMatch(ctx, m)
}

// Record grava um par vindo de uma sessão de importação. Pares já aprovados
// na sessão são gravados pendentes e aprovados em seguida.
func (s *service) Record(ctx context.Context, m domain.MatchCandidate) (domain.MatchCandidate, error) {
	approve := m.Status == domain.MatchApproved
	if approve {
		m.Status = domain.MatchPending
		m.ReviewedAt = nil
	}
	saved, err := s.repo.SaveMatch(ctx, m)
	if err != nil || !approve {
		return saved, err
	}
	return s.Approve(ctx, saved.ID)
}

// List devolve os pares da conta filtrados e ordenados.
func (s *service) List(ctx context.Context, accountID string, filter Filter) ([]domain.MatchCandidate, error) {
	all, _, err := s.repo.FindMatches(ctx, store.MatchFilter{AccountID: accountID})
	if err != nil {
		return nil, fmt.Errorf("erro ao buscar os pares: %w", err)
	}
	return filter.Apply(all), nil
}

func (s *service) pending(ctx context.Context, id string) (domain.MatchCandidate, error) {
	m, err := s.repo.GetMatch(ctx, id)
	if err != nil {
		return domain.MatchCandidate{}, err
	}
	if m.Status != domain.MatchPending {
		return domain.MatchCandidate{}, fmt.Errorf("%w: par %s já está %s", domain.ErrInvalidTransition, id, m.Status)
	}
	return m, nil
}

// Approve marca o par como aprovado, a transação do extrato como conciliada
// e o lançamento como recebido/pago.
func (s *service) Approve(ctx context.Context, id string) (domain.MatchCandidate, error) {
	m, err := s.pending(ctx, id)
	if err != nil {
		return domain.MatchCandidate{}, err
	}
	bank, err := s.statement(ctx, m.BankTransaction.ID)
	if err != nil {
		return domain.MatchCandidate{}, err
	}
	ledger, err := s.ledgerEntry(ctx, m.InternalTransaction.ID)
	if err != nil {
		return domain.MatchCandidate{}, err
	}
	if bank.Reconciled || ledger.Reconciled {
		return domain.MatchCandidate{}, fmt.Errorf("%w: transação ou lançamento já conciliado por outro par", domain.ErrInvalidTransition)
	}

	bank, err = s.repo.UpdateStatement(ctx, bank.ID, store.StatementPatch{Reconciled: boolPtr(true)})
	if err != nil {
		return domain.MatchCandidate{}, fmt.Errorf("erro ao conciliar a transação: %w", err)
	}
	status := ledger.SettledStatus()
	ledger, err = s.repo.UpdateLedger(ctx, ledger.ID, store.LedgerPatch{Status: &status, Reconciled: boolPtr(true)})
	if err != nil {
		if _, rerr := s.repo.UpdateStatement(ctx, bank.ID, store.StatementPatch{Reconciled: boolPtr(false)}); rerr != nil {
			s.logger.Error("falha ao desfazer conciliação da transação", zap.String("statement", bank.ID), zap.Error(rerr))
		}
		return domain.MatchCandidate{}, fmt.Errorf("erro ao atualizar o lançamento: %w", err)
	}

	now := s.now().UTC()
	m.Status = domain.MatchApproved
	m.ReviewedAt = &now
	m.BankTransaction = bank
	m.InternalTransaction = ledger
	out, err := s.repo.SaveMatch(ctx, m)
	if err != nil {
		return domain.MatchCandidate{}, err
	}
	s.logger.Info("par aprovado", zap.String("match", id), zap.String("statement", bank.ID), zap.String("ledger", ledger.ID))
	return out, nil
}

// Reject encerra o par sem tocar nas transações.
func (s *service) Reject(ctx context.Context, id string) (domain.MatchCandidate, error) {
	m, err := s.pending(ctx, id)
	if err != nil {
		return domain.MatchCandidate{}, err
	}
	now := s.now().UTC()
	m.Status = domain.MatchRejected
	m.ReviewedAt = &now
	return s.repo.SaveMatch(ctx, m)
}

// Delete remove o par. Se estava aprovado, transação e lançamento voltam a
// ficar disponíveis.
func (s *service) Delete(ctx context.Context, id string) error {
	m, err := s.repo.GetMatch(ctx, id)
	if err != nil {
		return err
	}
	if m.Status == domain.MatchApproved {
		if _, err := s.repo.UpdateStatement(ctx, m.BankTransaction.ID, store.StatementPatch{Reconciled: boolPtr(false)}); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("erro ao reabrir a transação: %w", err)
		}
		status := domain.LedgerStatusPending
		if _, err := s.repo.UpdateLedger(ctx, m.InternalTransaction.ID, store.LedgerPatch{Status: &status, Reconciled: boolPtr(false)}); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("erro ao reabrir o lançamento: %w", err)
		}
	}
	return s.repo.DeleteMatch(ctx, id)
}

// Bulk aplica a mesma transição a cada id; uma falha não interrompe os demais.
func (s *service) Bulk(ctx context.Context, ids []string, action Action) BulkResult {
	res := BulkResult{Failed: make(map[string]string)}
	for _, id := range ids {
		var err error
		switch action {
		case ActionApprove:
			_, err = s.Approve(ctx, id)
		case ActionReject:
			_, err = s.Reject(ctx, id)
		default:
			err = fmt.Errorf("ação desconhecida: %s", action)
		}
		if err != nil {
			res.Failed[id] = err.Error()
			continue
		}
		res.Succeeded = append(res.Succeeded, id)
	}
	return res
}
