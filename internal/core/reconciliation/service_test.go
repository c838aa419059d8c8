package reconciliation

import (
	"context"
	"testing"
	"time"

	"conciliacao-service/internal/domain"
	"conciliacao-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededService(t *testing.T) (*service, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	ctx := context.Background()

	_, err := st.CreateStatements(ctx, []domain.BankStatementRecord{
		bankTx("b1", "2025-01-15", 100, domain.TypeCredit, "PIX RECEBIDO JOAO"),
		bankTx("b2", "2025-01-16", 45.9, domain.TypeDebit, "PAGAMENTO ENERGIA"),
		bankTx("b3", "2025-02-20", 10, domain.TypeDebit, "TARIFA"),
	})
	require.NoError(t, err)
	for _, l := range []domain.LedgerTransaction{
		ledgerTx("r1", "2025-01-15", 100, domain.KindRevenue, "Venda João"),
		ledgerTx("e1", "2025-01-17", 45.9, domain.KindExpense, "Energia elétrica"),
		ledgerTx("e2", "2025-01-10", 900, domain.KindExpense, "Aluguel"),
	} {
		_, err := st.CreateLedger(ctx, l)
		require.NoError(t, err)
	}

	svc := NewService(st, nil, nil).(*service)
	svc.now = func() time.Time { return time.Date(2025, 1, 31, 12, 0, 0, 0, time.UTC) }
	return svc, st
}

func TestService_AutoMatchIsIdempotent(t *testing.T) {
	svc, _ := seededService(t)
	ctx := context.Background()

	got, err := svc.AutoMatch(ctx, "acc1", Period{From: "2025-01-01", To: "2025-01-31"})
	require.NoError(t, err)
	require.Len(t, got, 2)

	again, err := svc.AutoMatch(ctx, "acc1", Period{From: "2025-01-01", To: "2025-01-31"})
	require.NoError(t, err)
	assert.Empty(t, again)

	list, err := svc.List(ctx, "acc1", Filter{SortBy: SortByConfidence, Desc: true})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b1", list[0].BankTransaction.ID)
}

func TestService_ApproveUpdatesBothSides(t *testing.T) {
	svc, st := seededService(t)
	ctx := context.Background()

	m, err := svc.CreateManual(ctx, "b1", "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.MatchManual, m.MatchType)

	approved, err := svc.Approve(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MatchApproved, approved.Status)
	require.NotNil(t, approved.ReviewedAt)

	stmts, _, err := st.FindStatements(ctx, store.StatementFilter{IDs: []string{"b1"}})
	require.NoError(t, err)
	assert.True(t, stmts[0].Reconciled)

	ledger, _, err := st.FindLedger(ctx, store.LedgerFilter{IDs: []string{"r1"}})
	require.NoError(t, err)
	assert.Equal(t, domain.LedgerStatusReceived, ledger[0].Status)
	assert.True(t, ledger[0].Reconciled)

	// estados terminais não transicionam
	_, err = svc.Approve(ctx, m.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = svc.Reject(ctx, m.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	// a transação conciliada não aceita novo par manual
	_, err = svc.CreateManual(ctx, "b1", "r1")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestService_RejectLeavesRecordsAvailable(t *testing.T) {
	svc, st := seededService(t)
	ctx := context.Background()

	m, err := svc.CreateManual(ctx, "b2", "e1")
	require.NoError(t, err)
	rejected, err := svc.Reject(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MatchRejected, rejected.Status)

	stmts, _, _ := st.FindStatements(ctx, store.StatementFilter{IDs: []string{"b2"}})
	assert.False(t, stmts[0].Reconciled)

	// rejeitado continua gravado para auditoria e não bloqueia novo pareamento
	got, err := svc.AutoMatch(ctx, "acc1", Period{})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	all, err := svc.List(ctx, "acc1", Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestService_DeleteRestoresApproved(t *testing.T) {
	svc, st := seededService(t)
	ctx := context.Background()

	m, err := svc.CreateManual(ctx, "b2", "e1")
	require.NoError(t, err)
	_, err = svc.Approve(ctx, m.ID)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, m.ID))
	_, err = st.GetMatch(ctx, m.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	stmts, _, _ := st.FindStatements(ctx, store.StatementFilter{IDs: []string{"b2"}})
	assert.False(t, stmts[0].Reconciled)
	ledger, _, _ := st.FindLedger(ctx, store.LedgerFilter{IDs: []string{"e1"}})
	assert.Equal(t, domain.LedgerStatusPending, ledger[0].Status)
	assert.False(t, ledger[0].Reconciled)
}

func TestService_CreateManualRejectsIncompatibleKind(t *testing.T) {
	svc, _ := seededService(t)
	_, err := svc.CreateManual(context.Background(), "b1", "e1")
	var ve *domain.ValidationError
	assert.ErrorAs(t, err, &ve)

	_, err = svc.CreateManual(context.Background(), "nope", "e1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestService_Suggest(t *testing.T) {
	svc, _ := seededService(t)
	got, err := svc.Suggest(context.Background(), "b2")
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "e1", got[0].InternalTransaction.ID)
}

func TestService_BulkReportsFailures(t *testing.T) {
	svc, _ := seededService(t)
	ctx := context.Background()

	m1, err := svc.CreateManual(ctx, "b1", "r1")
	require.NoError(t, err)
	m2, err := svc.CreateManual(ctx, "b2", "e1")
	require.NoError(t, err)
	_, err = svc.Reject(ctx, m2.ID)
	require.NoError(t, err)

	res := svc.Bulk(ctx, []string{m1.ID, m2.ID, "missing"}, ActionApprove)
	assert.Equal(t, []string{m1.ID}, res.Succeeded)
	assert.Len(t, res.Failed, 2)
	assert.Contains(t, res.Failed, m2.ID)
	assert.Contains(t, res.Failed, "missing")
}

func TestService_RecordApprovedCandidate(t *testing.T) {
	svc, st := seededService(t)
	ctx := context.Background()

	m := svc.matcher.AutoMatch(
		[]domain.BankStatementRecord{bankTx("b1", "2025-01-15", 100, domain.TypeCredit, "PIX RECEBIDO JOAO")},
		[]domain.LedgerTransaction{ledgerTx("r1", "2025-01-15", 100, domain.KindRevenue, "Venda João")},
	)
	require.Len(t, m, 1)
	m[0].Status = domain.MatchApproved

	out, err := svc.Record(ctx, m[0])
	require.NoError(t, err)
	assert.Equal(t, domain.MatchApproved, out.Status)

	stmts, _, _ := st.FindStatements(ctx, store.StatementFilter{IDs: []string{"b1"}})
	assert.True(t, stmts[0].Reconciled)
}
