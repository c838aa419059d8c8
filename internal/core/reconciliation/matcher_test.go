package reconciliation

import (
	"testing"

	"conciliacao-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bankTx(id, date string, amount float64, typ domain.TransactionType, desc string) domain.BankStatementRecord {
	return domain.BankStatementRecord{
		RawTransaction: domain.RawTransaction{ID: id, Date: date, Amount: amount, Type: typ, Description: desc},
		AccountID:      "acc1",
		HashUnique:     "h-" + id,
	}
}

func ledgerTx(id, date string, value float64, kind domain.LedgerKind, desc string) domain.LedgerTransaction {
	return domain.LedgerTransaction{
		ID: id, Date: date, Value: value, Kind: kind, Description: desc,
		Status: domain.LedgerStatusPending, AccountID: "acc1",
	}
}

func TestScore_ConfidenceOrdering(t *testing.T) {
	m := NewMatcher(DefaultConfig())
	b := bankTx("b", "2025-01-15", 100, domain.TypeCredit, "PIX RECEBIDO CLIENTE")
	i1 := ledgerTx("i1", "2025-01-15", 100, domain.KindRevenue, "Venda cliente")
	i2 := ledgerTx("i2", "2025-01-20", 105, domain.KindRevenue, "Venda cliente")

	c1 := m.Score(b, i1).Confidence
	c2 := m.Score(b, i2).Confidence
	assert.Greater(t, c1, c2)
	assert.GreaterOrEqual(t, c1, 0.9)
}

func TestScore_ExactPairBeatsAnyNearPair(t *testing.T) {
	m := NewMatcher(DefaultConfig())
	b := bankTx("b", "2025-01-15", 250, domain.TypeDebit, "PAGAMENTO ALUGUEL")

	// par exato com descrição sem relação
	exact := m.Score(b, ledgerTx("x", "2025-01-15", 250, domain.KindExpense, "zzz")).Confidence
	// pares quase perfeitos com descrição idêntica
	nearAmount := m.Score(b, ledgerTx("a", "2025-01-15", 250.01, domain.KindExpense, "PAGAMENTO ALUGUEL")).Confidence
	nearDate := m.Score(b, ledgerTx("d", "2025-01-16", 250, domain.KindExpense, "PAGAMENTO ALUGUEL")).Confidence

	assert.Greater(t, exact, nearAmount)
	assert.Greater(t, exact, nearDate)
}

func TestAmountScore_Monotonic(t *testing.T) {
	m := NewMatcher(DefaultConfig())
	prev := 2.0
	for _, ledger := range []float64{100, 100.10, 100.50, 100.51, 101, 110, 200} {
		s := m.AmountScore(100, ledger)
		assert.LessOrEqual(t, s, prev, "valor %v", ledger)
		assert.GreaterOrEqual(t, s, 0.0)
		prev = s
	}
	assert.Equal(t, 1.0, m.AmountScore(-100, 100))
}

func TestDateScore_Monotonic(t *testing.T) {
	m := NewMatcher(DefaultConfig())
	prev := 2.0
	for _, d := range []string{"2025-01-15", "2025-01-16", "2025-01-17", "2025-01-18", "2025-01-25", "2025-03-01"} {
		s := m.DateScore("2025-01-15", d)
		assert.LessOrEqual(t, s, prev, d)
		prev = s
	}
	assert.Zero(t, m.DateScore("2025-01-15", "invalida"))
	assert.Equal(t, m.DateScore("2025-01-15", "2025-01-17"), m.DateScore("2025-01-17", "2025-01-15"))
}

func TestDescriptionScore_UsesReference(t *testing.T) {
	l := ledgerTx("l", "2025-01-15", 10, domain.KindExpense, "Despesa diversa")
	l.Reference = "NF 1234 ENERGIA CEMIG"
	withRef := DescriptionScore("ENERGIA CEMIG", l)

	l.Reference = ""
	withoutRef := DescriptionScore("ENERGIA CEMIG", l)
	assert.Greater(t, withRef, withoutRef)
	assert.LessOrEqual(t, withRef, 1.0)
}

func TestCompatible(t *testing.T) {
	credit := bankTx("b", "2025-01-15", 10, domain.TypeCredit, "")
	debit := bankTx("b", "2025-01-15", 10, domain.TypeDebit, "")
	revenue := ledgerTx("r", "2025-01-15", 10, domain.KindRevenue, "")
	expense := ledgerTx("e", "2025-01-15", 10, domain.KindExpense, "")

	assert.True(t, Compatible(credit, revenue))
	assert.False(t, Compatible(credit, expense))
	assert.True(t, Compatible(debit, expense))
	assert.False(t, Compatible(debit, revenue))

	other := revenue
	other.AccountID = "acc2"
	assert.False(t, Compatible(credit, other))
}

func TestScore_Reasons(t *testing.T) {
	m := NewMatcher(DefaultConfig())
	b := bankTx("b", "2025-01-15", 100, domain.TypeCredit, "PIX RECEBIDO JOAO")
	s := m.Score(b, ledgerTx("l", "2025-01-16", 100.30, domain.KindRevenue, "Pix recebido João"))
	assert.Equal(t, []string{
		"Valor próximo (diferença de R$ 0,30)",
		"Data próxima (1 dia(s) de diferença)",
		"Descrição similar (100%)",
	}, s.Reasons)
}

func TestCandidates_SortedAndFiltered(t *testing.T) {
	m := NewMatcher(DefaultConfig())
	b := bankTx("b", "2025-01-15", 100, domain.TypeCredit, "PIX RECEBIDO")
	reconciled := ledgerTx("done", "2025-01-15", 100, domain.KindRevenue, "")
	reconciled.Reconciled = true

	got := m.Candidates(b, []domain.LedgerTransaction{
		ledgerTx("far", "2025-03-15", 900, domain.KindRevenue, "outro"),
		ledgerTx("near", "2025-01-16", 100, domain.KindRevenue, "pix"),
		ledgerTx("exact", "2025-01-15", 100, domain.KindRevenue, "pix"),
		ledgerTx("expense", "2025-01-15", 100, domain.KindExpense, "pix"),
		reconciled,
	})
	require.Len(t, got, 2)
	assert.Equal(t, "exact", got[0].InternalTransaction.ID)
	assert.Equal(t, "near", got[1].InternalTransaction.ID)
	assert.Equal(t, domain.MatchManual, got[0].MatchType)
	assert.Equal(t, domain.MatchPending, got[0].Status)
}

func TestAutoMatch_OneToOneGreedy(t *testing.T) {
	m := NewMatcher(DefaultConfig())
	bank := []domain.BankStatementRecord{
		bankTx("b1", "2025-01-15", 100, domain.TypeCredit, "PIX RECEBIDO"),
		bankTx("b2", "2025-01-15", 100, domain.TypeCredit, "PIX RECEBIDO"),
		bankTx("b3", "2025-01-15", 999, domain.TypeCredit, "PIX RECEBIDO"),
	}
	ledger := []domain.LedgerTransaction{
		ledgerTx("l1", "2025-01-15", 100, domain.KindRevenue, "pix recebido"),
		ledgerTx("l2", "2025-01-16", 100, domain.KindRevenue, "pix recebido"),
	}

	got := m.AutoMatch(bank, ledger)
	require.Len(t, got, 2)

	pairs := map[string]string{}
	for _, c := range got {
		assert.Equal(t, domain.MatchAutomatic, c.MatchType)
		assert.GreaterOrEqual(t, c.Confidence, 0.8)
		assert.NotEmpty(t, c.ID)
		pairs[c.BankTransaction.ID] = c.InternalTransaction.ID
	}
	assert.Equal(t, map[string]string{"b1": "l1", "b2": "l2"}, pairs)
}

func TestNewMatcher_Defaults(t *testing.T) {
	m := NewMatcher(Config{AutoMatchThreshold: 3, MinCandidateConfidence: -1})
	assert.Equal(t, DefaultConfig(), m.Config())
}

func TestFilter_Apply(t *testing.T) {
	doc := "DOC99"
	mk := func(id string, conf, amount float64, date string, status domain.MatchStatus, desc string) domain.MatchCandidate {
		b := bankTx("b"+id, date, amount, domain.TypeCredit, desc)
		return domain.MatchCandidate{ID: id, BankTransaction: b, Confidence: conf, Status: status}
	}
	withDoc := mk("5", 0.7, 50, "2025-01-12", domain.MatchPending, "TED")
	withDoc.BankTransaction.Document = &doc
	withRef := mk("6", 0.6, 60, "2025-01-13", domain.MatchPending, "TED")
	withRef.InternalTransaction.Reference = "Contrato Açaí"

	all := []domain.MatchCandidate{
		mk("1", 0.9, 100, "2025-01-10", domain.MatchPending, "PIX Recebido João"),
		mk("2", 0.9, 300, "2025-01-05", domain.MatchApproved, "Boleto"),
		mk("3", 0.5, 200, "2025-01-20", domain.MatchPending, "Tarifa"),
		mk("4", 0.95, 20, "2025-02-01", domain.MatchRejected, "PIX enviado"),
		withDoc,
		withRef,
	}
	ids := func(ms []domain.MatchCandidate) []string {
		var out []string
		for _, m := range ms {
			out = append(out, m.ID)
		}
		return out
	}
	minA, maxA := 50.0, 200.0

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"sem filtro mantém a ordem", Filter{}, []string{"1", "2", "3", "4", "5", "6"}},
		{"status", Filter{Status: domain.MatchPending}, []string{"1", "3", "5", "6"}},
		{"confiança mínima", Filter{MinConfidence: 0.9}, []string{"1", "2", "4"}},
		{"busca sem acento", Filter{Search: "joao"}, []string{"1"}},
		{"busca no documento", Filter{Search: "doc99"}, []string{"5"}},
		{"busca na referência", Filter{Search: "ACAI"}, []string{"6"}},
		{"faixa de valor", Filter{MinAmount: &minA, MaxAmount: &maxA}, []string{"1", "3", "5", "6"}},
		{"faixa de data", Filter{DateFrom: "2025-01-10", DateTo: "2025-01-31"}, []string{"1", "3", "5", "6"}},
		{"confiança desc com empate estável", Filter{SortBy: SortByConfidence, Desc: true}, []string{"4", "1", "2", "5", "6", "3"}},
		{"valor asc", Filter{SortBy: SortByAmount}, []string{"4", "5", "6", "1", "3", "2"}},
		{"data desc", Filter{SortBy: SortByDate, Desc: true}, []string{"4", "3", "6", "5", "1", "2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(tt.filter.Apply(all)))
		})
	}
}
