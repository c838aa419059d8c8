package importer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"conciliacao-service/internal/core/reconciliation"
	"conciliacao-service/internal/domain"
	"conciliacao-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

func newTestService(t *testing.T, repo Repository) *service {
	t.Helper()
	svc := NewService(Deps{Repo: repo}).(*service)
	svc.now = func() time.Time { return time.Date(2025, 1, 31, 9, 0, 0, 0, time.UTC) }
	return svc
}

func statementCSV(rows int) []byte {
	var b strings.Builder
	b.WriteString("Data;Descrição;Valor\n")
	for i := 1; i <= rows; i++ {
		fmt.Fprintf(&b, "%02d/01/2025;PIX RECEBIDO CLIENTE %d;%d,00\n", i, i, i*10)
	}
	return []byte(b.String())
}

func upload(name string, content []byte) UploadRequest {
	return UploadRequest{AccountID: "acc1", Filename: name, Content: content}
}

func TestRun_ReimportCountsDuplicates(t *testing.T) {
	repo := store.NewMemoryStore()
	svc := newTestService(t, repo)
	ctx := context.Background()

	first, err := svc.Run(ctx, upload("extrato_itau.csv", statementCSV(10)), true)
	require.NoError(t, err)
	require.NotNil(t, first.Result)
	assert.Equal(t, StageCommitted, first.Stage)
	assert.Equal(t, domain.CommitResult{Imported: 10, Duplicates: 0, Total: 10}, *first.Result)

	second, err := svc.Run(ctx, upload("extrato_itau.csv", statementCSV(10)), true)
	require.NoError(t, err)
	assert.Equal(t, domain.CommitResult{Imported: 0, Duplicates: 10, Total: 10}, *second.Result)

	_, count, err := repo.FindStatements(ctx, store.StatementFilter{AccountID: "acc1"})
	require.NoError(t, err)
	assert.Equal(t, 10, count)
}

func TestUpload_StagesRecords(t *testing.T) {
	svc := newTestService(t, store.NewMemoryStore())
	sess, err := svc.Upload(context.Background(), upload("extrato_itau.csv", statementCSV(3)))
	require.NoError(t, err)

	assert.Equal(t, StageParsed, sess.Stage)
	assert.Equal(t, "itau", sess.BankID)
	assert.Equal(t, domain.FormatCSV, sess.Format)
	assert.Equal(t, ";", sess.Detection.Delimiter)
	require.Len(t, sess.Records, 3)

	r := sess.Records[0]
	assert.NotEmpty(t, r.ID)
	assert.NotEqual(t, r.ID, r.SourceID)
	assert.Equal(t, "acc1", r.AccountID)
	assert.Equal(t, HashUnique("acc1", "2025-01-01", 10, "PIX RECEBIDO CLIENTE 1"), r.HashUnique)
	require.NotNil(t, r.SuggestedCategory)
	assert.False(t, r.Reconciled)
}

func TestUpload_DetectionFailures(t *testing.T) {
	svc := newTestService(t, store.NewMemoryStore())
	ctx := context.Background()

	_, err := svc.Upload(ctx, upload("extrato.csv", statementCSV(2)))
	var de *domain.DetectionError
	require.ErrorAs(t, err, &de)

	_, err = svc.Upload(ctx, UploadRequest{AccountID: "acc1", Filename: "extrato.csv", Content: statementCSV(2), BankID: "banco que não existe"})
	require.ErrorAs(t, err, &de)

	sess, err := svc.Upload(ctx, UploadRequest{AccountID: "acc1", Filename: "extrato.csv", Content: statementCSV(2), BankID: "Itaú"})
	require.NoError(t, err)
	assert.Equal(t, "itau", sess.BankID)

	_, err = svc.Upload(ctx, UploadRequest{Filename: "extrato_itau.csv", Content: statementCSV(2)})
	var ve *domain.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestUpload_ParseFailureCreatesNoSession(t *testing.T) {
	svc := newTestService(t, store.NewMemoryStore())
	_, err := svc.Upload(context.Background(), upload("extrato_itau.csv", []byte("Data;Descrição;Valor\n")))
	var pe *domain.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Empty(t, svc.sessions.items)
}

func TestUpload_TooLarge(t *testing.T) {
	svc := NewService(Deps{Repo: store.NewMemoryStore(), Config: Config{MaxFileSize: 16}})
	_, err := svc.Upload(context.Background(), upload("extrato_itau.csv", statementCSV(2)))
	var pe *domain.ParseError
	assert.ErrorAs(t, err, &pe)
}

func TestUpload_SizeLimitCountsOriginalBytes(t *testing.T) {
	content, err := charmap.Windows1252.NewEncoder().String(
		"Data;Descrição;Valor\n15/01/2025;PIX RECEBIDO JOÃO ÇÉÍÓÚ;100,00\n")
	require.NoError(t, err)
	raw := []byte(content)

	svc := NewService(Deps{Repo: store.NewMemoryStore(), Config: Config{MaxFileSize: len(raw)}})
	sess, err := svc.Upload(context.Background(), upload("extrato_itau.csv", raw))
	require.NoError(t, err)
	require.Len(t, sess.Records, 1)
	assert.Equal(t, "PIX RECEBIDO JOÃO ÇÉÍÓÚ", sess.Records[0].Description)
}

func TestMap_RequiresRequiredFields(t *testing.T) {
	svc := newTestService(t, store.NewMemoryStore())
	ctx := context.Background()
	content := []byte("Quando;O que;Quanto\n15/01/2025;PIX RECEBIDO JOAO;150,00\n16/01/2025;TARIFA PACOTE;12,90\n")

	sess, err := svc.Upload(ctx, upload("extrato_itau.csv", content))
	require.NoError(t, err)
	assert.Equal(t, StageParsed, sess.Stage)
	assert.Empty(t, sess.Records)
	assert.ElementsMatch(t, []domain.SemanticField{domain.FieldDate, domain.FieldAmount, domain.FieldDescription}, sess.MissingFields)

	_, err = svc.Map(ctx, sess.ID, nil)
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)

	_, err = svc.Map(ctx, sess.ID, domain.ColumnMapping{domain.FieldDate: 0, domain.FieldDescription: 1})
	require.ErrorAs(t, err, &ve)

	_, err = svc.Map(ctx, sess.ID, domain.ColumnMapping{domain.FieldDate: 0, domain.FieldDescription: 1, domain.FieldAmount: 7})
	require.ErrorAs(t, err, &ve)

	// sem mapeamento a sessão não avança
	_, err = svc.AutoMatch(ctx, sess.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	sess, err = svc.Map(ctx, sess.ID, domain.ColumnMapping{domain.FieldDate: 0, domain.FieldDescription: 1, domain.FieldAmount: 2})
	require.NoError(t, err)
	assert.Equal(t, StageMapped, sess.Stage)
	require.Len(t, sess.Records, 2)
	assert.Equal(t, domain.TypeCredit, sess.Records[0].Type)
	assert.Equal(t, domain.TypeDebit, sess.Records[1].Type)
	assert.Equal(t, 12.90, sess.Records[1].Amount)
}

func TestStages_EnforceOrder(t *testing.T) {
	svc := newTestService(t, store.NewMemoryStore())
	ctx := context.Background()

	sess, err := svc.Upload(ctx, upload("extrato_itau.csv", statementCSV(2)))
	require.NoError(t, err)

	_, err = svc.Preview(ctx, sess.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = svc.Commit(ctx, sess.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = svc.SkipMatch(sess.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = svc.Map(ctx, sess.ID, nil)
	require.NoError(t, err)
	sess, err = svc.SkipMatch(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StageMatchSkipped, sess.Stage)

	_, err = svc.ReviewMatch(sess.ID, "x", reconciliation.ActionApprove)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = svc.Preview(ctx, sess.ID)
	require.NoError(t, err)
	sess, err = svc.Commit(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StageCommitted, sess.Stage)

	_, err = svc.Commit(ctx, sess.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = svc.Get("inexistente")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPreview_FlagsInvalidRows(t *testing.T) {
	svc := newTestService(t, store.NewMemoryStore())
	ctx := context.Background()
	content := []byte("Data;Descrição;Valor\n15/01/2025;PIX RECEBIDO JOAO;150,00\n16/01/2025;;50,00\n17/01/2025;TARIFA;0,00\n")

	sess, err := svc.Upload(ctx, upload("extrato_itau.csv", content))
	require.NoError(t, err)
	_, err = svc.Map(ctx, sess.ID, nil)
	require.NoError(t, err)
	_, err = svc.SkipMatch(sess.ID)
	require.NoError(t, err)

	sess, err = svc.Preview(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, sess.Preview, 3)
	assert.False(t, sess.Preview[0].HasErrors)
	assert.Equal(t, []string{"descrição vazia"}, sess.Preview[1].Errors)
	assert.Equal(t, []string{"valor deve ser positivo"}, sess.Preview[2].Errors)
	assert.Equal(t, PreviewSummary{Total: 3, Valid: 1, Invalid: 2}, *sess.Summary)

	sess, err = svc.Commit(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CommitResult{Imported: 1, Total: 1}, *sess.Result)
}

func TestAutoMatch_ApprovedInSessionIsAppliedOnCommit(t *testing.T) {
	repo := store.NewMemoryStore()
	ctx := context.Background()
	_, err := repo.CreateLedger(ctx, domain.LedgerTransaction{
		ID: "r1", Kind: domain.KindRevenue, Date: "2025-01-02", Value: 20,
		Description: "Cliente 2", Status: domain.LedgerStatusPending, AccountID: "acc1",
	})
	require.NoError(t, err)
	_, err = repo.CreateLedger(ctx, domain.LedgerTransaction{
		ID: "old", Kind: domain.KindRevenue, Date: "2024-06-02", Value: 20,
		Description: "Cliente 2", Status: domain.LedgerStatusPending, AccountID: "acc1",
	})
	require.NoError(t, err)

	svc := newTestService(t, repo)
	sess, err := svc.Upload(ctx, upload("extrato_itau.csv", statementCSV(3)))
	require.NoError(t, err)
	_, err = svc.Map(ctx, sess.ID, nil)
	require.NoError(t, err)

	sess, err = svc.AutoMatch(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StageAutoMatched, sess.Stage)
	require.Len(t, sess.Matches, 1)
	m := sess.Matches[0]
	assert.Equal(t, "r1", m.InternalTransaction.ID)
	assert.Equal(t, "PIX RECEBIDO CLIENTE 2", m.BankTransaction.Description)

	sess, err = svc.ReviewMatch(sess.ID, m.ID, reconciliation.ActionApprove)
	require.NoError(t, err)
	assert.Equal(t, domain.MatchApproved, sess.Matches[0].Status)

	_, err = svc.ReviewMatch(sess.ID, m.ID, reconciliation.ActionReject)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = svc.Preview(ctx, sess.ID)
	require.NoError(t, err)
	sess, err = svc.Commit(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, sess.Result.Imported)

	ledger, _, err := repo.FindLedger(ctx, store.LedgerFilter{IDs: []string{"r1"}})
	require.NoError(t, err)
	assert.True(t, ledger[0].Reconciled)
	assert.Equal(t, domain.LedgerStatusReceived, ledger[0].Status)

	stmts, _, err := repo.FindStatements(ctx, store.StatementFilter{IDs: []string{m.BankTransaction.ID}})
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	assert.True(t, stmts[0].Reconciled)

	matches, _, err := repo.FindMatches(ctx, store.MatchFilter{Status: domain.MatchApproved})
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

type flakyRepo struct {
	*store.MemoryStore
	calls map[string]int
}

func networkErr() error {
	return &domain.PersistenceError{Kind: domain.PersistenceNetwork, Op: "insert", Err: errors.New("conexão recusada")}
}

func (f *flakyRepo) CreateStatements(context.Context, []domain.BankStatementRecord) ([]domain.BankStatementRecord, error) {
	return nil, networkErr()
}

func (f *flakyRepo) CreateStatement(ctx context.Context, rec domain.BankStatementRecord) (domain.BankStatementRecord, error) {
	f.calls[rec.Description]++
	switch {
	case rec.Description == "FALHA SEMPRE":
		return domain.BankStatementRecord{}, networkErr()
	case rec.Description == "FALHA UMA VEZ" && f.calls[rec.Description] == 1:
		return domain.BankStatementRecord{}, networkErr()
	}
	return f.MemoryStore.CreateStatement(ctx, rec)
}

func TestCommit_FallsBackToSingleInserts(t *testing.T) {
	repo := &flakyRepo{MemoryStore: store.NewMemoryStore(), calls: map[string]int{}}
	svc := newTestService(t, repo)
	content := []byte("Data;Descrição;Valor\n15/01/2025;PIX RECEBIDO A;10,00\n15/01/2025;FALHA UMA VEZ;20,00\n15/01/2025;FALHA SEMPRE;30,00\n")

	sess, err := svc.Run(context.Background(), upload("extrato_itau.csv", content), false)
	require.NoError(t, err)

	res := sess.Result
	assert.Equal(t, 2, res.Imported)
	assert.Equal(t, 0, res.Duplicates)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 3, res.Total)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 3, res.Errors[0].Line)
	assert.Equal(t, []string{"Falha de comunicação com o banco de dados. Tente novamente."}, res.Errors[0].Reasons)
	assert.Equal(t, 2, repo.calls["FALHA SEMPRE"])
	assert.Equal(t, 2, repo.calls["FALHA UMA VEZ"])
}

func TestHashUnique_Deterministic(t *testing.T) {
	a := HashUnique("acc1", "2025-01-15", 150, "PIX RECEBIDO JOAO")
	assert.Equal(t, a, HashUnique("acc1", "2025-01-15", 150.00, "PIX RECEBIDO JOAO "))
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, HashUnique("acc2", "2025-01-15", 150, "PIX RECEBIDO JOAO"))
	assert.NotEqual(t, a, HashUnique("acc1", "2025-01-15", 150.01, "PIX RECEBIDO JOAO"))
}

func TestUpload_RepeatedRowsGetDistinctHashes(t *testing.T) {
	svc := newTestService(t, store.NewMemoryStore())
	content := []byte("Data;Descrição;Valor\n15/01/2025;TARIFA PIX;1,00\n15/01/2025;TARIFA PIX;1,00\n")

	sess, err := svc.Run(context.Background(), upload("extrato_itau.csv", content), false)
	require.NoError(t, err)
	assert.Equal(t, 2, sess.Result.Imported)
}

func TestExport_Windows1252(t *testing.T) {
	svc := newTestService(t, store.NewMemoryStore())
	ctx := context.Background()
	sess, err := svc.Upload(ctx, upload("extrato_itau.csv", statementCSV(2)))
	require.NoError(t, err)

	out, err := svc.Export(sess.ID)
	require.NoError(t, err)

	header, err := charmap.Windows1252.NewEncoder().String("Linha;Data;Descrição;Valor;Tipo;Documento;Saldo;Categoria\n")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte(header)))
	assert.Contains(t, string(out), "1;2025-01-01;PIX RECEBIDO CLIENTE 1;10,00;C;;;")

	_, err = svc.Map(ctx, sess.ID, nil)
	require.NoError(t, err)
	_, err = svc.SkipMatch(sess.ID)
	require.NoError(t, err)
	_, err = svc.Preview(ctx, sess.ID)
	require.NoError(t, err)
	out, err = svc.Export(sess.ID)
	require.NoError(t, err)
	assert.Contains(t, string(out), ";OK\n")
}

func TestSanitizeForCSV(t *testing.T) {
	assert.Equal(t, "PIX RECEBIDO", sanitizeForCSV("  PIX RECEBIDO\r\n"))
	assert.Equal(t, "ab c", sanitizeForCSV("a\nb\x01c"))
	assert.Equal(t, "", sanitizeForCSV(" \t "))
}
