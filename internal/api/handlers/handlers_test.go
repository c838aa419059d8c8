package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"conciliacao-service/internal/core/banks"
	"conciliacao-service/internal/core/categorizer"
	"conciliacao-service/internal/core/importer"
	"conciliacao-service/internal/core/reconciliation"
	"conciliacao-service/internal/domain"
	"conciliacao-service/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Errors  []string        `json:"errors"`
}

type fixture struct {
	router *gin.Engine
	store  *store.MemoryStore
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := store.NewMemoryStore()
	ctx := context.Background()
	for _, c := range []domain.Category{
		{ID: "c1", Name: "Vendas PIX", Type: domain.CategoryRevenue},
		{ID: "c2", Name: "Energia Elétrica", Type: domain.CategoryExpense},
	} {
		_, err := st.CreateCategory(ctx, c)
		require.NoError(t, err)
	}
	_, err := st.CreateLedger(ctx, domain.LedgerTransaction{
		ID: "r1", Kind: domain.KindRevenue, Date: "2025-01-15", Value: 100,
		Description: "Venda João", Status: domain.LedgerStatusPending, AccountID: "acc1",
	})
	require.NoError(t, err)

	reg := banks.DefaultRegistry()
	engine := categorizer.NewEngine(st, nil, 0, nil)
	matcher := reconciliation.NewMatcher(reconciliation.DefaultConfig())
	recon := reconciliation.NewService(st, matcher, nil)
	imp := importer.NewService(importer.Deps{
		Repo: st, Registry: reg, Categorizer: engine, Matcher: matcher, Reconciliation: recon,
	})

	r := gin.New()
	api := r.Group("/api/v1")
	NewImportHandler(imp, true).Register(api)
	NewMatchHandler(recon).Register(api)
	NewCatalogHandler(reg, engine, st).Register(api)
	NewRecordsHandler(st).Register(api)
	return fixture{router: r, store: st}
}

func (f fixture) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return f.serve(t, req)
}

func (f fixture) upload(t *testing.T, path, filename, content string, fields map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if filename != "" {
		part, err := w.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return f.serve(t, req)
}

func (f fixture) serve(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

const statement = "Data;Descrição;Valor\n15/01/2025;PIX RECEBIDO JOAO;100,00\n16/01/2025;TARIFA PACOTE;-12,90\n"

func TestImportFlow(t *testing.T) {
	f := newFixture(t)

	rec, env := f.upload(t, "/api/v1/imports", "extrato_itau.csv", statement, map[string]string{"accountId": "acc1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var sess importer.Session
	require.NoError(t, json.Unmarshal(env.Data, &sess))
	assert.Equal(t, importer.StageParsed, sess.Stage)
	assert.Equal(t, "itau", sess.BankID)
	require.Len(t, sess.Records, 2)
	base := "/api/v1/imports/" + sess.ID

	rec, _ = f.do(t, http.MethodPost, base+"/mapping", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, env = f.do(t, http.MethodPost, base+"/auto-match", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, &sess))
	require.Len(t, sess.Matches, 1)
	assert.Equal(t, "r1", sess.Matches[0].InternalTransaction.ID)

	rec, _ = f.do(t, http.MethodPost, base+"/matches/"+sess.Matches[0].ID+"/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, env = f.do(t, http.MethodGet, base+"/preview", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, &sess))
	require.NotNil(t, sess.Summary)
	assert.Equal(t, 2, sess.Summary.Valid)

	rec, _ = f.do(t, http.MethodGet, base+"/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, rec.Body.String(), "PIX RECEBIDO JOAO")

	rec, env = f.do(t, http.MethodPost, base+"/commit", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, &sess))
	assert.Equal(t, domain.CommitResult{Imported: 2, Total: 2}, *sess.Result)

	ledger, _, err := f.store.FindLedger(context.Background(), store.LedgerFilter{IDs: []string{"r1"}})
	require.NoError(t, err)
	assert.True(t, ledger[0].Reconciled)

	// etapa fora de ordem
	rec, env = f.do(t, http.MethodPost, base+"/commit", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "error", env.Status)
}

func TestUpload_Errors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name     string
		filename string
		content  string
		fields   map[string]string
		code     int
	}{
		{"sem arquivo", "", "", map[string]string{"accountId": "acc1"}, http.StatusBadRequest},
		{"sem conta", "extrato_itau.csv", statement, nil, http.StatusBadRequest},
		{"banco não identificado", "extrato.csv", statement, map[string]string{"accountId": "acc1"}, http.StatusBadRequest},
		{"arquivo sem linhas", "extrato_itau.csv", "Data;Descrição;Valor\n", map[string]string{"accountId": "acc1"}, http.StatusUnprocessableEntity},
		{"hasHeader inválido", "extrato_itau.csv", statement, map[string]string{"accountId": "acc1", "hasHeader": "talvez"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := f.upload(t, "/api/v1/imports", tt.filename, tt.content, tt.fields)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
			assert.Equal(t, "error", env.Status)
		})
	}
}

func TestRun_WithBankOverride(t *testing.T) {
	f := newFixture(t)
	rec, env := f.upload(t, "/api/v1/imports/run", "extrato.csv", statement,
		map[string]string{"accountId": "acc1", "bankId": "Itaú", "autoMatch": "false"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var sess importer.Session
	require.NoError(t, json.Unmarshal(env.Data, &sess))
	assert.Equal(t, importer.StageCommitted, sess.Stage)
	assert.Empty(t, sess.Matches)

	rec, env = f.do(t, http.MethodGet, "/api/v1/statements?accountId=acc1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var p struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, 2, p.Total)
}

func TestGetUnknownSession(t *testing.T) {
	f := newFixture(t)
	rec, _ := f.do(t, http.MethodGet, "/api/v1/imports/nao-existe", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDiscardSession(t *testing.T) {
	f := newFixture(t)
	rec, env := f.upload(t, "/api/v1/imports", "extrato_itau.csv", statement, map[string]string{"accountId": "acc1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var sess importer.Session
	require.NoError(t, json.Unmarshal(env.Data, &sess))
	base := "/api/v1/imports/" + sess.ID

	rec, _ = f.do(t, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(t, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = f.do(t, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, total, err := f.store.FindStatements(context.Background(), store.StatementFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func seedStatement(t *testing.T, st *store.MemoryStore) {
	t.Helper()
	_, err := st.CreateStatement(context.Background(), domain.BankStatementRecord{
		RawTransaction: domain.RawTransaction{
			ID: "b1", Date: "2025-01-15", Description: "PIX RECEBIDO JOAO", Amount: 100, Type: domain.TypeCredit,
		},
		AccountID:  "acc1",
		HashUnique: "h1",
	})
	require.NoError(t, err)
}

func TestMatches_ManualApproveDelete(t *testing.T) {
	f := newFixture(t)
	seedStatement(t, f.store)

	rec, env := f.do(t, http.MethodGet, "/api/v1/statements/b1/suggestions", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var suggestions []domain.MatchCandidate
	require.NoError(t, json.Unmarshal(env.Data, &suggestions))
	require.NotEmpty(t, suggestions)

	rec, env = f.do(t, http.MethodPost, "/api/v1/matches", gin.H{"bankTransactionId": "b1", "ledgerId": "r1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var m domain.MatchCandidate
	require.NoError(t, json.Unmarshal(env.Data, &m))

	rec, env = f.do(t, http.MethodGet, "/api/v1/matches?accountId=acc1&status=pending&sortBy=confidence&desc=true", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var list []domain.MatchCandidate
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)

	rec, _ = f.do(t, http.MethodPost, "/api/v1/matches/"+m.ID+"/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, _ = f.do(t, http.MethodPost, "/api/v1/matches/"+m.ID+"/reject", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = f.do(t, http.MethodDelete, "/api/v1/matches/"+m.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(t, http.MethodDelete, "/api/v1/matches/"+m.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMatches_AutoAndBulk(t *testing.T) {
	f := newFixture(t)
	seedStatement(t, f.store)

	rec, env := f.do(t, http.MethodPost, "/api/v1/matches/auto", gin.H{"accountId": "acc1", "dateFrom": "2025-01-01", "dateTo": "2025-01-31"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var created []domain.MatchCandidate
	require.NoError(t, json.Unmarshal(env.Data, &created))
	require.Len(t, created, 1)

	rec, env = f.do(t, http.MethodPost, "/api/v1/matches/bulk", gin.H{"ids": []string{created[0].ID, "x"}, "action": "approve"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res reconciliation.BulkResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, []string{created[0].ID}, res.Succeeded)
	assert.Contains(t, res.Failed, "x")

	rec, _ = f.do(t, http.MethodPost, "/api/v1/matches/bulk", gin.H{"ids": []string{"x"}, "action": "explode"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMatches_Validation(t *testing.T) {
	f := newFixture(t)
	seedStatement(t, f.store)
	_, err := f.store.CreateLedger(context.Background(), domain.LedgerTransaction{
		ID: "e1", Kind: domain.KindExpense, Date: "2025-01-15", Value: 100, AccountID: "acc1", Status: domain.LedgerStatusPending,
	})
	require.NoError(t, err)

	rec, _ := f.do(t, http.MethodGet, "/api/v1/matches", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/api/v1/matches", gin.H{"bankTransactionId": "b1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// crédito não concilia com despesa
	rec, env := f.do(t, http.MethodPost, "/api/v1/matches", gin.H{"bankTransactionId": "b1", "ledgerId": "e1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, env.Errors)
}

func TestCatalog(t *testing.T) {
	f := newFixture(t)

	rec, env := f.do(t, http.MethodGet, "/api/v1/banks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var bankList []bankView
	require.NoError(t, json.Unmarshal(env.Data, &bankList))
	assert.Len(t, bankList, len(banks.DefaultProfiles()))

	rec, env = f.do(t, http.MethodPost, "/api/v1/categorize", gin.H{"description": "PIX RECEBIDO VENDAS", "type": "credit"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var s categorizer.Suggestion
	require.NoError(t, json.Unmarshal(env.Data, &s))
	assert.Equal(t, "Vendas PIX", s.Category)

	rec, _ = f.do(t, http.MethodPost, "/api/v1/categorize", gin.H{"description": "x", "type": "outro"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/api/v1/categories", gin.H{"name": "Tarifas Bancárias", "type": "Expense"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// a nova categoria vale sem esperar o TTL
	rec, env = f.do(t, http.MethodPost, "/api/v1/categorize", gin.H{"description": "TARIFA BANCARIA PACOTE", "type": "debit"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &s))
	assert.Equal(t, "Tarifas Bancárias", s.Category)

	rec, env = f.do(t, http.MethodGet, "/api/v1/categories?type=Expense", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cats []domain.Category
	require.NoError(t, json.Unmarshal(env.Data, &cats))
	assert.Len(t, cats, 2)

	rec, _ = f.do(t, http.MethodPost, "/api/v1/categories/invalidate", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLedger(t *testing.T) {
	f := newFixture(t)

	rec, _ := f.do(t, http.MethodPost, "/api/v1/ledger", gin.H{
		"kind": "expense", "date": "2025-01-20", "value": 45.9, "description": "Energia", "accountId": "acc1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec, env := f.do(t, http.MethodPost, "/api/v1/ledger", gin.H{"kind": "outro", "date": "20/01/2025", "value": -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, env.Errors, 4)

	rec, env = f.do(t, http.MethodGet, "/api/v1/ledger?accountId=acc1&reconciled=false", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var p struct {
		Items []domain.LedgerTransaction `json:"items"`
		Total int                        `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, 2, p.Total)
	for _, l := range p.Items {
		assert.Equal(t, domain.LedgerStatusPending, l.Status, fmt.Sprintf("lançamento %s", l.ID))
	}
}
