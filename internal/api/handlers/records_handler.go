package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"conciliacao-service/internal/api/responses"
	"conciliacao-service/internal/core/normalizer"
	"conciliacao-service/internal/domain"
	"conciliacao-service/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RecordsStore é o que o handler de registros consulta.
type RecordsStore interface {
	store.StatementStore
	store.LedgerStore
}

// RecordsHandler expõe os extratos gravados e o livro interno.
type RecordsHandler struct {
	store RecordsStore
}

// NewRecordsHandler cria o handler de registros.
func NewRecordsHandler(s RecordsStore) *RecordsHandler {
	return &RecordsHandler{store: s}
}

// Register monta as rotas no grupo informado.
func (h *RecordsHandler) Register(g *gin.RouterGroup) {
	g.GET("/statements", h.ListStatements)
	g.GET("/ledger", h.ListLedger)
	g.POST("/ledger", h.CreateLedger)
}

type recordsQuery struct {
	AccountID  string `form:"accountId" binding:"required"`
	Reconciled string `form:"reconciled"`
	DateFrom   string `form:"dateFrom"`
	DateTo     string `form:"dateTo"`
}

func (q recordsQuery) reconciled() (*bool, error) {
	if q.Reconciled == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(q.Reconciled)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

type page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

// ListStatements lista os registros de extrato de uma conta.
func (h *RecordsHandler) ListStatements(c *gin.Context) {
	var q recordsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		responses.Error(c, http.StatusBadRequest, "Conta bancária (accountId) é obrigatória", err.Error())
		return
	}
	rec, err := q.reconciled()
	if err != nil {
		responses.Error(c, http.StatusBadRequest, "Valor inválido para reconciled", err.Error())
		return
	}
	items, total, err := h.store.FindStatements(c.Request.Context(), store.StatementFilter{
		AccountID: q.AccountID, Reconciled: rec, DateFrom: q.DateFrom, DateTo: q.DateTo,
	})
	if err != nil {
		responses.FromError(c, err)
		return
	}
	if items == nil {
		items = []domain.BankStatementRecord{}
	}
	responses.Success(c, page[domain.BankStatementRecord]{Items: items, Total: total}, "")
}

// ListLedger lista os lançamentos internos de uma conta.
func (h *RecordsHandler) ListLedger(c *gin.Context) {
	var q recordsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		responses.Error(c, http.StatusBadRequest, "Conta bancária (accountId) é obrigatória", err.Error())
		return
	}
	rec, err := q.reconciled()
	if err != nil {
		responses.Error(c, http.StatusBadRequest, "Valor inválido para reconciled", err.Error())
		return
	}
	items, total, err := h.store.FindLedger(c.Request.Context(), store.LedgerFilter{
		AccountID: q.AccountID, Reconciled: rec, DateFrom: q.DateFrom, DateTo: q.DateTo,
	})
	if err != nil {
		responses.FromError(c, err)
		return
	}
	if items == nil {
		items = []domain.LedgerTransaction{}
	}
	responses.Success(c, page[domain.LedgerTransaction]{Items: items, Total: total}, "")
}

// CreateLedger cadastra uma receita ou despesa pendente.
func (h *RecordsHandler) CreateLedger(c *gin.Context) {
	var tx domain.LedgerTransaction
	if err := c.ShouldBindJSON(&tx); err != nil {
		responses.Error(c, http.StatusBadRequest, "Lançamento inválido", err.Error())
		return
	}

	var reasons []string
	if strings.TrimSpace(tx.AccountID) == "" {
		reasons = append(reasons, "accountId é obrigatório")
	}
	if tx.Kind != domain.KindRevenue && tx.Kind != domain.KindExpense {
		reasons = append(reasons, "kind deve ser revenue ou expense")
	}
	if _, ok := normalizer.ParseISODate(tx.Date); !ok {
		reasons = append(reasons, "data inválida (use AAAA-MM-DD)")
	}
	if tx.Value <= 0 {
		reasons = append(reasons, "valor deve ser positivo")
	}
	if len(reasons) > 0 {
		responses.FromError(c, &domain.ValidationError{Field: "ledger", Reasons: reasons})
		return
	}

	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	tx.Status = domain.LedgerStatusPending
	tx.Reconciled = false
	saved, err := h.store.CreateLedger(c.Request.Context(), tx)
	if err != nil {
		responses.FromError(c, err)
		return
	}
	responses.Created(c, http.StatusCreated, saved, "Lançamento criado")
}
