package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"conciliacao-service/internal/api/responses"
	"conciliacao-service/internal/core/reconciliation"

	"github.com/gin-gonic/gin"
)

// MatchHandler expõe a revisão dos pares persistidos.
type MatchHandler struct {
	service reconciliation.Service
}

// NewMatchHandler cria o handler de pares.
func NewMatchHandler(service reconciliation.Service) *MatchHandler {
	return &MatchHandler{service: service}
}

// Register monta as rotas de pares no grupo informado.
func (h *MatchHandler) Register(g *gin.RouterGroup) {
	g.GET("/matches", h.List)
	g.POST("/matches", h.CreateManual)
	g.POST("/matches/auto", h.AutoMatch)
	g.POST("/matches/bulk", h.Bulk)
	g.POST("/matches/:id/approve", h.Approve)
	g.POST("/matches/:id/reject", h.Reject)
	g.DELETE("/matches/:id", h.Delete)
	g.GET("/statements/:id/suggestions", h.Suggest)
}

type listQuery struct {
	AccountID string `form:"accountId"`
	reconciliation.Filter
}

// List filtra e ordena os pares de uma conta.
func (h *MatchHandler) List(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		responses.Error(c, http.StatusBadRequest, "Filtros inválidos", err.Error())
		return
	}
	if q.AccountID == "" {
		responses.Error(c, http.StatusBadRequest, "Conta bancária (accountId) é obrigatória")
		return
	}
	matches, err := h.service.List(c.Request.Context(), q.AccountID, q.Filter)
	if err != nil {
		responses.FromError(c, err)
		return
	}
	responses.Success(c, matches, "")
}

type manualRequest struct {
	BankTransactionID string `json:"bankTransactionId" binding:"required"`
	LedgerID          string `json:"ledgerId" binding:"required"`
}

// CreateManual cria um par escolhido pelo usuário.
func (h *MatchHandler) CreateManual(c *gin.Context) {
	var req manualRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.Error(c, http.StatusBadRequest, "Informe bankTransactionId e ledgerId", err.Error())
		return
	}
	m, err := h.service.CreateManual(c.Request.Context(), req.BankTransactionID, req.LedgerID)
	if err != nil {
		responses.FromError(c, err)
		return
	}
	responses.Created(c, http.StatusCreated, m, "Par criado")
}

type autoRequest struct {
	AccountID string `json:"accountId" binding:"required"`
	reconciliation.Period
}

// AutoMatch gera pares automáticos para as transações não conciliadas da conta.
func (h *MatchHandler) AutoMatch(c *gin.Context) {
	var req autoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.Error(c, http.StatusBadRequest, "Conta bancária (accountId) é obrigatória", err.Error())
		return
	}
	matches, err := h.service.AutoMatch(c.Request.Context(), req.AccountID, req.Period)
	if err != nil {
		responses.FromError(c, err)
		return
	}
	responses.Success(c, matches, fmt.Sprintf("%d par(es) sugerido(s)", len(matches)))
}

type bulkRequest struct {
	IDs    []string              `json:"ids" binding:"required"`
	Action reconciliation.Action `json:"action" binding:"required"`
}

// Bulk aprova ou rejeita vários pares; falhas individuais não interrompem o lote.
func (h *MatchHandler) Bulk(c *gin.Context) {
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.Error(c, http.StatusBadRequest, "Informe ids e action", err.Error())
		return
	}
	req.Action = reconciliation.Action(strings.ToLower(string(req.Action)))
	if req.Action != reconciliation.ActionApprove && req.Action != reconciliation.ActionReject {
		responses.Error(c, http.StatusBadRequest, fmt.Sprintf("Ação não suportada: %s", req.Action))
		return
	}
	res := h.service.Bulk(c.Request.Context(), req.IDs, req.Action)
	responses.Success(c, res, fmt.Sprintf("%d processado(s), %d com falha", len(res.Succeeded), len(res.Failed)))
}

// Approve aprova um par pendente.
func (h *MatchHandler) Approve(c *gin.Context) {
	m, err := h.service.Approve(c.Request.Context(), c.Param("id"))
	if err != nil {
		responses.FromError(c, err)
		return
	}
	responses.Success(c, m, "Par aprovado")
}

// Reject rejeita um par pendente.
func (h *MatchHandler) Reject(c *gin.Context) {
	m, err := h.service.Reject(c.Request.Context(), c.Param("id"))
	if err != nil {
		responses.FromError(c, err)
		return
	}
	responses.Success(c, m, "Par rejeitado")
}

// Delete remove o par e desfaz a conciliação se ele estava aprovado.
func (h *MatchHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		responses.FromError(c, err)
		return
	}
	responses.Success(c, nil, "Par removido")
}

// Suggest lista os candidatos de uma transação do extrato.
func (h *MatchHandler) Suggest(c *gin.Context) {
	matches, err := h.service.Suggest(c.Request.Context(), c.Param("id"))
	if err != nil {
		responses.FromError(c, err)
		return
	}
	responses.Success(c, matches, "")
}
