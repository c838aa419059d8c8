package handlers

import (
	"net/http"
	"strings"

	"conciliacao-service/internal/api/responses"
	"conciliacao-service/internal/core/banks"
	"conciliacao-service/internal/core/categorizer"
	"conciliacao-service/internal/domain"
	"conciliacao-service/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CatalogHandler expõe os bancos suportados e as categorias.
type CatalogHandler struct {
	registry   *banks.Registry
	engine     *categorizer.Engine
	categories store.CategoryStore
}

// NewCatalogHandler cria o handler de catálogo.
func NewCatalogHandler(registry *banks.Registry, engine *categorizer.Engine, categories store.CategoryStore) *CatalogHandler {
	return &CatalogHandler{registry: registry, engine: engine, categories: categories}
}

// Register monta as rotas no grupo informado.
func (h *CatalogHandler) Register(g *gin.RouterGroup) {
	g.GET("/banks", h.Banks)
	g.POST("/categorize", h.Categorize)
	g.GET("/categories", h.ListCategories)
	g.POST("/categories", h.CreateCategory)
	g.POST("/categories/invalidate", h.Invalidate)
}

type bankView struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Formats     []domain.Format `json:"formats"`
	Delimiter   string          `json:"delimiter"`
	HasHeader   bool            `json:"hasHeader"`
	Identifiers []string        `json:"identifiers,omitempty"`
}

// Banks lista os perfis de banco do registro.
func (h *CatalogHandler) Banks(c *gin.Context) {
	all := h.registry.All()
	out := make([]bankView, 0, len(all))
	for _, p := range all {
		out = append(out, bankView{
			ID:          p.ID,
			Name:        p.DisplayName,
			Formats:     p.Formats,
			Delimiter:   string(p.Delimiter),
			HasHeader:   p.HasHeader,
			Identifiers: p.FilenameTokens,
		})
	}
	responses.Success(c, out, "")
}

type categorizeRequest struct {
	Description string                 `json:"description" binding:"required"`
	Type        domain.TransactionType `json:"type" binding:"required"`
}

// Categorize sugere a categoria de uma descrição.
func (h *CatalogHandler) Categorize(c *gin.Context) {
	var req categorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.Error(c, http.StatusBadRequest, "Informe description e type", err.Error())
		return
	}
	if req.Type != domain.TypeCredit && req.Type != domain.TypeDebit {
		responses.Error(c, http.StatusBadRequest, "Tipo deve ser credit ou debit")
		return
	}
	responses.Success(c, h.engine.Suggest(c.Request.Context(), req.Description, req.Type), "")
}

// ListCategories lista as categorias, opcionalmente por tipo (?type=Revenue|Expense).
func (h *CatalogHandler) ListCategories(c *gin.Context) {
	filter := domain.CategoryFilter{Type: domain.CategoryType(c.Query("type"))}
	list, err := h.categories.GetCategories(c.Request.Context(), filter)
	if err != nil {
		responses.FromError(c, err)
		return
	}
	if list == nil {
		list = []domain.Category{}
	}
	responses.Success(c, list, "")
}

// CreateCategory cadastra uma categoria e invalida o cache da categorização.
func (h *CatalogHandler) CreateCategory(c *gin.Context) {
	var cat domain.Category
	if err := c.ShouldBindJSON(&cat); err != nil {
		responses.Error(c, http.StatusBadRequest, "Categoria inválida", err.Error())
		return
	}
	cat.Name = strings.TrimSpace(cat.Name)
	if cat.Name == "" || (cat.Type != domain.CategoryRevenue && cat.Type != domain.CategoryExpense) {
		responses.Error(c, http.StatusBadRequest, "Informe name e type (Revenue ou Expense)")
		return
	}
	if cat.ID == "" {
		cat.ID = uuid.NewString()
	}
	saved, err := h.categories.CreateCategory(c.Request.Context(), cat)
	if err != nil {
		responses.FromError(c, err)
		return
	}
	h.engine.Invalidate()
	responses.Created(c, http.StatusCreated, saved, "Categoria criada")
}

// Invalidate descarta o cache de categorias.
func (h *CatalogHandler) Invalidate(c *gin.Context) {
	h.engine.Invalidate()
	responses.Success(c, nil, "Cache de categorias invalidado")
}
