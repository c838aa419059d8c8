package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"conciliacao-service/internal/api/responses"
	"conciliacao-service/internal/core/importer"
	"conciliacao-service/internal/core/reconciliation"
	"conciliacao-service/internal/domain"

	"github.com/gin-gonic/gin"
)

// ImportHandler lida com as etapas de importação de extratos.
type ImportHandler struct {
	service   importer.Service
	autoMatch bool
}

// NewImportHandler cria o handler. autoMatch define se POST /imports/run
// gera candidatos quando o formulário não informa.
func NewImportHandler(service importer.Service, autoMatch bool) *ImportHandler {
	return &ImportHandler{service: service, autoMatch: autoMatch}
}

// Register monta as rotas de importação no grupo informado.
func (h *ImportHandler) Register(g *gin.RouterGroup) {
	g.POST("/imports", h.Upload)
	g.POST("/imports/run", h.Run)
	g.GET("/imports/:id", h.Get)
	g.DELETE("/imports/:id", h.Discard)
	g.POST("/imports/:id/mapping", h.Map)
	g.POST("/imports/:id/auto-match", h.AutoMatch)
	g.POST("/imports/:id/skip-match", h.SkipMatch)
	g.POST("/imports/:id/matches/:matchId/approve", h.review(reconciliation.ActionApprove))
	g.POST("/imports/:id/matches/:matchId/reject", h.review(reconciliation.ActionReject))
	g.GET("/imports/:id/preview", h.Preview)
	g.GET("/imports/:id/export", h.Export)
	g.POST("/imports/:id/commit", h.Commit)
}

// uploadRequest lê o multipart comum a Upload e Run.
func uploadRequest(c *gin.Context) (importer.UploadRequest, bool) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		responses.Error(c, http.StatusBadRequest, "Arquivo de extrato (.csv, .ofx, .txt, .xls, .xlsx) não encontrado ou inválido")
		return importer.UploadRequest{}, false
	}
	accountID := strings.TrimSpace(c.PostForm("accountId"))
	if accountID == "" {
		responses.Error(c, http.StatusBadRequest, "Conta bancária (accountId) é obrigatória")
		return importer.UploadRequest{}, false
	}

	file, err := fileHeader.Open()
	if err != nil {
		responses.Error(c, http.StatusInternalServerError, "Não foi possível abrir o arquivo de extrato")
		return importer.UploadRequest{}, false
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		responses.Error(c, http.StatusInternalServerError, "Não foi possível ler o arquivo de extrato")
		return importer.UploadRequest{}, false
	}

	req := importer.UploadRequest{
		AccountID: accountID,
		Filename:  fileHeader.Filename,
		Content:   content,
		BankID:    strings.TrimSpace(c.PostForm("bankId")),
		Delimiter: c.PostForm("delimiter"),
	}
	if v := c.PostForm("hasHeader"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			responses.Error(c, http.StatusBadRequest, fmt.Sprintf("Valor inválido para hasHeader: %s", v))
			return importer.UploadRequest{}, false
		}
		req.HasHeader = &b
	}
	return req, true
}

// Upload recebe o arquivo e devolve a sessão criada.
func (h *ImportHandler) Upload(c *gin.Context) {
	req, ok := uploadRequest(c)
	if !ok {
		return
	}
	sess, err := h.service.Upload(c.Request.Context(), req)
	if err != nil {
		responses.FromError(c, err)
		return
	}
	message := "Arquivo processado"
	if len(sess.MissingFields) > 0 {
		message = "Informe o mapeamento das colunas"
	}
	responses.Created(c, http.StatusCreated, sess, message)
}

// Run executa a importação completa em uma chamada.
func (h *ImportHandler) Run(c *gin.Context) {
	req, ok := uploadRequest(c)
	if !ok {
		return
	}
	autoMatch := h.autoMatch
	if v := c.PostForm("autoMatch"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			responses.Error(c, http.StatusBadRequest, fmt.Sprintf("Valor inválido para autoMatch: %s", v))
			return
		}
		autoMatch = b
	}
	sess, err := h.service.Run(c.Request.Context(), req, autoMatch)
	if err != nil {
		responses.FromError(c, err)
		return
	}
	responses.Success(c, sess, "Importação concluída")
}

// Get devolve o estado da sessão.
func (h *ImportHandler) Get(c *gin.Context) {
	sess, err := h.service.Get(c.Param("id"))
	if err != nil {
		responses.FromError(c, err)
		return
	}
	responses.Success(c, sess, "")
}

// Discard abandona a sessão sem gravar nada.
func (h *ImportHandler) Discard(c *gin.Context) {
	if err := h.service.Discard(c.Param("id")); err != nil {
		responses.FromError(c, err)
		return
	}
	responses.Success(c, nil, "Importação descartada")
}

// Map aplica o mapeamento enviado no corpo. Corpo vazio aceita o detectado.
func (h *ImportHandler) Map(c *gin.Context) {
	var mapping domain.ColumnMapping
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&mapping); err != nil && err != io.EOF {
			responses.Error(c, http.StatusBadRequest, "Mapeamento de colunas inválido", err.Error())
			return
		}
	}
	sess, err := h.service.Map(c.Request.Context(), c.Param("id"), mapping)
	if err != nil {
		responses.FromError(c, err)
		return
	}
	responses.Success(c, sess, "Mapeamento aplicado")
}

// AutoMatch gera os pares candidatos da sessão.
func (h *ImportHandler) AutoMatch(c *gin.Context) {
	sess, err := h.service.AutoMatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		responses.FromError(c, err)
		return
	}
	responses.Success(c, sess, fmt.Sprintf("%d par(es) sugerido(s)", len(sess.Matches)))
}

// SkipMatch pula a etapa de pareamento.
func (h *ImportHandler) SkipMatch(c *gin.Context) {
	sess, err := h.service.SkipMatch(c.Param("id"))
	if err != nil {
		responses.FromError(c, err)
		return
	}
	responses.Success(c, sess, "")
}

func (h *ImportHandler) review(action reconciliation.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := h.service.ReviewMatch(c.Param("id"), c.Param("matchId"), action)
		if err != nil {
			responses.FromError(c, err)
			return
		}
		responses.Success(c, sess, "")
	}
}

// Preview valida as linhas e marca duplicadas.
func (h *ImportHandler) Preview(c *gin.Context) {
	sess, err := h.service.Preview(c.Request.Context(), c.Param("id"))
	if err != nil {
		responses.FromError(c, err)
		return
	}
	responses.Success(c, sess, "")
}

// Export devolve as linhas da sessão em CSV.
func (h *ImportHandler) Export(c *gin.Context) {
	out, err := h.service.Export(c.Param("id"))
	if err != nil {
		responses.FromError(c, err)
		return
	}
	fileName := fmt.Sprintf("Extrato_%s.csv", time.Now().Format("20060102_150405"))
	c.Header("Content-Disposition", "attachment; filename="+fileName)
	c.Data(http.StatusOK, "text/csv; charset=windows-1252", out)
}

// Commit grava as linhas válidas e os pares aprovados.
func (h *ImportHandler) Commit(c *gin.Context) {
	sess, err := h.service.Commit(c.Request.Context(), c.Param("id"))
	if err != nil {
		responses.FromError(c, err)
		return
	}
	r := sess.Result
	responses.Success(c, sess, fmt.Sprintf("%d importada(s), %d duplicada(s), %d com falha", r.Imported, r.Duplicates, r.Failed))
}
