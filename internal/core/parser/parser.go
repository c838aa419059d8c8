// Package parser extrai transações normalizadas de extratos CSV, OFX, TXT e
// planilhas. É best-effort: uma linha ruim vira RowError e não aborta o lote.
package parser

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"conciliacao-service/internal/core/banks"
	"conciliacao-service/internal/core/normalizer"
	"conciliacao-service/internal/domain"

	"go.uber.org/zap"
)

// MaxFileSize é o teto aceito para um extrato (10MB).
const MaxFileSize = 10 << 20

// Options ajusta o parsing de arquivos tabulares. Valores zero usam o perfil do banco.
type Options struct {
	Delimiter   rune
	HasHeader   *bool
	Mapping     domain.ColumnMapping
	MaxFileSize int
	// RawSize é o tamanho em bytes do arquivo antes da decodificação. O texto
	// decodificado de Latin-1 ou Windows-1252 cresce, então o teto vale para
	// o original quando ele é conhecido.
	RawSize int
}

func (o Options) maxSize() int {
	if o.MaxFileSize > 0 {
		return o.MaxFileSize
	}
	return MaxFileSize
}

func (o Options) tooLarge(decoded int) bool {
	size := decoded
	if o.RawSize > 0 {
		size = o.RawSize
	}
	return size > o.maxSize()
}

// Result é a saída do parser. Header e Mapping só existem para formatos tabulares.
type Result struct {
	Transactions []domain.RawTransaction `json:"transactions"`
	RowErrors    []domain.RowError       `json:"rowErrors,omitempty"`
	Header       []string                `json:"header,omitempty"`
	Mapping      domain.ColumnMapping    `json:"mapping,omitempty"`
	Delimiter    string                  `json:"delimiter,omitempty"`
}

// Service define a interface do parser de extratos.
type Service interface {
	Parse(content string, profile banks.BankProfile, format domain.Format, opts Options) (*Result, error)
	ParseWorkbook(data []byte, profile banks.BankProfile, opts Options) (*Result, error)
}

type service struct {
	logger *zap.Logger
}

// NewService cria o parser. logger nil equivale a zap.NewNop().
func NewService(logger *zap.Logger) Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &service{logger: logger}
}

// Parse despacha pelo formato. Arquivo acima do teto ou sem nenhuma transação
// extraída é ParseError. Mapeamento sem os campos obrigatórios devolve o
// Result parcial (cabeçalho e mapeamento) junto de um ValidationError.
func (s *service) Parse(content string, profile banks.BankProfile, format domain.Format, opts Options) (*Result, error) {
	if opts.tooLarge(len(content)) {
		return nil, &domain.ParseError{Reason: fmt.Sprintf("arquivo excede o limite de %d bytes", opts.maxSize())}
	}

	var (
		res *Result
		err error
	)
	switch format {
	case domain.FormatCSV:
		res, err = s.parseCSV(content, profile, opts)
	case domain.FormatOFX:
		res = s.parseOFX(content)
	case domain.FormatTXT:
		res = s.parseTXT(content, profile)
	default:
		return nil, &domain.ParseError{Reason: fmt.Sprintf("formato não suportado: %s", format)}
	}
	if err != nil {
		return res, err
	}
	return s.finish(res, profile, format)
}

func (s *service) finish(res *Result, profile banks.BankProfile, format domain.Format) (*Result, error) {
	assignIDs(res.Transactions)
	if len(res.RowErrors) > 0 {
		s.logger.Debug("linhas descartadas no parsing",
			zap.String("bank", profile.ID),
			zap.String("format", string(format)),
			zap.Int("rows", len(res.RowErrors)))
	}
	if len(res.Transactions) == 0 {
		return res, &domain.ParseError{Reason: "nenhuma transação encontrada no arquivo"}
	}
	return res, nil
}

// TransactionID é o hash curto de data, valor e dos 20 primeiros caracteres da descrição.
func TransactionID(date string, amount float64, description string) string {
	desc := []rune(description)
	if len(desc) > 20 {
		desc = desc[:20]
	}
	sum := sha256.Sum256([]byte(date + "|" + normalizer.CanonicalAmount(amount) + "|" + string(desc)))
	return hex.EncodeToString(sum[:])[:16]
}

// assignIDs gera os ids; linhas idênticas no mesmo arquivo recebem sufixo ordinal.
func assignIDs(txs []domain.RawTransaction) {
	seen := make(map[string]int, len(txs))
	for i := range txs {
		id := TransactionID(txs[i].Date, txs[i].Amount, txs[i].Description)
		seen[id]++
		if n := seen[id]; n > 1 {
			id = fmt.Sprintf("%s-%d", id, n)
		}
		txs[i].ID = id
	}
}

// ---------------------- linhas tabulares ----------------------

type row struct {
	line   int
	fields []string
}

// tableParser converte linhas já divididas em colunas (CSV ou planilha).
type tableParser struct {
	profile    banks.BankProfile
	mapping    domain.ColumnMapping
	excelDates bool
}

func (p tableParser) cell(fields []string, f domain.SemanticField) string {
	idx, ok := p.mapping[f]
	if !ok || idx < 0 || idx >= len(fields) {
		return ""
	}
	return strings.TrimSpace(fields[idx])
}

// parseRow nunca entra em pânico: toda falha esperada volta como erro com os motivos.
func (p tableParser) parseRow(r row) (domain.RawTransaction, error) {
	var reasons []string

	dateRaw := p.cell(r.fields, domain.FieldDate)
	date, ok := normalizer.ParseDate(dateRaw)
	if !ok && p.excelDates {
		date, ok = excelDate(dateRaw)
	}
	if !ok {
		reasons = append(reasons, fmt.Sprintf("data inválida: %q", dateRaw))
	}

	description := strings.Join(strings.Fields(p.cell(r.fields, domain.FieldDescription)), " ")

	amount, typ, err := p.amount(r.fields, description)
	if err != nil {
		reasons = append(reasons, err.Error())
	}

	if len(reasons) > 0 {
		return domain.RawTransaction{}, &domain.ValidationError{Field: fmt.Sprintf("linha %d", r.line), Reasons: reasons}
	}

	tx := domain.RawTransaction{
		Date:        date,
		Description: description,
		Amount:      amount,
		Type:        typ,
		SourceLine:  r.fields,
	}
	if doc := p.cell(r.fields, domain.FieldDocument); doc != "" {
		tx.Document = &doc
	}
	if bal, ok := normalizer.ParseAmount(p.cell(r.fields, domain.FieldBalance)); ok {
		tx.Balance = &bal
	}
	return tx, nil
}

// amount resolve valor e tipo. Colunas de crédito/débito separadas e marcadores
// C/D fixam o tipo; caso contrário valem os padrões do banco e depois o sinal.
func (p tableParser) amount(fields []string, description string) (float64, domain.TransactionType, error) {
	if p.mapping.Has(domain.FieldCredit) || p.mapping.Has(domain.FieldDebit) {
		if v, _, ok := parseSignedAmount(p.cell(fields, domain.FieldCredit)); ok && v != 0 {
			return normalizer.RoundCents(abs(v)), domain.TypeCredit, nil
		}
		if v, _, ok := parseSignedAmount(p.cell(fields, domain.FieldDebit)); ok && v != 0 {
			return normalizer.RoundCents(abs(v)), domain.TypeDebit, nil
		}
		if !p.mapping.Has(domain.FieldAmount) {
			return 0, "", fmt.Errorf("valor ausente nas colunas de crédito e débito")
		}
	}

	raw := p.cell(fields, domain.FieldAmount)
	v, marker, ok := parseSignedAmount(raw)
	if !ok {
		return 0, "", fmt.Errorf("valor inválido: %q", raw)
	}
	typ := marker
	if typ == "" {
		typ = p.profile.InferType(description, v)
	}
	return abs(v), typ, nil
}

// parseSignedAmount aceita sufixos D/C ("150,00 D", "150,00C").
func parseSignedAmount(raw string) (float64, domain.TransactionType, bool) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	var marker domain.TransactionType
	switch {
	case strings.HasSuffix(s, "D"):
		marker = domain.TypeDebit
		s = strings.TrimSpace(strings.TrimSuffix(s, "D"))
	case strings.HasSuffix(s, "C"):
		marker = domain.TypeCredit
		s = strings.TrimSpace(strings.TrimSuffix(s, "C"))
	}
	v, ok := normalizer.ParseAmount(s)
	if !ok {
		return 0, "", false
	}
	if marker == domain.TypeDebit && v > 0 {
		v = -v
	}
	return v, marker, true
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// locateHeader procura, nas primeiras 40 linhas, a primeira que mapeia todos os
// campos obrigatórios. Sem nenhuma, assume a primeira linha.
func locateHeader(rows []row, profile banks.BankProfile) int {
	limit := 40
	if len(rows) < limit {
		limit = len(rows)
	}
	for i := 0; i < limit; i++ {
		if len(profile.MapHeader(rows[i].fields).Missing()) == 0 {
			return i
		}
	}
	return 0
}

// parseTable aplica cabeçalho, mapeamento e parseRow sobre as linhas.
func (s *service) parseTable(rows []row, profile banks.BankProfile, opts Options, delim rune, excelDates bool) (*Result, error) {
	res := &Result{}
	if delim != 0 {
		res.Delimiter = string(delim)
	}
	if len(rows) == 0 {
		return res, nil
	}

	hasHeader := profile.HasHeader
	if opts.HasHeader != nil {
		hasHeader = *opts.HasHeader
	}

	body := rows
	width := 0
	if hasHeader {
		h := locateHeader(rows, profile)
		res.Header = rows[h].fields
		width = len(res.Header)
		body = rows[h+1:]
	}

	switch {
	case len(opts.Mapping) > 0:
		res.Mapping = opts.Mapping
	case hasHeader:
		res.Mapping = profile.MapHeader(res.Header)
	default:
		res.Mapping = banks.PositionalMapping()
	}
	if missing := res.Mapping.Missing(); len(missing) > 0 {
		reasons := make([]string, 0, len(missing))
		for _, f := range missing {
			reasons = append(reasons, fmt.Sprintf("campo obrigatório sem coluna: %s", f))
		}
		return res, &domain.ValidationError{Field: "mapping", Reasons: reasons}
	}
	if width == 0 {
		for _, idx := range res.Mapping {
			if idx+1 > width {
				width = idx + 1
			}
		}
	}

	tp := tableParser{profile: profile, mapping: res.Mapping, excelDates: excelDates}
	for _, r := range body {
		if isBlank(r.fields) {
			continue
		}
		if delim == ',' && len(r.fields) > width {
			r.fields = repairSplitDecimals(r.fields, width)
		}
		tx, err := tp.parseRow(r)
		if err != nil {
			res.RowErrors = append(res.RowErrors, rowError(r, err))
			continue
		}
		res.Transactions = append(res.Transactions, tx)
	}
	return res, nil
}

func rowError(r row, err error) domain.RowError {
	re := domain.RowError{Line: r.line, Raw: r.fields}
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		re.Reasons = ve.Reasons
	} else {
		re.Reasons = []string{err.Error()}
	}
	return re
}

func isBlank(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
