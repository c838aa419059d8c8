// package domain/models.go
package domain

import "time"

// TransactionType indica o sentido do lançamento no extrato.
type TransactionType string

// Constantes de tipo de transação. O sinal nunca é carregado pelo valor.
const (
	TypeCredit TransactionType = "credit"
	TypeDebit  TransactionType = "debit"
)

// Format identifica a estrutura do arquivo importado.
type Format string

// Formatos suportados.
const (
	FormatCSV  Format = "csv"
	FormatOFX  Format = "ofx"
	FormatTXT  Format = "txt"
	FormatXLSX Format = "xlsx"
	FormatXLS  Format = "xls"
)

// Encoding identifica a codificação de caracteres detectada.
type Encoding string

// Codificações reconhecidas pelo detector.
const (
	EncodingUTF8        Encoding = "utf8"
	EncodingUTF16LE     Encoding = "utf16le"
	EncodingUTF16BE     Encoding = "utf16be"
	EncodingLatin1      Encoding = "latin1"
	EncodingWindows1252 Encoding = "windows1252"
)

// SemanticField é uma coluna com significado conhecido no extrato.
type SemanticField string

// Campos semânticos mapeáveis a partir do cabeçalho.
const (
	FieldDate        SemanticField = "date"
	FieldDescription SemanticField = "description"
	FieldAmount      SemanticField = "amount"
	FieldDocument    SemanticField = "document"
	FieldBalance     SemanticField = "balance"
	FieldCredit      SemanticField = "credit"
	FieldDebit       SemanticField = "debit"
)

// RawTransaction é a saída do parser, já normalizada.
type RawTransaction struct {
	ID          string          `json:"id"`
	Date        string          `json:"date"`
	Description string          `json:"description"`
	Amount      float64         `json:"amount"`
	Type        TransactionType `json:"type"`
	Document    *string         `json:"document"`
	Balance     *float64        `json:"balance"`
	SourceLine  []string        `json:"sourceLine,omitempty"`
}

// BankStatementRecord é a unidade persistida de uma importação.
type BankStatementRecord struct {
	RawTransaction
	SourceID          string    `json:"sourceId"`
	AccountID         string    `json:"accountId"`
	Reconciled        bool      `json:"reconciled"`
	HashUnique        string    `json:"hashUnique"`
	SuggestedCategory *string   `json:"suggestedCategory"`
	ImportedAt        time.Time `json:"importedAt"`
}

// LedgerKind distingue receitas de despesas no livro interno.
type LedgerKind string

// Tipos de lançamento interno.
const (
	KindRevenue LedgerKind = "revenue"
	KindExpense LedgerKind = "expense"
)

// Status de lançamentos internos manipulados pela conciliação.
const (
	LedgerStatusPending  = "pending"
	LedgerStatusReceived = "received"
	LedgerStatusPaid     = "paid"
)

// LedgerTransaction representa uma receita ou despesa do livro interno.
type LedgerTransaction struct {
	ID          string     `json:"id"`
	Kind        LedgerKind `json:"kind"`
	Date        string     `json:"date"`
	Value       float64    `json:"value"`
	Description string     `json:"description"`
	Reference   string     `json:"reference,omitempty"`
	Status      string     `json:"status"`
	AccountID   string     `json:"accountId"`
	Reconciled  bool       `json:"reconciled"`
}

// SettledStatus retorna o status que o lançamento assume quando conciliado.
func (l LedgerTransaction) SettledStatus() string {
	if l.Kind == KindRevenue {
		return LedgerStatusReceived
	}
	return LedgerStatusPaid
}

// CategoryType separa categorias de receita e despesa.
type CategoryType string

// Tipos de categoria.
const (
	CategoryRevenue CategoryType = "Revenue"
	CategoryExpense CategoryType = "Expense"
)

// CategoryTypeFor retorna o tipo de categoria compatível com a transação.
func CategoryTypeFor(t TransactionType) CategoryType {
	if t == TypeCredit {
		return CategoryRevenue
	}
	return CategoryExpense
}

// CategoryFilter restringe a consulta de categorias.
type CategoryFilter struct {
	Type CategoryType
}

// Category é somente leitura para o núcleo de conciliação.
type Category struct {
	ID   string       `json:"id"`
	Name string       `json:"name"`
	Type CategoryType `json:"type"`
}

// MatchType indica quem propôs o par.
type MatchType string

// Origens possíveis de um par.
const (
	MatchAutomatic MatchType = "automatic"
	MatchManual    MatchType = "manual"
)

// MatchStatus é o estado de revisão de um par.
type MatchStatus string

// pending -> approved | rejected (terminais).
const (
	MatchPending  MatchStatus = "pending"
	MatchApproved MatchStatus = "approved"
	MatchRejected MatchStatus = "rejected"
)

// MatchCandidate liga uma transação do extrato a um lançamento interno.
type MatchCandidate struct {
	ID                  string              `json:"id"`
	BankTransaction     BankStatementRecord `json:"bankTransaction"`
	InternalTransaction LedgerTransaction   `json:"internalTransaction"`
	Confidence          float64             `json:"confidence"`
	MatchType           MatchType           `json:"matchType"`
	Status              MatchStatus         `json:"status"`
	MatchReasons        []string            `json:"matchReasons"`
	CreatedAt           time.Time           `json:"createdAt"`
	ReviewedAt          *time.Time          `json:"reviewedAt,omitempty"`
}

// ColumnMapping associa campos semânticos a índices de coluna do CSV.
type ColumnMapping map[SemanticField]int

// Has informa se o campo está mapeado para uma coluna válida.
func (m ColumnMapping) Has(f SemanticField) bool {
	idx, ok := m[f]
	return ok && idx >= 0
}

// Missing lista os campos obrigatórios ausentes. Um par crédito/débito
// substitui a coluna de valor.
func (m ColumnMapping) Missing() []SemanticField {
	var missing []SemanticField
	if !m.Has(FieldDate) {
		missing = append(missing, FieldDate)
	}
	if !m.Has(FieldAmount) && !(m.Has(FieldCredit) || m.Has(FieldDebit)) {
		missing = append(missing, FieldAmount)
	}
	if !m.Has(FieldDescription) {
		missing = append(missing, FieldDescription)
	}
	return missing
}

// RowError descreve uma linha descartada pelo parser ou reprovada na validação.
type RowError struct {
	Line    int      `json:"line"`
	Reasons []string `json:"reasons"`
	Raw     []string `json:"raw,omitempty"`
}

// CommitResult resume a gravação de uma importação.
type CommitResult struct {
	Imported   int        `json:"imported"`
	Duplicates int        `json:"duplicates"`
	Total      int        `json:"total"`
	Failed     int        `json:"failed"`
	Errors     []RowError `json:"errors,omitempty"`
}
