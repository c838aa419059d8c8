package banks

import (
	"regexp"

	"conciliacao-service/internal/domain"
)

// sinônimos de cabeçalho comuns a quase todos os bancos brasileiros
var commonColumns = map[domain.SemanticField][]string{
	domain.FieldDate:        {"data", "dt", "date"},
	domain.FieldCredit:      {"credito", "entrada"},
	domain.FieldDebit:       {"debito", "saida"},
	domain.FieldAmount:      {"valor", "montante", "quantia", "amount"},
	domain.FieldBalance:     {"saldo", "balance"},
	domain.FieldDocument:    {"documento", "doc", "n doc", "numero"},
	domain.FieldDescription: {"descricao", "historico", "lancamento", "detalhe", "memo", "description"},
}

var defaultCreditPattern = regexp.MustCompile(`PIX RECEBIDO|TED RECEBIDA|DOC RECEBIDO|TRANSF(ERENCIA)? RECEBIDA|DEPOSITO|\bCREDITO EM CONTA\b|\bCREDITO (DE )?SALARIO\b|\bSALARIO RECEBIDO\b|RENDIMENTO|ESTORNO|RECEBIMENTO|RESGATE`)
var defaultDebitPattern = regexp.MustCompile(`PIX ENVIADO|TED ENVIADA|DOC ENVIADO|TRANSF(ERENCIA)? ENVIADA|PAGAMENTO|PAGTO|SAQUE|TARIFA|COMPRA|DEBITO|BOLETO|IOF|JUROS|APLICACAO`)

// WithCommonColumns junta os sinônimos próprios do banco aos comuns; os próprios vêm primeiro.
func WithCommonColumns(extra map[domain.SemanticField][]string) map[domain.SemanticField][]string {
	out := make(map[domain.SemanticField][]string, len(commonColumns))
	for f, syn := range commonColumns {
		out[f] = append(append([]string{}, extra[f]...), syn...)
	}
	return out
}

// DefaultPatterns devolve os padrões de crédito/débito usados pela maioria dos bancos.
func DefaultPatterns() (credit, debit *regexp.Regexp) {
	return defaultCreditPattern, defaultDebitPattern
}

// AllFormats lista os formatos aceitos por um perfil genérico.
func AllFormats() []domain.Format {
	return append([]domain.Format(nil), allFormats...)
}

var allFormats = []domain.Format{domain.FormatCSV, domain.FormatOFX, domain.FormatTXT, domain.FormatXLSX, domain.FormatXLS}

// DefaultProfiles retorna os bancos embarcados no serviço.
func DefaultProfiles() []BankProfile {
	return []BankProfile{
		{
			ID:             "itau",
			DisplayName:    "Itaú Unibanco",
			Formats:        allFormats,
			Delimiter:      ';',
			HasHeader:      true,
			FilenameTokens: []string{"itau"},
			Signatures:     []string{"itau unibanco", "itau empresas", "sispag", "bankline"},
			CSVColumns:     WithCommonColumns(map[domain.SemanticField][]string{domain.FieldDescription: {"lancamento"}}),
			CreditPattern:  defaultCreditPattern,
			DebitPattern:   defaultDebitPattern,
		},
		{
			ID:             "bradesco",
			DisplayName:    "Bradesco",
			Formats:        allFormats,
			Delimiter:      ';',
			HasHeader:      true,
			FilenameTokens: []string{"bradesco"},
			Signatures:     []string{"bradesco", "net empresa", "bradesco celular", "dcto"},
			CSVColumns:     WithCommonColumns(map[domain.SemanticField][]string{domain.FieldDocument: {"dcto"}}),
			CreditPattern:  defaultCreditPattern,
			DebitPattern:   defaultDebitPattern,
		},
		{
			ID:             "santander",
			DisplayName:    "Santander",
			Formats:        allFormats,
			Delimiter:      ';',
			HasHeader:      true,
			FilenameTokens: []string{"santander"},
			Signatures:     []string{"santander", "banco santander", "internet banking empresarial"},
			CSVColumns:     WithCommonColumns(nil),
			CreditPattern:  defaultCreditPattern,
			DebitPattern:   defaultDebitPattern,
		},
		{
			ID:             "banco_do_brasil",
			DisplayName:    "Banco do Brasil",
			Formats:        allFormats,
			Delimiter:      ',',
			HasHeader:      true,
			FilenameTokens: []string{"bancodobrasil", "banco_do_brasil", "banco-do-brasil", "extrato_bb", "bb_"},
			Signatures:     []string{"banco do brasil", "bb com br", "dependencia origem", "gerenciador financeiro"},
			CSVColumns:     WithCommonColumns(map[domain.SemanticField][]string{domain.FieldDocument: {"numero do documento"}}),
			CreditPattern:  defaultCreditPattern,
			DebitPattern:   defaultDebitPattern,
		},
		{
			ID:             "caixa",
			DisplayName:    "Caixa Econômica Federal",
			Formats:        allFormats,
			Delimiter:      ';',
			HasHeader:      true,
			FilenameTokens: []string{"caixa_economica", "caixaeconomica", "extrato_caixa", "cef_"},
			Signatures:     []string{"caixa economica federal", "internet banking caixa", "nr doc"},
			CSVColumns:     WithCommonColumns(map[domain.SemanticField][]string{domain.FieldDocument: {"nr doc"}}),
			CreditPattern:  defaultCreditPattern,
			DebitPattern:   defaultDebitPattern,
		},
		{
			ID:             "nubank",
			DisplayName:    "Nubank",
			Formats:        allFormats,
			Delimiter:      ',',
			HasHeader:      true,
			FilenameTokens: []string{"nubank"},
			Signatures:     []string{"nubank", "nu pagamentos", "identificador"},
			CSVColumns:     WithCommonColumns(map[domain.SemanticField][]string{domain.FieldDocument: {"identificador"}}),
			CreditPattern:  regexp.MustCompile(`TRANSFERENCIA RECEBIDA|PIX RECEBIDO|DEPOSITO|ESTORNO|RESGATE|REEMBOLSO`),
			DebitPattern:   regexp.MustCompile(`TRANSFERENCIA ENVIADA|PIX ENVIADO|PAGAMENTO|COMPRA|DEBITO|APLICACAO`),
		},
		{
			ID:             "inter",
			DisplayName:    "Banco Inter",
			Formats:        allFormats,
			Delimiter:      ';',
			HasHeader:      true,
			FilenameTokens: []string{"bancointer", "banco_inter", "banco-inter"},
			Signatures:     []string{"banco inter", "inter s a", "inter empresas"},
			CSVColumns:     WithCommonColumns(nil),
			CreditPattern:  defaultCreditPattern,
			DebitPattern:   defaultDebitPattern,
		},
		{
			ID:             "sicredi",
			DisplayName:    "Sicredi",
			Formats:        allFormats,
			Delimiter:      ';',
			HasHeader:      true,
			FilenameTokens: []string{"sicredi"},
			Signatures:     []string{"sicredi", "cooperativa de credito", "associado"},
			CSVColumns:     WithCommonColumns(nil),
			CreditPattern:  defaultCreditPattern,
			DebitPattern:   defaultDebitPattern,
		},
		{
			ID:             "sicoob",
			DisplayName:    "Sicoob",
			Formats:        allFormats,
			Delimiter:      ';',
			HasHeader:      true,
			FilenameTokens: []string{"sicoob"},
			Signatures:     []string{"sicoob", "bancoob", "cooperado"},
			CSVColumns:     WithCommonColumns(nil),
			CreditPattern:  defaultCreditPattern,
			DebitPattern:   defaultDebitPattern,
		},
		{
			ID:            GenericID,
			DisplayName:   "Genérico",
			Formats:       allFormats,
			HasHeader:     true,
			CSVColumns:    WithCommonColumns(nil),
			CreditPattern: defaultCreditPattern,
			DebitPattern:  defaultDebitPattern,
		},
	}
}
