package importer

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"strings"
	"unicode/utf8"

	"conciliacao-service/internal/core/normalizer"
	"conciliacao-service/internal/domain"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// sanitizeForCSV remove quebras de linha e tabs embutidos, troca outros
// caracteres de controle por espaço e apara as pontas.
func sanitizeForCSV(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		switch {
		case r == '\r' || r == '\n' || r == '\t':
			continue
		case r < 32 || r == 0x7f:
			b.WriteByte(' ')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Export gera o CSV (';', Windows-1252) das linhas da sessão. Depois da
// pré-visualização inclui a situação de cada linha.
func (s *service) Export(id string) ([]byte, error) {
	sess, err := s.sessions.Get(id)
	if err != nil {
		return nil, err
	}
	rows := sess.Preview
	if len(rows) == 0 {
		for i, r := range sess.Records {
			rows = append(rows, PreviewRow{Line: i + 1, Record: r})
		}
	}
	return gerarCSVPreview(rows, sess.Stage == StagePreviewed || sess.Stage == StageCommitted)
}

func gerarCSVPreview(rows []PreviewRow, validated bool) ([]byte, error) {
	var buffer bytes.Buffer
	encoder := encoding.ReplaceUnsupported(charmap.Windows1252.NewEncoder())
	tw := transform.NewWriter(&buffer, encoder)
	writer := csv.NewWriter(tw)
	writer.Comma = ';'

	header := []string{"Linha", "Data", "Descrição", "Valor", "Tipo", "Documento", "Saldo", "Categoria"}
	if validated {
		header = append(header, "Situação")
	}
	if err := writer.Write(header); err != nil {
		return nil, err
	}

	for _, row := range rows {
		r := row.Record
		record := []string{
			strconv.Itoa(row.Line),
			sanitizeForCSV(r.Date),
			sanitizeForCSV(r.Description),
			normalizer.FormatBRL(r.Amount),
			typeLabel(r.Type),
			sanitizeForCSV(deref(r.Document)),
			"",
			sanitizeForCSV(deref(r.SuggestedCategory)),
		}
		if r.Balance != nil {
			record[6] = normalizer.FormatBRL(*r.Balance)
		}
		if validated {
			record = append(record, situation(row))
		}
		if err := writer.Write(record); err != nil {
			return nil, err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func typeLabel(t domain.TransactionType) string {
	if t == domain.TypeCredit {
		return "C"
	}
	return "D"
}

func situation(row PreviewRow) string {
	switch {
	case row.HasErrors:
		return "Erro: " + strings.Join(row.Errors, ", ")
	case row.Duplicate:
		return "Duplicado"
	default:
		return "OK"
	}
}
