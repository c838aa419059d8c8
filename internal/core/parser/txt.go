package parser

import (
	"fmt"
	"strings"

	"conciliacao-service/internal/core/banks"
	"conciliacao-service/internal/core/normalizer"
	"conciliacao-service/internal/domain"
)

// parseTXT trata cada linha como "<data> <descrição...> <valor> [C|D]".
// Layouts de largura fixa por banco ficam para perfis específicos.
func (s *service) parseTXT(content string, profile banks.BankProfile) *Result {
	res := &Result{}
	for i, line := range strings.Split(content, "\n") {
		tokens := strings.Fields(line)
		if len(tokens) == 0 {
			continue
		}
		tx, err := parseTXTLine(tokens, profile)
		if err != nil {
			res.RowErrors = append(res.RowErrors, domain.RowError{Line: i + 1, Reasons: []string{err.Error()}, Raw: tokens})
			continue
		}
		res.Transactions = append(res.Transactions, tx)
	}
	return res
}

func parseTXTLine(tokens []string, profile banks.BankProfile) (domain.RawTransaction, error) {
	var marker domain.TransactionType
	if last := strings.ToUpper(tokens[len(tokens)-1]); len(tokens) > 3 && (last == "C" || last == "D") {
		if last == "C" {
			marker = domain.TypeCredit
		} else {
			marker = domain.TypeDebit
		}
		tokens = tokens[:len(tokens)-1]
	}
	if len(tokens) < 3 {
		return domain.RawTransaction{}, fmt.Errorf("linha com menos de três campos")
	}

	date, ok := normalizer.ParseDate(tokens[0])
	if !ok {
		return domain.RawTransaction{}, fmt.Errorf("data inválida: %q", tokens[0])
	}
	amount, amountMarker, ok := parseSignedAmount(tokens[len(tokens)-1])
	if !ok {
		return domain.RawTransaction{}, fmt.Errorf("valor inválido: %q", tokens[len(tokens)-1])
	}
	if marker == "" {
		marker = amountMarker
	}
	description := strings.Join(tokens[1:len(tokens)-1], " ")

	typ := marker
	if typ == "" {
		typ = profile.InferType(description, amount)
	}
	return domain.RawTransaction{
		Date:        date,
		Description: description,
		Amount:      abs(amount),
		Type:        typ,
		SourceLine:  tokens,
	}, nil
}
