package reconciliation

import (
	"sort"
	"strings"

	"conciliacao-service/internal/core/normalizer"
	"conciliacao-service/internal/domain"
)

// SortField é o critério de ordenação da lista de pares.
type SortField string

// Critérios aceitos.
const (
	SortByConfidence SortField = "confidence"
	SortByAmount     SortField = "amount"
	SortByDate       SortField = "date"
)

// Filter restringe e ordena pares para exibição. Campos zero não filtram.
type Filter struct {
	Status        domain.MatchStatus `form:"status"`
	MinConfidence float64            `form:"minConfidence"`
	Search        string             `form:"search"`
	MinAmount     *float64           `form:"minAmount"`
	MaxAmount     *float64           `form:"maxAmount"`
	DateFrom      string             `form:"dateFrom"`
	DateTo        string             `form:"dateTo"`
	SortBy        SortField          `form:"sortBy"`
	Desc          bool               `form:"desc"`
}

// Apply devolve uma nova lista filtrada e ordenada; empates mantêm a ordem de entrada.
func (f Filter) Apply(matches []domain.MatchCandidate) []domain.MatchCandidate {
	search := normalizer.NormalizeText(f.Search)

	out := make([]domain.MatchCandidate, 0, len(matches))
	for _, m := range matches {
		if f.keep(m, search) {
			out = append(out, m)
		}
	}

	var less func(a, b domain.MatchCandidate) bool
	switch f.SortBy {
	case SortByConfidence:
		less = func(a, b domain.MatchCandidate) bool { return a.Confidence < b.Confidence }
	case SortByAmount:
		less = func(a, b domain.MatchCandidate) bool { return a.BankTransaction.Amount < b.BankTransaction.Amount }
	case SortByDate:
		less = func(a, b domain.MatchCandidate) bool { return a.BankTransaction.Date < b.BankTransaction.Date }
	default:
		return out
	}
	sort.SliceStable(out, func(i, j int) bool {
		if f.Desc {
			return less(out[j], out[i])
		}
		return less(out[i], out[j])
	})
	return out
}

func (f Filter) keep(m domain.MatchCandidate, search string) bool {
	if f.Status != "" && m.Status != f.Status {
		return false
	}
	if m.Confidence < f.MinConfidence {
		return false
	}
	amount := m.BankTransaction.Amount
	if f.MinAmount != nil && amount < *f.MinAmount {
		return false
	}
	if f.MaxAmount != nil && amount > *f.MaxAmount {
		return false
	}
	date := m.BankTransaction.Date
	if f.DateFrom != "" && date < f.DateFrom {
		return false
	}
	if f.DateTo != "" && date > f.DateTo {
		return false
	}
	if search == "" {
		return true
	}
	fields := []string{
		m.BankTransaction.Description,
		m.InternalTransaction.Description,
		m.InternalTransaction.Reference,
	}
	if m.BankTransaction.Document != nil {
		fields = append(fields, *m.BankTransaction.Document)
	}
	for _, field := range fields {
		if strings.Contains(normalizer.NormalizeText(field), search) {
			return true
		}
	}
	return false
}
