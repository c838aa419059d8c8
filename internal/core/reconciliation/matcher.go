// Package reconciliation pareia transações do extrato com lançamentos
// internos, filtra os pares para revisão e aplica aprovações e rejeições.
package reconciliation

import (
	"fmt"
	"math"
	"sort"
	"time"

	"conciliacao-service/internal/core/normalizer"
	"conciliacao-service/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// Config ajusta as tolerâncias do pareamento.
type Config struct {
	AmountTolerance        float64 // diferença de valor considerada "próxima"
	DateToleranceDays      int
	AutoMatchThreshold     float64 // confiança mínima para par automático
	MinCandidateConfidence float64 // piso para listar sugestões
}

// DefaultConfig devolve os valores usados na importação.
func DefaultConfig() Config {
	return Config{
		AmountTolerance:        0.50,
		DateToleranceDays:      2,
		AutoMatchThreshold:     0.8,
		MinCandidateConfidence: 0.5,
	}
}

// pesos da confiança combinada
const (
	amountWeight      = 0.55
	dateWeight        = 0.35
	descriptionWeight = 0.10
)

// Score detalha a pontuação de um par.
type Score struct {
	Amount      float64  `json:"amount"`
	Date        float64  `json:"date"`
	Description float64  `json:"description"`
	Confidence  float64  `json:"confidence"`
	Reasons     []string `json:"reasons"`
}

// Matcher calcula a confiança entre extrato e livro interno. Não guarda estado.
type Matcher struct {
	cfg Config
	now func() time.Time
}

// NewMatcher cria o matcher; tolerâncias não positivas assumem os padrões.
func NewMatcher(cfg Config) *Matcher {
	def := DefaultConfig()
	if cfg.AmountTolerance <= 0 {
		cfg.AmountTolerance = def.AmountTolerance
	}
	if cfg.DateToleranceDays <= 0 {
		cfg.DateToleranceDays = def.DateToleranceDays
	}
	if cfg.AutoMatchThreshold <= 0 || cfg.AutoMatchThreshold > 1 {
		cfg.AutoMatchThreshold = def.AutoMatchThreshold
	}
	if cfg.MinCandidateConfidence < 0 || cfg.MinCandidateConfidence > 1 {
		cfg.MinCandidateConfidence = def.MinCandidateConfidence
	}
	return &Matcher{cfg: cfg, now: time.Now}
}

// Config devolve a configuração efetiva.
func (m *Matcher) Config() Config { return m.cfg }

// AmountScore vale 1 para valores idênticos, entre 0,6 e 0,8 dentro da
// tolerância e decai até 0 fora dela.
func (m *Matcher) AmountScore(bank, ledger float64) float64 {
	b := decimal.NewFromFloat(bank).Abs().Round(2)
	l := decimal.NewFromFloat(ledger).Abs().Round(2)
	diff, _ := b.Sub(l).Abs().Float64()
	tol := m.cfg.AmountTolerance

	switch {
	case diff == 0:
		return 1
	case diff <= tol:
		return 0.8 - 0.2*diff/tol
	default:
		base, _ := b.Float64()
		return 0.5 * math.Max(0, 1-4*(diff-tol)/math.Max(base, 1))
	}
}

// DateScore vale 1 no mesmo dia, entre 0,6 e 0,7 dentro da tolerância e
// decai 0,05 por dia além dela. Datas inválidas valem 0.
func (m *Matcher) DateScore(bankDate, ledgerDate string) float64 {
	days, ok := normalizer.DaysBetween(bankDate, ledgerDate)
	if !ok {
		return 0
	}
	tol := float64(m.cfg.DateToleranceDays)
	d := float64(days)
	switch {
	case days == 0:
		return 1
	case d <= tol:
		return 0.7 - 0.1*(d-1)/tol
	default:
		return math.Max(0, 0.5-0.05*(d-tol))
	}
}

// DescriptionScore combina palavras-chave em comum com a distância de edição
// do texto normalizado; usa o melhor entre descrição e referência.
func DescriptionScore(bankDescription string, ledger domain.LedgerTransaction) float64 {
	best := 0.0
	for _, text := range []string{ledger.Description, ledger.Reference} {
		if text == "" {
			continue
		}
		if s := textSimilarity(bankDescription, text); s > best {
			best = s
		}
	}
	return best
}

func textSimilarity(a, b string) float64 {
	keyword := normalizer.KeywordScore(normalizer.Keywords(a), normalizer.Keywords(b)) / 100
	na, nb := normalizer.NormalizeText(a), normalizer.NormalizeText(b)
	if na == "" || nb == "" {
		return keyword
	}
	ratio := levenshtein.RatioForStrings([]rune(na), []rune(nb), levenshtein.DefaultOptions)
	return math.Max(keyword, ratio)
}

// Compatible informa se o par pode existir: crédito com receita, débito com
// despesa, e mesma conta quando ambos informam uma.
func Compatible(bank domain.BankStatementRecord, ledger domain.LedgerTransaction) bool {
	if bank.AccountID != "" && ledger.AccountID != "" && bank.AccountID != ledger.AccountID {
		return false
	}
	switch bank.Type {
	case domain.TypeCredit:
		return ledger.Kind == "" || ledger.Kind == domain.KindRevenue
	case domain.TypeDebit:
		return ledger.Kind == "" || ledger.Kind == domain.KindExpense
	}
	return true
}

// Score pontua um par. A confiança é monotônica em cada componente e só um
// par de mesmo valor e mesmo dia passa de 0,9.
func (m *Matcher) Score(bank domain.BankStatementRecord, ledger domain.LedgerTransaction) Score {
	s := Score{
		Amount:      m.AmountScore(bank.Amount, ledger.Value),
		Date:        m.DateScore(bank.Date, ledger.Date),
		Description: DescriptionScore(bank.Description, ledger),
	}
	s.Confidence = roundScore(amountWeight*s.Amount + dateWeight*s.Date + descriptionWeight*s.Description)
	s.Reasons = m.reasons(bank, ledger, s)
	return s
}

func roundScore(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func (m *Matcher) reasons(bank domain.BankStatementRecord, ledger domain.LedgerTransaction, s Score) []string {
	var reasons []string
	diff := decimal.NewFromFloat(bank.Amount).Abs().Sub(decimal.NewFromFloat(ledger.Value).Abs()).Abs().Round(2)
	switch {
	case s.Amount == 1:
		reasons = append(reasons, "Valor idêntico")
	case diff.LessThanOrEqual(decimal.NewFromFloat(m.cfg.AmountTolerance)):
		reasons = append(reasons, fmt.Sprintf("Valor próximo (diferença de R$ %s)", normalizer.FormatBRL(diff.InexactFloat64())))
	}

	if days, ok := normalizer.DaysBetween(bank.Date, ledger.Date); ok {
		switch {
		case days == 0:
			reasons = append(reasons, "Mesma data")
		case days <= m.cfg.DateToleranceDays:
			reasons = append(reasons, fmt.Sprintf("Data próxima (%d dia(s) de diferença)", days))
		}
	}

	if s.Description >= 0.5 {
		reasons = append(reasons, fmt.Sprintf("Descrição similar (%.0f%%)", s.Description*100))
	}
	return reasons
}

// Candidates lista os lançamentos compatíveis com a transação, acima da
// confiança mínima, do mais provável para o menos provável.
func (m *Matcher) Candidates(bank domain.BankStatementRecord, ledger []domain.LedgerTransaction) []domain.MatchCandidate {
	var out []domain.MatchCandidate
	for _, l := range ledger {
		if l.Reconciled || !Compatible(bank, l) {
			continue
		}
		s := m.Score(bank, l)
		if s.Confidence < m.cfg.MinCandidateConfidence {
			continue
		}
		out = append(out, m.candidate(bank, l, s, domain.MatchManual))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

// AutoMatch propõe pares automáticos um-para-um: cada transação e cada
// lançamento aparecem no máximo uma vez, escolhidos em ordem decrescente de
// confiança. Só entram pares acima do limiar.
func (m *Matcher) AutoMatch(bank []domain.BankStatementRecord, ledger []domain.LedgerTransaction) []domain.MatchCandidate {
	type pair struct {
		b, l  int
		score Score
	}
	var pairs []pair
	for bi, b := range bank {
		if b.Reconciled {
			continue
		}
		for li, l := range ledger {
			if l.Reconciled || !Compatible(b, l) {
				continue
			}
			s := m.Score(b, l)
			if s.Confidence >= m.cfg.AutoMatchThreshold {
				pairs = append(pairs, pair{bi, li, s})
			}
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].score.Confidence > pairs[j].score.Confidence
	})

	usedBank := make(map[int]bool)
	usedLedger := make(map[int]bool)
	var out []domain.MatchCandidate
	for _, p := range pairs {
		if usedBank[p.b] || usedLedger[p.l] {
			continue
		}
		usedBank[p.b] = true
		usedLedger[p.l] = true
		out = append(out, m.candidate(bank[p.b], ledger[p.l], p.score, domain.MatchAutomatic))
	}
	return out
}

func (m *Matcher) candidate(bank domain.BankStatementRecord, ledger domain.LedgerTransaction, s Score, kind domain.MatchType) domain.MatchCandidate {
	return domain.MatchCandidate{
		ID:                  uuid.NewString(),
		BankTransaction:     bank,
		InternalTransaction: ledger,
		Confidence:          s.Confidence,
		MatchType:           kind,
		Status:              domain.MatchPending,
		MatchReasons:        s.Reasons,
		CreatedAt:           m.now().UTC(),
	}
}
