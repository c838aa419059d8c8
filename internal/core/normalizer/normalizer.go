// Package normalizer converte valores monetários e datas no formato brasileiro
// para valores canônicos e normaliza textos livres para comparação.
package normalizer

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ---------------------- valores ----------------------

// MaxAmount é o maior valor absoluto aceito; acima disso os centavos deixam
// de ser representáveis em float64.
const MaxAmount = 1e15

// ValidAmount informa se o valor é finito e está dentro de MaxAmount.
func ValidAmount(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && math.Abs(v) <= MaxAmount
}

// ParseAmount interpreta um valor no formato brasileiro ("1.234,56", "-150,00",
// "(10,00)", "R$ 5,5"). O retorno é assinado e arredondado em centavos;
// ok=false quando o texto não representa um número finito.
func ParseAmount(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false
	}
	neg := strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")")

	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == ',' || r == '.' || r == '-' || r == '+' {
			return r
		}
		return -1
	}, s)

	// sinal à direita ("150,00-") aparece em extratos de alguns bancos
	if strings.HasSuffix(cleaned, "-") {
		neg = true
		cleaned = strings.TrimSuffix(cleaned, "-")
	}
	if strings.HasPrefix(cleaned, "-") {
		neg = true
	}
	cleaned = strings.TrimLeft(cleaned, "+-")
	if cleaned == "" || strings.ContainsAny(cleaned, "+-") {
		return 0, false
	}

	hasComma := strings.Contains(cleaned, ",")
	hasDot := strings.Contains(cleaned, ".")

	switch {
	case hasComma && hasDot:
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
	case hasComma:
		lastComma := strings.LastIndex(cleaned, ",")
		if len(cleaned)-lastComma-1 < 3 {
			intPart := strings.ReplaceAll(cleaned[:lastComma], ",", "")
			cleaned = intPart + "." + cleaned[lastComma+1:]
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case hasDot && strings.Count(cleaned, ".") > 1:
		cleaned = strings.ReplaceAll(cleaned, ".", "")
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return 0, false
	}
	if neg {
		d = d.Neg()
	}
	f, _ := d.Round(2).Float64()
	if !ValidAmount(f) {
		return 0, false
	}
	return f, true
}

// RoundCents arredonda para duas casas sem erro de ponto flutuante acumulado.
func RoundCents(v float64) float64 {
	f, _ := toDecimal(v).Round(2).Float64()
	return f
}

// CanonicalAmount é a representação estável usada em hashes ("1234.50").
func CanonicalAmount(v float64) string {
	return toDecimal(v).Abs().StringFixed(2)
}

// FormatBRL formata com vírgula decimal, como nos arquivos exportados.
func FormatBRL(v float64) string {
	return strings.Replace(toDecimal(v).StringFixed(2), ".", ",", 1)
}

// toDecimal trata NaN e infinito como zero; decimal.NewFromFloat entra em
// pânico com eles.
func toDecimal(v float64) decimal.Decimal {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v)
}

// ---------------------- datas ----------------------

const isoLayout = "2006-01-02"

const timeSuffix = `(?:[ T]\d{1,2}:\d{2}(?::\d{2}(?:\.\d+)?)?(?:Z|[+-]\d{2}:?\d{2})?)?`

type datePattern struct {
	re               *regexp.Regexp
	year, month, day int
}

// ordem de tentativa: DD/MM/YYYY, YYYY-MM-DD, DD-MM-YYYY (anos com dois dígitos recebem "20")
var datePatterns = []datePattern{
	{regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4}|\d{2})` + timeSuffix + `$`), 3, 2, 1},
	{regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})` + timeSuffix + `$`), 1, 2, 3},
	{regexp.MustCompile(`^(\d{1,2})-(\d{1,2})-(\d{4}|\d{2})` + timeSuffix + `$`), 3, 2, 1},
}

// ParseDate converte uma data em um dos formatos conhecidos para ISO (YYYY-MM-DD).
// Datas impossíveis ("30/02/2025") são rejeitadas.
func ParseDate(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}
	for _, p := range datePatterns {
		m := p.re.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		yearStr := m[p.year]
		if len(yearStr) == 2 {
			yearStr = "20" + yearStr
		}
		year, _ := strconv.Atoi(yearStr)
		month, _ := strconv.Atoi(m[p.month])
		day, _ := strconv.Atoi(m[p.day])

		t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
		if t.Year() != year || int(t.Month()) != month || t.Day() != day {
			return "", false
		}
		return t.Format(isoLayout), true
	}
	return "", false
}

// ParseISODate devolve o time.Time (UTC) de uma data ISO já normalizada.
func ParseISODate(iso string) (time.Time, bool) {
	t, err := time.Parse(isoLayout, iso)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// DaysBetween é a distância absoluta em dias entre duas datas ISO.
func DaysBetween(a, b string) (int, bool) {
	ta, ok := ParseISODate(a)
	if !ok {
		return 0, false
	}
	tb, ok := ParseISODate(b)
	if !ok {
		return 0, false
	}
	days := int(ta.Sub(tb).Hours() / 24)
	if days < 0 {
		days = -days
	}
	return days, true
}

// ---------------------- texto ----------------------

var nonAlphanumericRegex = regexp.MustCompile(`[^a-z0-9 ]+`)
var whitespaceRegex = regexp.MustCompile(`\s+`)

// RemoveAccents decompõe (NFD) e remove as marcas combinantes.
func RemoveAccents(str string) string {
	t := transform.Chain(norm.NFD, transform.RemoveFunc(func(r rune) bool {
		return unicode.Is(unicode.Mn, r)
	}))
	result, _, _ := transform.String(t, str)
	return result
}

// NormalizeText deixa o texto em minúsculas, sem acentos, sem pontuação e
// com espaços colapsados.
func NormalizeText(str string) string {
	result := strings.ToLower(RemoveAccents(str))
	result = nonAlphanumericRegex.ReplaceAllString(result, " ")
	result = whitespaceRegex.ReplaceAllString(result, " ")
	return strings.TrimSpace(result)
}

// NormalizeUpper é NormalizeText em maiúsculas, usado contra os padrões dos bancos.
func NormalizeUpper(str string) string {
	return strings.ToUpper(NormalizeText(str))
}

var stopWords = map[string]bool{
	"de": true, "da": true, "do": true, "para": true, "em": true, "com": true,
	"por": true, "a": true, "o": true, "e": true, "ou": true, "no": true,
	"na": true, "ao": true, "dos": true, "das": true, "um": true, "uma": true,
}

// Keywords extrai as palavras relevantes: descarta tokens com até dois
// caracteres e stop words em português.
func Keywords(str string) []string {
	fields := strings.Fields(NormalizeText(str))
	keywords := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) <= 2 || stopWords[f] {
			continue
		}
		keywords = append(keywords, f)
	}
	return keywords
}

// KeywordScore compara dois conjuntos de palavras-chave: 10 pontos por
// igualdade, 5 por contenção (em qualquer sentido), normalizado em 0..100.
func KeywordScore(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	total := 0
	for _, ka := range a {
		for _, kb := range b {
			switch {
			case ka == kb:
				total += 10
			case strings.Contains(ka, kb) || strings.Contains(kb, ka):
				total += 5
			}
		}
	}
	denom := 10 * max(len(a), len(b))
	score := float64(total) * 100 / float64(denom)
	if score > 100 {
		score = 100
	}
	return score
}
