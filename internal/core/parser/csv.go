package parser

import (
	"regexp"
	"strings"

	"conciliacao-service/internal/core/banks"
	"conciliacao-service/internal/core/detector"
)

var (
	integerPartRegex  = regexp.MustCompile(`^[-+(]?(R\$)?\s*\d[\d.]*$`)
	decimalCentsRegex = regexp.MustCompile(`^\d{2}\)?\s*[CDcd-]?$`)
)

func (s *service) parseCSV(content string, profile banks.BankProfile, opts Options) (*Result, error) {
	var lines []string
	var numbers []int
	for i, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
		numbers = append(numbers, i+1)
	}

	delim := s.csvDelimiter(lines, profile, opts)
	rows := make([]row, len(lines))
	for i, line := range lines {
		rows[i] = row{line: numbers[i], fields: detector.SplitFields(line, delim)}
	}
	return s.parseTable(rows, profile, opts, delim, false)
}

// csvDelimiter: opção explícita, depois o sniffing consistente, depois o
// padrão do banco e por fim o palpite pela primeira linha.
func (s *service) csvDelimiter(lines []string, profile banks.BankProfile, opts Options) rune {
	if opts.Delimiter != 0 {
		return opts.Delimiter
	}
	sample := lines
	if len(sample) > 5 {
		sample = sample[:5]
	}
	if d, ok := detector.DetectDelimiter(sample); ok {
		return d
	}
	if profile.Delimiter != 0 {
		return profile.Delimiter
	}
	return detector.GuessDelimiter(sample)
}

// repairSplitDecimals junta pares "<inteiro>","<2 dígitos>" produzidos por
// decimais brasileiros sem aspas em arquivos separados por vírgula, até a
// linha voltar a ter a largura do cabeçalho.
func repairSplitDecimals(fields []string, width int) []string {
	extra := len(fields) - width
	out := make([]string, 0, len(fields))
	for i := 0; i < len(fields); i++ {
		if extra > 0 && i+1 < len(fields) &&
			integerPartRegex.MatchString(strings.TrimSpace(fields[i])) &&
			decimalCentsRegex.MatchString(strings.TrimSpace(fields[i+1])) {
			out = append(out, strings.TrimSpace(fields[i])+","+strings.TrimSpace(fields[i+1]))
			i++
			extra--
			continue
		}
		out = append(out, fields[i])
	}
	return out
}
