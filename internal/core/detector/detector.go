// Package detector identifica a codificação, o formato e o banco de um
// arquivo de extrato antes do parsing.
package detector

import (
	"bytes"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"conciliacao-service/internal/core/banks"
	"conciliacao-service/internal/core/normalizer"
	"conciliacao-service/internal/domain"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	xunicode "golang.org/x/text/encoding/unicode"
)

const (
	encodingSampleSize  = 500
	signatureSampleSize = 64 * 1024
	sniffLines          = 5
	maxReplacementRatio = 0.01

	filenameConfidence  = 0.8
	signatureBase       = 0.6
	signatureIncrement  = 0.1
	minSignatureMatches = 2
)

// Delimiters na ordem de preferência do sniffing.
var Delimiters = []rune{',', ';', '\t', '|'}

// decimal brasileiro sem aspas ("150,00") não conta como separador de colunas
var decimalCommaRegex = regexp.MustCompile(`(\d),(\d{2})\b`)

func countFields(line string, delim rune) int {
	if delim == ',' {
		line = decimalCommaRegex.ReplaceAllString(line, "$1.$2")
	}
	return len(SplitFields(line, delim))
}

// Result reúne tudo o que foi inferido sobre o arquivo.
type Result struct {
	Encoding      domain.Encoding `json:"encoding"`
	Format        domain.Format   `json:"format"`
	Delimiter     string          `json:"delimiter,omitempty"`
	Bank          string          `json:"bank,omitempty"`
	Confidence    float64         `json:"confidence"`
	LowConfidence bool            `json:"lowConfidence"`
	Text          string          `json:"-"`
}

// Detector consulta o registro de bancos para a identificação por nome e conteúdo.
type Detector struct {
	registry *banks.Registry
}

// New cria um detector.
func New(registry *banks.Registry) *Detector {
	return &Detector{registry: registry}
}

// Detect decodifica o conteúdo e identifica formato e banco. Banco não
// identificado não é erro aqui: Result.Bank fica vazio e o chamador decide.
func (d *Detector) Detect(data []byte, filename string) *Result {
	res := &Result{Encoding: domain.EncodingUTF8}

	if f, ok := binaryFormat(data, filename); ok {
		res.Format = f
		res.Bank, res.Confidence = d.DetectBank(filename, "")
		return res
	}

	text, enc, low := DecodeWithFallback(data)
	res.Text = text
	res.Encoding = enc
	res.LowConfidence = low
	res.Format = DetectFormat(text, filename)
	if res.Format == domain.FormatCSV {
		if delim, ok := DetectDelimiter(SampleLines(text, sniffLines)); ok {
			res.Delimiter = string(delim)
		}
	}
	res.Bank, res.Confidence = d.DetectBank(filename, text)
	return res
}

// ---------------------- codificação ----------------------

// DetectEncoding verifica BOM e, sem BOM, procura bytes do intervalo acentuado
// do Latin-1 (192–255) nos primeiros 500 bytes. Amostras UTF-8 válidas continuam UTF-8.
func DetectEncoding(data []byte) domain.Encoding {
	switch {
	case bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}):
		return domain.EncodingUTF8
	case bytes.HasPrefix(data, []byte{0xFF, 0xFE}):
		return domain.EncodingUTF16LE
	case bytes.HasPrefix(data, []byte{0xFE, 0xFF}):
		return domain.EncodingUTF16BE
	}

	sample := data
	if len(sample) > encodingSampleSize {
		sample = sample[:encodingSampleSize]
	}
	hasHighBytes := false
	for _, b := range sample {
		if b >= 192 {
			hasHighBytes = true
			break
		}
	}
	if hasHighBytes && !validUTF8Prefix(sample) {
		return domain.EncodingLatin1
	}
	return domain.EncodingUTF8
}

// validUTF8Prefix tolera uma runa cortada no fim da amostra.
func validUTF8Prefix(sample []byte) bool {
	for i := 0; i < len(sample); {
		r, size := utf8.DecodeRune(sample[i:])
		if r == utf8.RuneError && size == 1 {
			return !utf8.FullRune(sample[i:])
		}
		i += size
	}
	return true
}

func decoderFor(enc domain.Encoding) encoding.Encoding {
	switch enc {
	case domain.EncodingUTF16LE:
		return xunicode.UTF16(xunicode.LittleEndian, xunicode.UseBOM)
	case domain.EncodingUTF16BE:
		return xunicode.UTF16(xunicode.BigEndian, xunicode.UseBOM)
	case domain.EncodingLatin1:
		return charmap.ISO8859_1
	case domain.EncodingWindows1252:
		return charmap.Windows1252
	default:
		return xunicode.UTF8BOM
	}
}

// Decode converte os bytes para UTF-8 com a codificação informada.
func Decode(data []byte, enc domain.Encoding) (string, error) {
	out, err := decoderFor(enc).NewDecoder().Bytes(data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// DecodeWithFallback tenta a codificação detectada e depois UTF-8,
// Windows-1252 e Latin-1, aceitando a primeira que produza texto válido.
// Se nenhuma servir, devolve UTF-8 marcado como baixa confiança.
func DecodeWithFallback(data []byte) (string, domain.Encoding, bool) {
	detected := DetectEncoding(data)
	attempts := []domain.Encoding{detected}
	for _, enc := range []domain.Encoding{domain.EncodingUTF8, domain.EncodingWindows1252, domain.EncodingLatin1} {
		if enc != detected {
			attempts = append(attempts, enc)
		}
	}

	for _, enc := range attempts {
		text, err := Decode(data, enc)
		if err != nil {
			continue
		}
		if IsValidText(text) {
			return text, enc, false
		}
	}
	return strings.ToValidUTF8(string(bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})), "�"), domain.EncodingUTF8, true
}

// IsValidText rejeita caracteres de controle (exceto tab e quebras de linha)
// e mais de 1% de caracteres de substituição.
func IsValidText(text string) bool {
	total, replaced := 0, 0
	for _, r := range text {
		total++
		if r == utf8.RuneError {
			replaced++
			continue
		}
		if r == '\t' || r == '\n' || r == '\r' {
			continue
		}
		if unicode.IsControl(r) {
			return false
		}
	}
	if total == 0 {
		return true
	}
	return float64(replaced)/float64(total) <= maxReplacementRatio
}

// ---------------------- formato ----------------------

func binaryFormat(data []byte, filename string) (domain.Format, bool) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx":
		return domain.FormatXLSX, true
	case ".xls":
		return domain.FormatXLS, true
	}
	switch {
	case bytes.HasPrefix(data, []byte{'P', 'K', 0x03, 0x04}):
		return domain.FormatXLSX, true
	case bytes.HasPrefix(data, []byte{0xD0, 0xCF, 0x11, 0xE0}):
		return domain.FormatXLS, true
	}
	return "", false
}

// DetectFormat usa a extensão quando ela é conclusiva (.ofx, .qfx, .csv);
// .txt ou extensão ausente caem no sniffing do conteúdo.
func DetectFormat(content, filename string) domain.Format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".ofx", ".qfx":
		return domain.FormatOFX
	case ".csv":
		return domain.FormatCSV
	}

	trimmed := strings.ToUpper(strings.TrimSpace(content))
	if strings.HasPrefix(trimmed, "<OFX>") || strings.HasPrefix(trimmed, "OFXHEADER") || strings.Contains(trimmed, "<BANKMSGSRSV1>") {
		return domain.FormatOFX
	}
	if _, ok := DetectDelimiter(SampleLines(content, sniffLines)); ok {
		return domain.FormatCSV
	}
	return domain.FormatTXT
}

// SampleLines devolve as primeiras n linhas não vazias.
func SampleLines(content string, n int) []string {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) == n {
			break
		}
	}
	return lines
}

// DetectDelimiter escolhe o delimitador que produz o mesmo número de colunas
// (maior que um) em todas as linhas da amostra; empates ficam com a ordem de Delimiters.
// Com vírgula, decimais no formato "150,00" são ignorados na contagem.
func DetectDelimiter(lines []string) (rune, bool) {
	if len(lines) == 0 {
		return 0, false
	}
	var best rune
	bestCount := 1
	for _, delim := range Delimiters {
		count := countFields(lines[0], delim)
		if count <= bestCount {
			continue
		}
		consistent := true
		for _, line := range lines[1:] {
			if countFields(line, delim) != count {
				consistent = false
				break
			}
		}
		if consistent {
			best, bestCount = delim, count
		}
	}
	return best, best != 0
}

// GuessDelimiter é a versão tolerante: sem delimitador consistente, usa o que
// mais divide a primeira linha (normalmente o cabeçalho).
func GuessDelimiter(lines []string) rune {
	if d, ok := DetectDelimiter(lines); ok {
		return d
	}
	best, bestCount := ',', 0
	if len(lines) == 0 {
		return best
	}
	for _, delim := range Delimiters {
		if c := countFields(lines[0], delim); c > bestCount {
			best, bestCount = delim, c
		}
	}
	return best
}

// SplitFields divide uma linha respeitando aspas: o delimitador entre aspas é
// literal e "" dentro de aspas vira uma aspa.
func SplitFields(line string, delim rune) []string {
	var fields []string
	var cur strings.Builder
	inQuotes := false
	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '"':
			if inQuotes && i+1 < len(runes) && runes[i+1] == '"' {
				cur.WriteRune('"')
				i++
				continue
			}
			inQuotes = !inQuotes
		case r == delim && !inQuotes:
			fields = append(fields, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	fields = append(fields, strings.TrimSpace(cur.String()))
	return fields
}

// ---------------------- banco ----------------------

// DetectBank procura primeiro tokens no nome do arquivo (confiança 0,8) e,
// sem sucesso, ao menos duas assinaturas no conteúdo (0,6 + 0,1 por assinatura extra).
func (d *Detector) DetectBank(filename, content string) (string, float64) {
	name := strings.ToLower(filepath.Base(filename))
	profiles := d.registry.All()
	for _, p := range profiles {
		for _, tok := range p.FilenameTokens {
			if tok != "" && strings.Contains(name, strings.ToLower(tok)) {
				return p.ID, filenameConfidence
			}
		}
	}

	if content == "" {
		return "", 0
	}
	sample := content
	if len(sample) > signatureSampleSize {
		sample = sample[:signatureSampleSize]
	}
	normalized := " " + normalizer.NormalizeText(sample) + " "

	bestID, bestCount := "", 0
	for _, p := range profiles {
		count := 0
		for _, sig := range p.Signatures {
			if strings.Contains(normalized, " "+normalizer.NormalizeText(sig)+" ") {
				count++
			}
		}
		if count >= minSignatureMatches && count > bestCount {
			bestID, bestCount = p.ID, count
		}
	}
	if bestID == "" {
		return "", 0
	}
	conf := signatureBase + signatureIncrement*float64(bestCount-minSignatureMatches)
	if conf > 1 {
		conf = 1
	}
	return bestID, conf
}
