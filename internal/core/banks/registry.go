// Package banks descreve os layouts de extrato conhecidos e o registro
// imutável consultado pelo detector, pelo parser e pelo override manual.
package banks

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"conciliacao-service/internal/core/normalizer"
	"conciliacao-service/internal/domain"

	"github.com/schollz/closestmatch"
)

// GenericID é o perfil usado quando o usuário não sabe o banco mas aceita o layout padrão.
const GenericID = "generico"

// FieldPriority define a ordem de atribuição de colunas do cabeçalho:
// um cabeçalho "Data Lançamento" vira data, não descrição.
var FieldPriority = []domain.SemanticField{
	domain.FieldDate,
	domain.FieldCredit,
	domain.FieldDebit,
	domain.FieldAmount,
	domain.FieldBalance,
	domain.FieldDocument,
	domain.FieldDescription,
}

// PositionalFields é a ordem assumida quando o arquivo não tem cabeçalho.
var PositionalFields = []domain.SemanticField{
	domain.FieldDate,
	domain.FieldDescription,
	domain.FieldAmount,
	domain.FieldDocument,
	domain.FieldBalance,
}

// BankProfile descreve um banco: formatos aceitos, sinônimos de colunas e
// padrões de crédito/débito aplicados à descrição normalizada.
type BankProfile struct {
	ID             string
	DisplayName    string
	Formats        []domain.Format
	Delimiter      rune
	HasHeader      bool
	FilenameTokens []string
	Signatures     []string
	CSVColumns     map[domain.SemanticField][]string
	CreditPattern  *regexp.Regexp
	DebitPattern   *regexp.Regexp
}

// Supports informa se o banco exporta o formato.
func (p BankProfile) Supports(f domain.Format) bool {
	for _, pf := range p.Formats {
		if pf == f {
			return true
		}
	}
	return false
}

// InferType aplica os padrões do banco à descrição. Quando nenhum ou os dois
// padrões casam ("ESTORNO COMPRA"), decide o sinal do valor.
func (p BankProfile) InferType(description string, signedAmount float64) domain.TransactionType {
	upper := normalizer.NormalizeUpper(description)
	credit := p.CreditPattern != nil && p.CreditPattern.MatchString(upper)
	debit := p.DebitPattern != nil && p.DebitPattern.MatchString(upper)
	switch {
	case credit && !debit:
		return domain.TypeCredit
	case debit && !credit:
		return domain.TypeDebit
	}
	if signedAmount < 0 {
		return domain.TypeDebit
	}
	return domain.TypeCredit
}

// MapHeader associa cada coluna do cabeçalho ao primeiro campo semântico cujo
// sinônimo esteja contido no nome normalizado. Cada campo recebe no máximo uma coluna.
func (p BankProfile) MapHeader(header []string) domain.ColumnMapping {
	mapping := domain.ColumnMapping{}
	for idx, h := range header {
		name := normalizer.NormalizeText(h)
		if name == "" {
			continue
		}
		for _, field := range FieldPriority {
			if mapping.Has(field) {
				continue
			}
			if containsAny(name, p.CSVColumns[field]) {
				mapping[field] = idx
				break
			}
		}
	}
	return mapping
}

// PositionalMapping devolve o mapeamento padrão para arquivos sem cabeçalho.
func PositionalMapping() domain.ColumnMapping {
	mapping := domain.ColumnMapping{}
	for i, f := range PositionalFields {
		mapping[f] = i
	}
	return mapping
}

func containsAny(name string, synonyms []string) bool {
	for _, s := range synonyms {
		if s != "" && strings.Contains(name, normalizer.NormalizeText(s)) {
			return true
		}
	}
	return false
}

// Registry é imutável depois de construído; leituras concorrentes são seguras.
type Registry struct {
	profiles map[string]BankProfile
	order    []string
	byName   map[string]string
	fuzzy    *closestmatch.ClosestMatch
}

// NewRegistry cria o registro. IDs repetidos são erro.
func NewRegistry(profiles ...BankProfile) (*Registry, error) {
	r := &Registry{
		profiles: make(map[string]BankProfile, len(profiles)),
		byName:   make(map[string]string),
	}
	var names []string
	for _, p := range profiles {
		id := strings.ToLower(strings.TrimSpace(p.ID))
		if id == "" {
			return nil, fmt.Errorf("perfil de banco sem id")
		}
		if _, ok := r.profiles[id]; ok {
			return nil, fmt.Errorf("perfil de banco duplicado: %s", id)
		}
		p.ID = id
		r.profiles[id] = p
		r.order = append(r.order, id)

		for _, alias := range []string{id, p.DisplayName} {
			key := normalizer.NormalizeText(alias)
			if key == "" {
				continue
			}
			if _, ok := r.byName[key]; !ok {
				r.byName[key] = id
				names = append(names, key)
			}
		}
	}
	sort.Strings(r.order)
	if len(names) > 0 {
		r.fuzzy = closestmatch.New(names, []int{2, 3})
	}
	return r, nil
}

// DefaultRegistry retorna o registro com os bancos embarcados.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultProfiles()...)
	if err != nil {
		panic(err)
	}
	return r
}

// RegistryWith cria o registro com os bancos embarcados mais os perfis extras.
func RegistryWith(extra ...BankProfile) (*Registry, error) {
	return NewRegistry(append(DefaultProfiles(), extra...)...)
}

// Get busca pelo id exato.
func (r *Registry) Get(id string) (BankProfile, bool) {
	p, ok := r.profiles[strings.ToLower(strings.TrimSpace(id))]
	return p, ok
}

// All devolve os perfis ordenados por id.
func (r *Registry) All() []BankProfile {
	out := make([]BankProfile, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.profiles[id])
	}
	return out
}

// Resolve interpreta o banco informado manualmente: id, nome de exibição ou
// aproximação ("Banco Itau" -> itau).
func (r *Registry) Resolve(name string) (BankProfile, bool) {
	if p, ok := r.Get(name); ok {
		return p, true
	}
	key := normalizer.NormalizeText(name)
	if key == "" {
		return BankProfile{}, false
	}
	if id, ok := r.byName[key]; ok {
		return r.profiles[id], true
	}
	if r.fuzzy == nil {
		return BankProfile{}, false
	}
	match := r.fuzzy.Closest(key)
	if match == "" {
		return BankProfile{}, false
	}
	// a aproximação só vale se compartilhar ao menos uma palavra com o candidato
	if !sharesWord(key, match) {
		return BankProfile{}, false
	}
	return r.profiles[r.byName[match]], true
}

func sharesWord(a, b string) bool {
	for _, wa := range strings.Fields(a) {
		if len(wa) < 4 || wa == "banco" {
			continue
		}
		for _, wb := range strings.Fields(b) {
			if len(wb) < 4 || wb == "banco" {
				continue
			}
			if strings.Contains(wb, wa) || strings.Contains(wa, wb) || wa[:4] == wb[:4] {
				return true
			}
		}
	}
	return false
}
