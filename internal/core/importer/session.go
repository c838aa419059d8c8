// Package importer conduz a importação de um extrato: upload, parsing,
// mapeamento de colunas, pareamento automático, pré-visualização e gravação.
package importer

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"conciliacao-service/internal/core/detector"
	"conciliacao-service/internal/domain"
)

// Stage é a etapa atual de uma sessão de importação.
type Stage string

// uploaded -> parsed -> mapped -> (auto-matched | match-skipped) -> previewed -> committed
const (
	StageUploaded     Stage = "uploaded"
	StageParsed       Stage = "parsed"
	StageMapped       Stage = "mapped"
	StageAutoMatched  Stage = "auto-matched"
	StageMatchSkipped Stage = "match-skipped"
	StagePreviewed    Stage = "previewed"
	StageCommitted    Stage = "committed"
)

// PreviewRow é uma linha validada antes da gravação.
type PreviewRow struct {
	Line      int                        `json:"line"`
	Record    domain.BankStatementRecord `json:"record"`
	HasErrors bool                       `json:"hasErrors"`
	Errors    []string                   `json:"errors,omitempty"`
	Duplicate bool                       `json:"duplicate"`
}

// PreviewSummary conta as linhas da pré-visualização.
type PreviewSummary struct {
	Total      int `json:"total"`
	Valid      int `json:"valid"`
	Invalid    int `json:"invalid"`
	Duplicates int `json:"duplicates"`
}

// Session guarda o estado de uma importação entre as chamadas.
type Session struct {
	ID            string                       `json:"id"`
	AccountID     string                       `json:"accountId"`
	Filename      string                       `json:"filename"`
	Stage         Stage                        `json:"stage"`
	Detection     detector.Result              `json:"detection"`
	BankID        string                       `json:"bankId"`
	Format        domain.Format                `json:"format"`
	Header        []string                     `json:"header,omitempty"`
	Mapping       domain.ColumnMapping         `json:"mapping,omitempty"`
	MissingFields []domain.SemanticField       `json:"missingFields,omitempty"`
	Records       []domain.BankStatementRecord `json:"records"`
	RowErrors     []domain.RowError            `json:"rowErrors,omitempty"`
	Matches       []domain.MatchCandidate      `json:"matches,omitempty"`
	Preview       []PreviewRow                 `json:"preview,omitempty"`
	Summary       *PreviewSummary              `json:"summary,omitempty"`
	Result        *domain.CommitResult         `json:"result,omitempty"`
	CreatedAt     time.Time                    `json:"createdAt"`
	UpdatedAt     time.Time                    `json:"updatedAt"`

	raw       []byte
	hasHeader *bool
	delimiter rune
}

// clone copia as fatias mutáveis para que o chamador não enxergue alterações posteriores.
func (s *Session) clone() Session {
	c := *s
	c.Records = append([]domain.BankStatementRecord(nil), s.Records...)
	c.Matches = append([]domain.MatchCandidate(nil), s.Matches...)
	c.Preview = append([]PreviewRow(nil), s.Preview...)
	c.RowErrors = append([]domain.RowError(nil), s.RowErrors...)
	if s.Summary != nil {
		sum := *s.Summary
		c.Summary = &sum
	}
	if s.Result != nil {
		r := *s.Result
		c.Result = &r
	}
	return c
}

// expect falha com ErrInvalidState quando a sessão não está em nenhuma das etapas.
func (s *Session) expect(stages ...Stage) error {
	for _, st := range stages {
		if s.Stage == st {
			return nil
		}
	}
	return fmt.Errorf("%w: sessão %s está em %s", domain.ErrInvalidState, s.ID, s.Stage)
}

// Sessions é o repositório em memória das sessões, indexado pelo id. O mapa
// só fica travado durante a busca; cada sessão tem a própria trava, então uma
// gravação lenta numa sessão não segura as demais.
type Sessions struct {
	mu    sync.Mutex
	items map[string]*sessionEntry
}

type sessionEntry struct {
	mu      sync.Mutex
	sess    *Session
	removed atomic.Bool
}

// NewSessions cria o repositório vazio.
func NewSessions() *Sessions {
	return &Sessions{items: make(map[string]*sessionEntry)}
}

// Put grava ou substitui a sessão.
func (s *Sessions) Put(sess *Session) {
	s.mu.Lock()
	old := s.items[sess.ID]
	s.items[sess.ID] = &sessionEntry{sess: sess}
	s.mu.Unlock()
	if old != nil {
		old.removed.Store(true)
	}
}

func (s *Sessions) lookup(id string) (*sessionEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[id]
	return e, ok
}

// Update executa fn com a sessão travada e devolve uma cópia do estado final.
func (s *Sessions) Update(id string, fn func(*Session) error) (Session, error) {
	e, ok := s.lookup(id)
	if !ok {
		return Session{}, fmt.Errorf("%w: sessão %s", domain.ErrNotFound, id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	// removida ou substituída enquanto esperava a trava
	if e.removed.Load() {
		return Session{}, fmt.Errorf("%w: sessão %s", domain.ErrNotFound, id)
	}
	if err := fn(e.sess); err != nil {
		return e.sess.clone(), err
	}
	return e.sess.clone(), nil
}

// Get devolve uma cópia da sessão.
func (s *Sessions) Get(id string) (Session, error) {
	return s.Update(id, func(*Session) error { return nil })
}

// Delete descarta a sessão.
func (s *Sessions) Delete(id string) {
	s.mu.Lock()
	e, ok := s.items[id]
	delete(s.items, id)
	s.mu.Unlock()
	if ok {
		e.removed.Store(true)
	}
}
