package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Erros sentinela compartilhados entre núcleo, stores e handlers.
var (
	ErrDuplicateKey      = errors.New("registro duplicado")
	ErrNotFound          = errors.New("registro não encontrado")
	ErrInvalidTransition = errors.New("transição de status inválida")
	ErrInvalidState      = errors.New("etapa da importação inválida")
)

// DetectionError indica banco ou formato não identificado; o usuário deve informar manualmente.
type DetectionError struct {
	Reason string
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("não foi possível identificar o arquivo: %s", e.Reason)
}

// ParseError aborta a importação do arquivo inteiro.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("erro ao ler o arquivo: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("erro ao ler o arquivo: %s", e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError agrega problemas de mapeamento ou de linha. Nunca aborta o lote.
type ValidationError struct {
	Field   string
	Reasons []string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validação falhou: " + strings.Join(e.Reasons, "; ")
	}
	return fmt.Sprintf("validação falhou em %s: %s", e.Field, strings.Join(e.Reasons, "; "))
}

// PersistenceKind classifica falhas do armazenamento.
type PersistenceKind string

// Categorias de falha de persistência.
const (
	PersistenceNetwork    PersistenceKind = "network"
	PersistenceTimeout    PersistenceKind = "timeout"
	PersistenceConstraint PersistenceKind = "constraint"
	PersistenceGeneric    PersistenceKind = "generic"
)

// PersistenceError normaliza erros do colaborador de armazenamento.
type PersistenceError struct {
	Kind PersistenceKind
	Op   string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("falha de persistência (%s) em %s: %v", e.Kind, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// UserMessage devolve a mensagem exibida ao usuário.
func (e *PersistenceError) UserMessage() string {
	switch e.Kind {
	case PersistenceNetwork:
		return "Falha de comunicação com o banco de dados. Tente novamente."
	case PersistenceTimeout:
		return "O banco de dados demorou demais para responder. Tente novamente."
	case PersistenceConstraint:
		return "O registro viola uma restrição do banco de dados."
	default:
		return "Erro inesperado ao gravar os dados."
	}
}

// IsDuplicate reconhece violações de unicidade, embrulhadas ou não.
func IsDuplicate(err error) bool {
	if errors.Is(err, ErrDuplicateKey) {
		return true
	}
	var pe *PersistenceError
	return errors.As(err, &pe) && pe.Kind == PersistenceConstraint && errors.Is(pe.Err, ErrDuplicateKey)
}
