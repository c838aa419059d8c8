// Package config carrega o conciliacao.yaml. Default fornece todos os
// valores; o arquivo sobrescreve apenas o que declarar.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"conciliacao-service/internal/core/banks"
	"conciliacao-service/internal/domain"

	"gopkg.in/yaml.v3"
)

// EnvPath é a variável de ambiente com o caminho do arquivo de configuração.
const EnvPath = "CONCILIACAO_CONFIG"

// DefaultPath é usado quando EnvPath não está definida.
const DefaultPath = "conciliacao.yaml"

// Drivers de armazenamento aceitos.
const (
	DriverMemory = "memory"
	DriverBolt   = "bolt"
)

// Config representa o conciliacao.yaml.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Import         ImportConfig         `yaml:"import"`
	Matching       MatchingConfig       `yaml:"matching"`
	Categorization CategorizationConfig `yaml:"categorization"`
	Storage        StorageConfig        `yaml:"storage"`
	Banks          []BankConfig         `yaml:"banks,omitempty"`
}

// ServerConfig controla o servidor HTTP.
type ServerConfig struct {
	Port    string `yaml:"port"`
	GinMode string `yaml:"gin_mode"`
}

// ImportConfig controla o upload de extratos.
type ImportConfig struct {
	MaxFileSize int64 `yaml:"max_file_size"`
	AutoMatch   bool  `yaml:"auto_match"`
}

// MatchingConfig são as tolerâncias do pareamento.
type MatchingConfig struct {
	AmountTolerance        float64 `yaml:"amount_tolerance"`
	DateToleranceDays      int     `yaml:"date_tolerance_days"`
	AutoMatchThreshold     float64 `yaml:"auto_match_threshold"`
	MinCandidateConfidence float64 `yaml:"min_candidate_confidence"`
}

// CategorizationConfig controla a categorização automática.
type CategorizationConfig struct {
	MinScore float64       `yaml:"min_score"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// StorageConfig escolhe onde os registros ficam.
type StorageConfig struct {
	Driver string `yaml:"driver"` // "memory" ou "bolt"
	Path   string `yaml:"path"`
}

// BankConfig é um perfil de banco extra declarado no arquivo.
type BankConfig struct {
	ID             string              `yaml:"id"`
	Name           string              `yaml:"name"`
	FilenameTokens []string            `yaml:"filename_tokens,omitempty"`
	Signatures     []string            `yaml:"signatures,omitempty"`
	Delimiter      string              `yaml:"delimiter,omitempty"`
	HasHeader      *bool               `yaml:"has_header,omitempty"`
	Columns        map[string][]string `yaml:"columns,omitempty"`
	CreditPattern  string              `yaml:"credit_pattern,omitempty"`
	DebitPattern   string              `yaml:"debit_pattern,omitempty"`
}

// Default devolve a configuração completa usada sem arquivo.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:    "8085",
			GinMode: "release",
		},
		Import: ImportConfig{
			MaxFileSize: 10 << 20,
			AutoMatch:   true,
		},
		Matching: MatchingConfig{
			AmountTolerance:        0.50,
			DateToleranceDays:      2,
			AutoMatchThreshold:     0.8,
			MinCandidateConfidence: 0.5,
		},
		Categorization: CategorizationConfig{
			MinScore: 30,
			CacheTTL: 5 * time.Minute,
		},
		Storage: StorageConfig{
			Driver: DriverMemory,
			Path:   "conciliacao.db",
		},
	}
}

// Load lê o arquivo sobre os valores padrão e valida o resultado.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("lendo configuração: %w", err)
	}
	return Parse(data)
}

// Parse interpreta o YAML sobre os valores padrão.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("interpretando configuração: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv carrega o arquivo apontado por CONCILIACAO_CONFIG. Sem a variável,
// tenta conciliacao.yaml e, se não existir, usa Default.
func FromEnv() (*Config, error) {
	path := os.Getenv(EnvPath)
	if path == "" {
		if _, err := os.Stat(DefaultPath); errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		path = DefaultPath
	}
	return Load(path)
}

// Validate rejeita tolerâncias não positivas e limiares fora de [0,1].
func (c *Config) Validate() error {
	var reasons []string
	if c.Import.MaxFileSize <= 0 {
		reasons = append(reasons, "import.max_file_size deve ser positivo")
	}
	if c.Matching.AmountTolerance <= 0 {
		reasons = append(reasons, "matching.amount_tolerance deve ser positivo")
	}
	if c.Matching.DateToleranceDays <= 0 {
		reasons = append(reasons, "matching.date_tolerance_days deve ser positivo")
	}
	if !unit(c.Matching.AutoMatchThreshold) {
		reasons = append(reasons, "matching.auto_match_threshold deve estar entre 0 e 1")
	}
	if !unit(c.Matching.MinCandidateConfidence) {
		reasons = append(reasons, "matching.min_candidate_confidence deve estar entre 0 e 1")
	}
	if c.Categorization.MinScore < 0 || c.Categorization.MinScore > 100 {
		reasons = append(reasons, "categorization.min_score deve estar entre 0 e 100")
	}
	if c.Categorization.CacheTTL <= 0 {
		reasons = append(reasons, "categorization.cache_ttl deve ser positivo")
	}
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverBolt:
		if strings.TrimSpace(c.Storage.Path) == "" {
			reasons = append(reasons, "storage.path é obrigatório para o driver bolt")
		}
	default:
		reasons = append(reasons, fmt.Sprintf("storage.driver desconhecido: %q", c.Storage.Driver))
	}
	for i, b := range c.Banks {
		if _, err := b.Profile(); err != nil {
			reasons = append(reasons, fmt.Sprintf("banks[%d]: %v", i, err))
		}
	}
	if len(reasons) > 0 {
		return &domain.ValidationError{Field: "config", Reasons: reasons}
	}
	return nil
}

func unit(v float64) bool { return v >= 0 && v <= 1 }

// Profile converte o perfil declarado em BankProfile. Colunas e padrões
// omitidos herdam os comuns.
func (b BankConfig) Profile() (banks.BankProfile, error) {
	id := strings.TrimSpace(b.ID)
	if id == "" {
		return banks.BankProfile{}, errors.New("id é obrigatório")
	}
	name := b.Name
	if name == "" {
		name = id
	}

	delim := ';'
	if b.Delimiter != "" {
		r := []rune(b.Delimiter)
		if len(r) != 1 {
			return banks.BankProfile{}, fmt.Errorf("delimitador inválido: %q", b.Delimiter)
		}
		delim = r[0]
	}
	hasHeader := true
	if b.HasHeader != nil {
		hasHeader = *b.HasHeader
	}

	extra := make(map[domain.SemanticField][]string, len(b.Columns))
	for field, syn := range b.Columns {
		f := domain.SemanticField(strings.ToLower(field))
		if !knownField(f) {
			return banks.BankProfile{}, fmt.Errorf("campo de coluna desconhecido: %q", field)
		}
		extra[f] = syn
	}

	credit, debit := banks.DefaultPatterns()
	var err error
	if b.CreditPattern != "" {
		if credit, err = regexp.Compile(b.CreditPattern); err != nil {
			return banks.BankProfile{}, fmt.Errorf("credit_pattern: %w", err)
		}
	}
	if b.DebitPattern != "" {
		if debit, err = regexp.Compile(b.DebitPattern); err != nil {
			return banks.BankProfile{}, fmt.Errorf("debit_pattern: %w", err)
		}
	}

	return banks.BankProfile{
		ID:             id,
		DisplayName:    name,
		Formats:        banks.AllFormats(),
		Delimiter:      delim,
		HasHeader:      hasHeader,
		FilenameTokens: b.FilenameTokens,
		Signatures:     b.Signatures,
		CSVColumns:     banks.WithCommonColumns(extra),
		CreditPattern:  credit,
		DebitPattern:   debit,
	}, nil
}

func knownField(f domain.SemanticField) bool {
	switch f {
	case domain.FieldDate, domain.FieldDescription, domain.FieldAmount, domain.FieldDocument,
		domain.FieldBalance, domain.FieldCredit, domain.FieldDebit:
		return true
	}
	return false
}

// Registry monta o registro de bancos embarcados com os perfis do arquivo.
func (c *Config) Registry() (*banks.Registry, error) {
	extra := make([]banks.BankProfile, 0, len(c.Banks))
	for _, b := range c.Banks {
		p, err := b.Profile()
		if err != nil {
			return nil, fmt.Errorf("perfil %q: %w", b.ID, err)
		}
		extra = append(extra, p)
	}
	return banks.RegistryWith(extra...)
}
