// Package categorizer sugere a categoria de uma transação do extrato pela
// sobreposição de palavras-chave entre a descrição e o nome das categorias.
package categorizer

import (
	"context"

	"conciliacao-service/internal/core/normalizer"
	"conciliacao-service/internal/domain"

	"go.uber.org/zap"
)

// DefaultCategory é devolvida quando nenhuma categoria atinge a pontuação mínima.
const DefaultCategory = "Despesas sem Identificação"

// DefaultMinScore é a pontuação mínima (0..100) para aceitar uma categoria.
const DefaultMinScore = 30.0

// CategorySource fornece as categorias cadastradas.
type CategorySource interface {
	GetCategories(ctx context.Context, filter domain.CategoryFilter) ([]domain.Category, error)
}

// Suggestion é o resultado detalhado de uma categorização.
type Suggestion struct {
	Category string  `json:"category"`
	Score    float64 `json:"score"`
	Matched  bool    `json:"matched"`
}

// Engine pontua descrições contra as categorias do tipo da transação.
type Engine struct {
	source   CategorySource
	cache    *Cache
	minScore float64
	logger   *zap.Logger
}

// NewEngine cria o motor. cache nil cria um cache próprio com DefaultTTL;
// minScore <= 0 usa DefaultMinScore.
func NewEngine(source CategorySource, cache *Cache, minScore float64, logger *zap.Logger) *Engine {
	if cache == nil {
		cache = NewCache(DefaultTTL)
	}
	if minScore <= 0 {
		minScore = DefaultMinScore
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{source: source, cache: cache, minScore: minScore, logger: logger}
}

// Score é a similaridade 0..100 entre uma descrição e o nome de uma categoria.
func Score(description, categoryName string) float64 {
	return normalizer.KeywordScore(normalizer.Keywords(description), normalizer.Keywords(categoryName))
}

// Categorize nunca falha: erro do colaborador ou ausência de correspondência
// resultam em DefaultCategory.
func (e *Engine) Categorize(ctx context.Context, description string, txType domain.TransactionType) string {
	return e.Suggest(ctx, description, txType).Category
}

// Suggest devolve a melhor categoria e a pontuação. Empates ficam com a
// primeira categoria na ordem do colaborador.
func (e *Engine) Suggest(ctx context.Context, description string, txType domain.TransactionType) Suggestion {
	fallback := Suggestion{Category: DefaultCategory}

	categories, err := e.categories(ctx, domain.CategoryTypeFor(txType))
	if err != nil {
		e.logger.Warn("falha ao carregar categorias", zap.Error(err))
		return fallback
	}

	keywords := normalizer.Keywords(description)
	if len(keywords) == 0 {
		return fallback
	}

	best := fallback
	for _, c := range categories {
		score := normalizer.KeywordScore(keywords, normalizer.Keywords(c.Name))
		if score > best.Score {
			best = Suggestion{Category: c.Name, Score: score}
		}
	}
	if best.Score < e.minScore {
		return Suggestion{Category: DefaultCategory, Score: best.Score}
	}
	best.Matched = true
	return best
}

// Invalidate descarta o cache; deve ser chamado quando as categorias mudam.
func (e *Engine) Invalidate() {
	e.cache.Invalidate()
}

func (e *Engine) categories(ctx context.Context, t domain.CategoryType) ([]domain.Category, error) {
	if cached, ok := e.cache.Get(t); ok {
		return cached, nil
	}
	if e.source == nil {
		return nil, nil
	}
	categories, err := e.source.GetCategories(ctx, domain.CategoryFilter{Type: t})
	if err != nil {
		return nil, err
	}
	e.cache.Set(t, categories)
	return categories, nil
}
