package categorizer

import (
	"sync"
	"time"

	"conciliacao-service/internal/domain"
)

// DefaultTTL é a validade das categorias em cache.
const DefaultTTL = 5 * time.Minute

type cacheEntry struct {
	categories []domain.Category
	storedAt   time.Time
}

// Cache guarda as categorias por tipo com TTL. Leitura vencida não é erro:
// o chamador apenas busca de novo.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[domain.CategoryType]cacheEntry
}

// NewCache cria um cache com o TTL informado (DefaultTTL se <= 0).
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{ttl: ttl, now: time.Now, entries: make(map[domain.CategoryType]cacheEntry)}
}

// Get devolve uma cópia das categorias se a entrada existir e estiver válida.
func (c *Cache) Get(t domain.CategoryType) ([]domain.Category, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[t]
	if !ok || c.expired(e) {
		return nil, false
	}
	out := make([]domain.Category, len(e.categories))
	copy(out, e.categories)
	return out, true
}

// Set substitui a entrada do tipo.
func (c *Cache) Set(t domain.CategoryType, categories []domain.Category) {
	stored := make([]domain.Category, len(categories))
	copy(stored, categories)
	c.mu.Lock()
	c.entries[t] = cacheEntry{categories: stored, storedAt: c.now()}
	c.mu.Unlock()
}

// Invalidate descarta todas as entradas.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.entries = make(map[domain.CategoryType]cacheEntry)
	c.mu.Unlock()
}

// IsExpired é verdadeiro para entradas vencidas ou ausentes.
func (c *Cache) IsExpired(t domain.CategoryType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[t]
	return !ok || c.expired(e)
}

func (c *Cache) expired(e cacheEntry) bool {
	return c.now().Sub(e.storedAt) >= c.ttl
}
