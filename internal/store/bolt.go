package store

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"time"

	"conciliacao-service/internal/domain"

	"github.com/boltdb/bolt"
)

var (
	statementsBucket = []byte("statements")
	hashesBucket     = []byte("statement_hashes")
	ledgerBucket     = []byte("ledger")
	matchesBucket    = []byte("matches")
	categoriesBucket = []byte("categories")
)

// BoltStore persiste os registros em um arquivo bolt, cada entidade em um
// bucket com valores codificados em gob. Listagens saem na ordem das chaves (ids).
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt abre (ou cria) o banco no caminho informado.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, wrapBolt("open", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{statementsBucket, hashesBucket, ledgerBucket, matchesBucket, categoriesBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("não foi possível criar o bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, wrapBolt("open", err)
	}
	return &BoltStore{db: db}, nil
}

// Close fecha o arquivo.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func wrapBolt(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *domain.PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	kind := domain.PersistenceGeneric
	switch {
	case errors.Is(err, bolt.ErrTimeout), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		kind = domain.PersistenceTimeout
	case errors.Is(err, bolt.ErrDatabaseNotOpen):
		kind = domain.PersistenceNetwork
	}
	return &domain.PersistenceError{Kind: kind, Op: op, Err: err}
}

func encode(v any) ([]byte, error) {
	var val bytes.Buffer
	if err := gob.NewEncoder(&val).Encode(v); err != nil {
		return nil, fmt.Errorf("não foi possível codificar o registro: %w", err)
	}
	return val.Bytes(), nil
}

func decode[T any](data []byte) (T, error) {
	var v T
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v); err != nil {
		return v, fmt.Errorf("não foi possível decodificar o registro: %w", err)
	}
	return v, nil
}

func getValue[T any](b *bolt.Bucket, id string) (T, bool, error) {
	data := b.Get([]byte(id))
	if data == nil {
		var zero T
		return zero, false, nil
	}
	v, err := decode[T](data)
	return v, err == nil, err
}

func putValue(b *bolt.Bucket, id string, v any) error {
	data, err := encode(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(id), data)
}

func scan[T any](b *bolt.Bucket, keep func(T) bool) ([]T, error) {
	var out []T
	c := b.Cursor()
	for k, data := c.First(); k != nil; k, data = c.Next() {
		v, err := decode[T](data)
		if err != nil {
			return nil, err
		}
		if keep(v) {
			out = append(out, v)
		}
	}
	return out, nil
}

// ---------------------- extratos ----------------------

func (s *BoltStore) CreateStatement(ctx context.Context, rec domain.BankStatementRecord) (domain.BankStatementRecord, error) {
	out, err := s.CreateStatements(ctx, []domain.BankStatementRecord{rec})
	if err != nil {
		return domain.BankStatementRecord{}, err
	}
	return out[0], nil
}

// CreateStatements grava o lote numa única transação bolt: um duplicado
// desfaz tudo.
func (s *BoltStore) CreateStatements(ctx context.Context, recs []domain.BankStatementRecord) ([]domain.BankStatementRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapBolt("create statements", err)
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(statementsBucket)
		h := tx.Bucket(hashesBucket)
		for _, rec := range recs {
			if rec.ID == "" {
				return &domain.PersistenceError{Kind: domain.PersistenceGeneric, Op: "create statement", Err: fmt.Errorf("id obrigatório")}
			}
			if b.Get([]byte(rec.ID)) != nil || h.Get([]byte(dedupKey(rec))) != nil {
				return duplicateErr("create statement")
			}
			if err := putValue(b, rec.ID, rec); err != nil {
				return err
			}
			if err := h.Put([]byte(dedupKey(rec)), []byte(rec.ID)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, wrapBolt("create statements", err)
	}
	out := make([]domain.BankStatementRecord, len(recs))
	copy(out, recs)
	return out, nil
}

func (s *BoltStore) FindStatements(ctx context.Context, filter StatementFilter) ([]domain.BankStatementRecord, int, error) {
	var out []domain.BankStatementRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		out, err = scan(tx.Bucket(statementsBucket), filter.matches)
		return err
	})
	if err != nil {
		return nil, 0, wrapBolt("find statements", err)
	}
	return out, len(out), nil
}

func (s *BoltStore) UpdateStatement(ctx context.Context, id string, patch StatementPatch) (domain.BankStatementRecord, error) {
	var rec domain.BankStatementRecord
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(statementsBucket)
		r, ok, err := getValue[domain.BankStatementRecord](b, id)
		if err != nil {
			return err
		}
		if !ok {
			return notFoundErr("update statement", id)
		}
		patch.apply(&r)
		rec = r
		return putValue(b, id, r)
	})
	if err != nil {
		return domain.BankStatementRecord{}, wrapBolt("update statement", err)
	}
	return rec, nil
}

// ---------------------- lançamentos internos ----------------------

func (s *BoltStore) CreateLedger(ctx context.Context, l domain.LedgerTransaction) (domain.LedgerTransaction, error) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(ledgerBucket)
		if l.ID == "" {
			return &domain.PersistenceError{Kind: domain.PersistenceGeneric, Op: "create ledger", Err: fmt.Errorf("id obrigatório")}
		}
		if b.Get([]byte(l.ID)) != nil {
			return duplicateErr("create ledger")
		}
		return putValue(b, l.ID, l)
	})
	if err != nil {
		return domain.LedgerTransaction{}, wrapBolt("create ledger", err)
	}
	return l, nil
}

func (s *BoltStore) FindLedger(ctx context.Context, filter LedgerFilter) ([]domain.LedgerTransaction, int, error) {
	var out []domain.LedgerTransaction
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		out, err = scan(tx.Bucket(ledgerBucket), filter.matches)
		return err
	})
	if err != nil {
		return nil, 0, wrapBolt("find ledger", err)
	}
	return out, len(out), nil
}

func (s *BoltStore) UpdateLedger(ctx context.Context, id string, patch LedgerPatch) (domain.LedgerTransaction, error) {
	var out domain.LedgerTransaction
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(ledgerBucket)
		l, ok, err := getValue[domain.LedgerTransaction](b, id)
		if err != nil {
			return err
		}
		if !ok {
			return notFoundErr("update ledger", id)
		}
		patch.apply(&l)
		out = l
		return putValue(b, id, l)
	})
	if err != nil {
		return domain.LedgerTransaction{}, wrapBolt("update ledger", err)
	}
	return out, nil
}

// ---------------------- pares ----------------------

func (s *BoltStore) SaveMatch(ctx context.Context, m domain.MatchCandidate) (domain.MatchCandidate, error) {
	if m.ID == "" {
		return domain.MatchCandidate{}, &domain.PersistenceError{Kind: domain.PersistenceGeneric, Op: "save match", Err: fmt.Errorf("id obrigatório")}
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return putValue(tx.Bucket(matchesBucket), m.ID, m)
	})
	if err != nil {
		return domain.MatchCandidate{}, wrapBolt("save match", err)
	}
	return m, nil
}

func (s *BoltStore) GetMatch(ctx context.Context, id string) (domain.MatchCandidate, error) {
	var out domain.MatchCandidate
	err := s.db.View(func(tx *bolt.Tx) error {
		m, ok, err := getValue[domain.MatchCandidate](tx.Bucket(matchesBucket), id)
		if err != nil {
			return err
		}
		if !ok {
			return notFoundErr("get match", id)
		}
		out = m
		return nil
	})
	if err != nil {
		return domain.MatchCandidate{}, wrapBolt("get match", err)
	}
	return out, nil
}

func (s *BoltStore) FindMatches(ctx context.Context, filter MatchFilter) ([]domain.MatchCandidate, int, error) {
	var out []domain.MatchCandidate
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		out, err = scan(tx.Bucket(matchesBucket), filter.matches)
		return err
	})
	if err != nil {
		return nil, 0, wrapBolt("find matches", err)
	}
	return out, len(out), nil
}

func (s *BoltStore) DeleteMatch(ctx context.Context, id string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(matchesBucket)
		if b.Get([]byte(id)) == nil {
			return notFoundErr("delete match", id)
		}
		return b.Delete([]byte(id))
	})
	return wrapBolt("delete match", err)
}

// ---------------------- categorias ----------------------

func (s *BoltStore) CreateCategory(ctx context.Context, c domain.Category) (domain.Category, error) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(categoriesBucket)
		if b.Get([]byte(c.ID)) != nil {
			return duplicateErr("create category")
		}
		return putValue(b, c.ID, c)
	})
	if err != nil {
		return domain.Category{}, wrapBolt("create category", err)
	}
	return c, nil
}

func (s *BoltStore) GetCategories(ctx context.Context, filter domain.CategoryFilter) ([]domain.Category, error) {
	var out []domain.Category
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		out, err = scan(tx.Bucket(categoriesBucket), func(c domain.Category) bool {
			return filter.Type == "" || c.Type == filter.Type
		})
		return err
	})
	if err != nil {
		return nil, wrapBolt("get categories", err)
	}
	return out, nil
}

// Ensure BoltStore implements Store interface.
var _ Store = (*BoltStore)(nil)
