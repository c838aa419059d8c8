package importer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"conciliacao-service/internal/core/banks"
	"conciliacao-service/internal/core/categorizer"
	"conciliacao-service/internal/core/detector"
	"conciliacao-service/internal/core/normalizer"
	"conciliacao-service/internal/core/parser"
	"conciliacao-service/internal/core/reconciliation"
	"conciliacao-service/internal/domain"
	"conciliacao-service/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Repository é o que a importação precisa do armazenamento.
type Repository interface {
	store.StatementStore
	store.LedgerStore
	store.MatchStore
}

// Config controla os limites da importação.
type Config struct {
	MaxFileSize int
}

// DefaultConfig devolve o teto de 10MB.
func DefaultConfig() Config {
	return Config{MaxFileSize: parser.MaxFileSize}
}

// Deps agrupa os colaboradores da importação.
type Deps struct {
	Repo           Repository
	Registry       *banks.Registry
	Parser         parser.Service
	Categorizer    *categorizer.Engine
	Matcher        *reconciliation.Matcher
	Reconciliation reconciliation.Service
	Sessions       *Sessions
	Config         Config
	Logger         *zap.Logger
}

// UploadRequest descreve o arquivo recebido.
type UploadRequest struct {
	AccountID string
	Filename  string
	Content   []byte
	BankID    string // override manual: id, nome ou aproximação
	HasHeader *bool
	Delimiter string
}

// Service define as etapas da importação.
type Service interface {
	Upload(ctx context.Context, req UploadRequest) (Session, error)
	Get(id string) (Session, error)
	Map(ctx context.Context, id string, mapping domain.ColumnMapping) (Session, error)
	AutoMatch(ctx context.Context, id string) (Session, error)
	SkipMatch(id string) (Session, error)
	ReviewMatch(id, matchID string, action reconciliation.Action) (Session, error)
	Preview(ctx context.Context, id string) (Session, error)
	Export(id string) ([]byte, error)
	Commit(ctx context.Context, id string) (Session, error)
	Run(ctx context.Context, req UploadRequest, autoMatch bool) (Session, error)
	Discard(id string) error
}

type service struct {
	repo     Repository
	registry *banks.Registry
	detector *detector.Detector
	parser   parser.Service
	engine   *categorizer.Engine
	matcher  *reconciliation.Matcher
	recon    reconciliation.Service
	sessions *Sessions
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

// NewService cria o orquestrador. Colaboradores ausentes recebem os padrões
// do pacote correspondente; Repo é obrigatório.
func NewService(d Deps) Service {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Registry == nil {
		d.Registry = banks.DefaultRegistry()
	}
	if d.Parser == nil {
		d.Parser = parser.NewService(d.Logger)
	}
	if d.Categorizer == nil {
		var src categorizer.CategorySource
		if cs, ok := d.Repo.(store.CategoryStore); ok {
			src = cs
		}
		d.Categorizer = categorizer.NewEngine(src, nil, 0, d.Logger)
	}
	if d.Matcher == nil {
		d.Matcher = reconciliation.NewMatcher(reconciliation.DefaultConfig())
	}
	if d.Reconciliation == nil {
		d.Reconciliation = reconciliation.NewService(d.Repo, d.Matcher, d.Logger)
	}
	if d.Sessions == nil {
		d.Sessions = NewSessions()
	}
	if d.Config.MaxFileSize <= 0 {
		d.Config.MaxFileSize = parser.MaxFileSize
	}
	return &service{
		repo:     d.Repo,
		registry: d.Registry,
		detector: detector.New(d.Registry),
		parser:   d.Parser,
		engine:   d.Categorizer,
		matcher:  d.Matcher,
		recon:    d.Reconciliation,
		sessions: d.Sessions,
		cfg:      d.Config,
		logger:   d.Logger,
		now:      time.Now,
	}
}

// HashUnique é a impressão digital usada na deduplicação: conta, data, valor
// e descrição. Não depende de horário, então é estável entre execuções.
func HashUnique(accountID, date string, amount float64, description string) string {
	key := strings.Join([]string{
		accountID,
		date,
		normalizer.CanonicalAmount(amount),
		strings.TrimSpace(description),
	}, "|")
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// ---------------------- uploaded -> parsed ----------------------

// Upload detecta, faz o parsing e categoriza. Falhas de detecção ou de
// parsing não criam sessão. Um mapeamento incompleto deixa a sessão em
// parsed, aguardando Map.
func (s *service) Upload(ctx context.Context, req UploadRequest) (Session, error) {
	if strings.TrimSpace(req.AccountID) == "" {
		return Session{}, &domain.ValidationError{Field: "accountId", Reasons: []string{"conta obrigatória"}}
	}
	if len(req.Content) > s.cfg.MaxFileSize {
		return Session{}, &domain.ParseError{Reason: fmt.Sprintf("arquivo excede o limite de %d bytes", s.cfg.MaxFileSize)}
	}

	now := s.now().UTC()
	sess := &Session{
		ID:        uuid.NewString(),
		AccountID: req.AccountID,
		Filename:  req.Filename,
		Stage:     StageUploaded,
		CreatedAt: now,
		UpdatedAt: now,
		raw:       req.Content,
		hasHeader: req.HasHeader,
	}
	if r := []rune(req.Delimiter); len(r) == 1 {
		sess.delimiter = r[0]
	} else if req.Delimiter == `\t` || strings.EqualFold(req.Delimiter, "tab") {
		sess.delimiter = '\t'
	}

	det := s.detector.Detect(req.Content, req.Filename)
	sess.Detection = *det
	sess.Format = det.Format

	profile, err := s.profile(req.BankID, det)
	if err != nil {
		return Session{}, err
	}
	sess.BankID = profile.ID

	logger := s.logger.With(zap.String("session", sess.ID), zap.String("account", sess.AccountID),
		zap.String("bank", profile.ID), zap.String("format", string(sess.Format)))

	res, err := s.parse(sess, profile, nil)
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve) && res != nil:
		sess.Header = res.Header
		sess.Mapping = res.Mapping
		sess.MissingFields = res.Mapping.Missing()
		sess.Stage = StageParsed
		snap := sess.clone()
		s.sessions.Put(sess)
		logger.Info("importação aguardando mapeamento de colunas", zap.Strings("header", res.Header))
		return snap, nil
	case err != nil:
		logger.Warn("importação abortada no parsing", zap.Error(err))
		return Session{}, err
	}

	s.apply(ctx, sess, res)
	sess.Stage = StageParsed
	snap := sess.clone()
	s.sessions.Put(sess)
	logger.Info("extrato lido",
		zap.Int("transactions", len(snap.Records)),
		zap.Int("rowErrors", len(snap.RowErrors)),
		zap.String("encoding", string(det.Encoding)))
	return snap, nil
}

// profile resolve o banco: override manual primeiro, depois a detecção.
func (s *service) profile(bankID string, det *detector.Result) (banks.BankProfile, error) {
	if strings.TrimSpace(bankID) != "" {
		p, ok := s.registry.Resolve(bankID)
		if !ok {
			return banks.BankProfile{}, &domain.DetectionError{Reason: fmt.Sprintf("banco %q desconhecido", bankID)}
		}
		return p, nil
	}
	if det.Bank == "" {
		return banks.BankProfile{}, &domain.DetectionError{Reason: "banco não identificado; informe o banco manualmente"}
	}
	p, ok := s.registry.Get(det.Bank)
	if !ok {
		return banks.BankProfile{}, &domain.DetectionError{Reason: fmt.Sprintf("banco %q desconhecido", det.Bank)}
	}
	return p, nil
}

func (s *service) parse(sess *Session, profile banks.BankProfile, mapping domain.ColumnMapping) (*parser.Result, error) {
	opts := parser.Options{
		HasHeader:   sess.hasHeader,
		Mapping:     mapping,
		MaxFileSize: s.cfg.MaxFileSize,
		RawSize:     len(sess.raw),
		Delimiter:   sess.delimiter,
	}
	if opts.Delimiter == 0 && sess.Detection.Delimiter != "" {
		opts.Delimiter = []rune(sess.Detection.Delimiter)[0]
	}
	switch sess.Format {
	case domain.FormatXLSX, domain.FormatXLS:
		return s.parser.ParseWorkbook(sess.raw, profile, opts)
	default:
		return s.parser.Parse(sess.Detection.Text, profile, sess.Format, opts)
	}
}

// apply transforma as transações do parser em registros de extrato da sessão.
func (s *service) apply(ctx context.Context, sess *Session, res *parser.Result) {
	sess.Header = res.Header
	sess.Mapping = res.Mapping
	sess.MissingFields = nil
	sess.RowErrors = res.RowErrors
	sess.Matches = nil
	sess.Preview = nil
	sess.Summary = nil
	sess.Records = s.stage(ctx, sess.AccountID, res.Transactions)
	sess.UpdatedAt = s.now().UTC()
}

// stage categoriza e calcula o hash de cada transação. Linhas idênticas no
// mesmo arquivo recebem o ordinal na chave para não se anularem.
func (s *service) stage(ctx context.Context, accountID string, txs []domain.RawTransaction) []domain.BankStatementRecord {
	now := s.now().UTC()
	seen := make(map[string]int, len(txs))
	records := make([]domain.BankStatementRecord, 0, len(txs))
	for _, tx := range txs {
		category := s.engine.Categorize(ctx, tx.Description, tx.Type)
		hash := HashUnique(accountID, tx.Date, tx.Amount, tx.Description)
		seen[hash]++
		if n := seen[hash]; n > 1 {
			hash = HashUnique(accountID, tx.Date, tx.Amount, fmt.Sprintf("%s#%d", tx.Description, n))
		}
		rec := domain.BankStatementRecord{
			RawTransaction:    tx,
			SourceID:          tx.ID,
			AccountID:         accountID,
			HashUnique:        hash,
			SuggestedCategory: &category,
			ImportedAt:        now,
		}
		rec.ID = uuid.NewString()
		records = append(records, rec)
	}
	return records
}

// Get devolve o estado atual da sessão.
func (s *service) Get(id string) (Session, error) {
	return s.sessions.Get(id)
}

// Discard abandona a sessão. Nada é gravado; uma sessão já gravada só sai da memória.
func (s *service) Discard(id string) error {
	if _, err := s.sessions.Get(id); err != nil {
		return err
	}
	s.sessions.Delete(id)
	s.logger.Info("sessão de importação descartada", zap.String("session", id))
	return nil
}

// ---------------------- parsed -> mapped ----------------------

// Map confirma o mapeamento detectado (mapping nil) ou aplica um explícito,
// refazendo o parsing. Campos obrigatórios ausentes bloqueiam o avanço.
func (s *service) Map(ctx context.Context, id string, mapping domain.ColumnMapping) (Session, error) {
	return s.sessions.Update(id, func(sess *Session) error {
		if err := sess.expect(StageParsed, StageMapped); err != nil {
			return err
		}
		tabular := sess.Format == domain.FormatCSV || sess.Format == domain.FormatXLSX || sess.Format == domain.FormatXLS
		if !tabular || (mapping == nil && len(sess.MissingFields) == 0) {
			if mapping != nil {
				return &domain.ValidationError{Field: "mapping", Reasons: []string{"o formato não usa mapeamento de colunas"}}
			}
			sess.Stage = StageMapped
			sess.UpdatedAt = s.now().UTC()
			return nil
		}

		if mapping == nil {
			mapping = sess.Mapping
		}
		if missing := mapping.Missing(); len(missing) > 0 {
			reasons := make([]string, 0, len(missing))
			for _, f := range missing {
				reasons = append(reasons, fmt.Sprintf("campo obrigatório sem coluna: %s", f))
			}
			return &domain.ValidationError{Field: "mapping", Reasons: reasons}
		}
		if width := len(sess.Header); width > 0 {
			for field, idx := range mapping {
				if idx >= width {
					return &domain.ValidationError{Field: "mapping", Reasons: []string{fmt.Sprintf("coluna %d de %s não existe no arquivo", idx, field)}}
				}
			}
		}

		profile, err := s.profile(sess.BankID, &sess.Detection)
		if err != nil {
			return err
		}
		res, err := s.parse(sess, profile, mapping)
		if err != nil {
			return err
		}
		s.apply(ctx, sess, res)
		sess.Mapping = mapping
		sess.Stage = StageMapped
		return nil
	})
}

// ---------------------- mapped -> auto-matched | match-skipped ----------------------

// AutoMatch pareia os registros da sessão com os lançamentos não conciliados
// da conta, dentro da janela de datas do extrato.
func (s *service) AutoMatch(ctx context.Context, id string) (Session, error) {
	return s.sessions.Update(id, func(sess *Session) error {
		if err := sess.expect(StageMapped, StageAutoMatched); err != nil {
			return err
		}
		ledger, err := s.openLedger(ctx, sess)
		if err != nil {
			return err
		}
		sess.Matches = s.matcher.AutoMatch(sess.Records, ledger)
		sess.Stage = StageAutoMatched
		sess.UpdatedAt = s.now().UTC()
		s.logger.Info("pareamento automático da importação",
			zap.String("session", sess.ID),
			zap.Int("ledger", len(ledger)),
			zap.Int("matches", len(sess.Matches)))
		return nil
	})
}

// openLedger devolve os lançamentos livres (sem par pendente ou aprovado) no
// intervalo do extrato ampliado pela tolerância de datas.
func (s *service) openLedger(ctx context.Context, sess *Session) ([]domain.LedgerTransaction, error) {
	from, to := "", ""
	for _, r := range sess.Records {
		if from == "" || r.Date < from {
			from = r.Date
		}
		if r.Date > to {
			to = r.Date
		}
	}
	tol := s.matcher.Config().DateToleranceDays
	filter := store.LedgerFilter{AccountID: sess.AccountID, Reconciled: boolPtr(false)}
	if t, ok := normalizer.ParseISODate(from); ok {
		filter.DateFrom = t.AddDate(0, 0, -tol).Format("2006-01-02")
	}
	if t, ok := normalizer.ParseISODate(to); ok {
		filter.DateTo = t.AddDate(0, 0, tol).Format("2006-01-02")
	}
	ledger, _, err := s.repo.FindLedger(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("erro ao buscar os lançamentos: %w", err)
	}

	existing, _, err := s.repo.FindMatches(ctx, store.MatchFilter{AccountID: sess.AccountID})
	if err != nil {
		return nil, fmt.Errorf("erro ao buscar os pares existentes: %w", err)
	}
	busy := make(map[string]bool, len(existing))
	for _, m := range existing {
		if m.Status != domain.MatchRejected {
			busy[m.InternalTransaction.ID] = true
		}
	}
	free := ledger[:0:0]
	for _, l := range ledger {
		if !busy[l.ID] {
			free = append(free, l)
		}
	}
	return free, nil
}

func boolPtr(b bool) *bool { return &b }

// SkipMatch segue sem pareamento automático.
func (s *service) SkipMatch(id string) (Session, error) {
	return s.sessions.Update(id, func(sess *Session) error {
		if err := sess.expect(StageMapped, StageAutoMatched); err != nil {
			return err
		}
		sess.Matches = nil
		sess.Stage = StageMatchSkipped
		sess.UpdatedAt = s.now().UTC()
		return nil
	})
}

// ReviewMatch aprova ou rejeita um par proposto na sessão. A decisão só é
// aplicada ao livro interno no commit.
func (s *service) ReviewMatch(id, matchID string, action reconciliation.Action) (Session, error) {
	return s.sessions.Update(id, func(sess *Session) error {
		if err := sess.expect(StageAutoMatched); err != nil {
			return err
		}
		for i := range sess.Matches {
			m := &sess.Matches[i]
			if m.ID != matchID {
				continue
			}
			if m.Status != domain.MatchPending {
				return fmt.Errorf("%w: par %s já está %s", domain.ErrInvalidTransition, matchID, m.Status)
			}
			switch action {
			case reconciliation.ActionApprove:
				m.Status = domain.MatchApproved
			case reconciliation.ActionReject:
				m.Status = domain.MatchRejected
			default:
				return &domain.ValidationError{Field: "action", Reasons: []string{fmt.Sprintf("ação desconhecida: %s", action)}}
			}
			now := s.now().UTC()
			m.ReviewedAt = &now
			sess.UpdatedAt = now
			return nil
		}
		return fmt.Errorf("%w: par %s", domain.ErrNotFound, matchID)
	})
}

// ---------------------- previewed ----------------------

// validateRecord aplica as regras da pré-visualização a um registro.
func validateRecord(r domain.BankStatementRecord) []string {
	var reasons []string
	if _, ok := normalizer.ParseISODate(r.Date); !ok {
		reasons = append(reasons, "data inválida")
	}
	if math.IsNaN(r.Amount) || math.IsInf(r.Amount, 0) || r.Amount <= 0 {
		reasons = append(reasons, "valor deve ser positivo")
	}
	if strings.TrimSpace(r.Description) == "" {
		reasons = append(reasons, "descrição vazia")
	}
	return reasons
}

// Preview valida cada linha e marca as que já existem na conta. Linhas com
// erro continuam visíveis, mas não são gravadas.
func (s *service) Preview(ctx context.Context, id string) (Session, error) {
	return s.sessions.Update(id, func(sess *Session) error {
		if err := sess.expect(StageAutoMatched, StageMatchSkipped, StagePreviewed); err != nil {
			return err
		}
		existing, err := s.existingHashes(ctx, sess.AccountID, sess.Records)
		if err != nil {
			return err
		}

		rows := make([]PreviewRow, 0, len(sess.Records))
		summary := PreviewSummary{Total: len(sess.Records)}
		for i, r := range sess.Records {
			row := PreviewRow{Line: i + 1, Record: r}
			if reasons := validateRecord(r); len(reasons) > 0 {
				row.HasErrors = true
				row.Errors = reasons
				summary.Invalid++
			} else {
				summary.Valid++
				if existing[r.HashUnique] {
					row.Duplicate = true
					summary.Duplicates++
				}
			}
			rows = append(rows, row)
		}
		sess.Preview = rows
		sess.Summary = &summary
		sess.Stage = StagePreviewed
		sess.UpdatedAt = s.now().UTC()
		return nil
	})
}

func (s *service) existingHashes(ctx context.Context, accountID string, records []domain.BankStatementRecord) (map[string]bool, error) {
	hashes := make([]string, 0, len(records))
	for _, r := range records {
		hashes = append(hashes, r.HashUnique)
	}
	out := make(map[string]bool)
	if len(hashes) == 0 {
		return out, nil
	}
	found, _, err := s.repo.FindStatements(ctx, store.StatementFilter{AccountID: accountID, HashUniques: hashes})
	if err != nil {
		return nil, fmt.Errorf("erro ao verificar duplicados: %w", err)
	}
	for _, r := range found {
		out[r.HashUnique] = true
	}
	return out, nil
}

// ---------------------- committed ----------------------

// Commit grava as linhas válidas. Duplicados são contados, não são erro.
// Se o lote falhar, cada linha é gravada isoladamente, com uma nova tentativa
// para falhas que não sejam de duplicidade.
func (s *service) Commit(ctx context.Context, id string) (Session, error) {
	return s.sessions.Update(id, func(sess *Session) error {
		if err := sess.expect(StagePreviewed); err != nil {
			return err
		}
		logger := s.logger.With(zap.String("session", sess.ID), zap.String("account", sess.AccountID))

		var valid []PreviewRow
		for _, row := range sess.Preview {
			if !row.HasErrors {
				valid = append(valid, row)
			}
		}
		result := domain.CommitResult{Total: len(valid)}

		records := make([]domain.BankStatementRecord, 0, len(valid))
		for _, row := range valid {
			records = append(records, row.Record)
		}
		existing, err := s.existingHashes(ctx, sess.AccountID, records)
		if err != nil {
			return err
		}

		var pending []PreviewRow
		batch := make(map[string]bool, len(valid))
		for _, row := range valid {
			h := row.Record.HashUnique
			if existing[h] || batch[h] {
				result.Duplicates++
				continue
			}
			batch[h] = true
			pending = append(pending, row)
		}

		imported := make(map[string]bool, len(pending))
		toInsert := make([]domain.BankStatementRecord, 0, len(pending))
		for _, row := range pending {
			toInsert = append(toInsert, row.Record)
		}
		if len(toInsert) > 0 {
			_, err = s.repo.CreateStatements(ctx, toInsert)
		}
		if err == nil {
			for _, r := range toInsert {
				imported[r.ID] = true
			}
			result.Imported = len(toInsert)
		} else {
			logger.Warn("gravação em lote falhou; gravando linha a linha", zap.Error(err))
			for _, row := range pending {
				switch err := s.insertOne(ctx, row.Record); {
				case err == nil:
					imported[row.Record.ID] = true
					result.Imported++
				case domain.IsDuplicate(err):
					result.Duplicates++
				default:
					result.Failed++
					result.Errors = append(result.Errors, domain.RowError{Line: row.Line, Reasons: []string{userMessage(err)}})
					logger.Error("falha ao gravar linha", zap.Int("line", row.Line), zap.Error(err))
				}
			}
		}

		recorded := 0
		for _, m := range sess.Matches {
			if !imported[m.BankTransaction.ID] {
				continue
			}
			if _, err := s.recon.Record(ctx, m); err != nil {
				logger.Warn("falha ao gravar par da importação", zap.String("match", m.ID), zap.Error(err))
				continue
			}
			recorded++
		}

		sess.Result = &result
		sess.Stage = StageCommitted
		sess.UpdatedAt = s.now().UTC()
		logger.Info("importação gravada",
			zap.Int("imported", result.Imported),
			zap.Int("duplicates", result.Duplicates),
			zap.Int("failed", result.Failed),
			zap.Int("total", result.Total),
			zap.Int("matches", recorded))
		return nil
	})
}

// insertOne grava um registro e repete uma vez falhas que não sejam de duplicidade.
func (s *service) insertOne(ctx context.Context, rec domain.BankStatementRecord) error {
	_, err := s.repo.CreateStatement(ctx, rec)
	if err == nil || domain.IsDuplicate(err) {
		return err
	}
	_, err = s.repo.CreateStatement(ctx, rec)
	return err
}

func userMessage(err error) string {
	var pe *domain.PersistenceError
	if errors.As(err, &pe) {
		return pe.UserMessage()
	}
	return err.Error()
}

// Run executa a importação inteira sem revisão humana: pares propostos
// ficam pendentes.
func (s *service) Run(ctx context.Context, req UploadRequest, autoMatch bool) (Session, error) {
	sess, err := s.Upload(ctx, req)
	if err != nil {
		return sess, err
	}
	if sess, err = s.Map(ctx, sess.ID, nil); err != nil {
		return sess, err
	}
	if autoMatch {
		sess, err = s.AutoMatch(ctx, sess.ID)
	} else {
		sess, err = s.SkipMatch(sess.ID)
	}
	if err != nil {
		return sess, err
	}
	if sess, err = s.Preview(ctx, sess.ID); err != nil {
		return sess, err
	}
	return s.Commit(ctx, sess.ID)
}
