package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"conciliacao-service/internal/config"
	"conciliacao-service/internal/core/banks"
	"conciliacao-service/internal/core/categorizer"
	"conciliacao-service/internal/core/detector"
	"conciliacao-service/internal/core/importer"
	"conciliacao-service/internal/core/normalizer"
	"conciliacao-service/internal/core/reconciliation"
	"conciliacao-service/internal/domain"
	"conciliacao-service/internal/store"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	okColor    = color.New(color.FgGreen)
	warnColor  = color.New(color.FgYellow)
	errColor   = color.New(color.FgRed)
	labelColor = color.New(color.FgCyan, color.Bold)
)

type app struct {
	cfgPath  string
	verbose  bool
	cfg      *config.Config
	registry *banks.Registry
	logger   *zap.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "conciliacao-cli",
		Short: "Importa, categoriza e concilia extratos bancários",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "arquivo de configuração (padrão: $CONCILIACAO_CONFIG ou conciliacao.yaml)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "registra as etapas no stderr")

	root.AddCommand(a.detectCommand(), a.parseCommand(), a.importCommand())
	return root
}

func (a *app) load() error {
	var err error
	if a.cfgPath != "" {
		a.cfg, err = config.Load(a.cfgPath)
	} else {
		a.cfg, err = config.FromEnv()
	}
	if err != nil {
		return err
	}
	if a.registry, err = a.cfg.Registry(); err != nil {
		return fmt.Errorf("perfis de banco: %w", err)
	}
	a.logger = zap.NewNop()
	if a.verbose {
		if a.logger, err = zap.NewDevelopment(); err != nil {
			return fmt.Errorf("iniciando logger: %w", err)
		}
	}
	return nil
}

// importer monta o orquestrador sobre o store informado com a configuração carregada.
func (a *app) importer(st store.Store) importer.Service {
	engine := categorizer.NewEngine(st, categorizer.NewCache(a.cfg.Categorization.CacheTTL), a.cfg.Categorization.MinScore, a.logger)
	matcher := reconciliation.NewMatcher(reconciliation.Config{
		AmountTolerance:        a.cfg.Matching.AmountTolerance,
		DateToleranceDays:      a.cfg.Matching.DateToleranceDays,
		AutoMatchThreshold:     a.cfg.Matching.AutoMatchThreshold,
		MinCandidateConfidence: a.cfg.Matching.MinCandidateConfidence,
	})
	return importer.NewService(importer.Deps{
		Repo:           st,
		Registry:       a.registry,
		Categorizer:    engine,
		Matcher:        matcher,
		Reconciliation: reconciliation.NewService(st, matcher, a.logger),
		Config:         importer.Config{MaxFileSize: int(a.cfg.Import.MaxFileSize)},
		Logger:         a.logger,
	})
}

func (a *app) detectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "detect <arquivo>",
		Short: "Identifica codificação, formato e banco de um extrato",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("lendo %s: %w", args[0], err)
			}
			res := detector.New(a.registry).Detect(data, filepath.Base(args[0]))
			printDetection(cmd.OutOrStdout(), res)
			return nil
		},
	}
}

func printDetection(w io.Writer, res *detector.Result) {
	if res.LowConfidence {
		labelColor.Fprintf(w, "%-12s ", "Codificação:")
		warnColor.Fprintf(w, "%s (caracteres inválidos substituídos)\n", res.Encoding)
	} else {
		field(w, "Codificação", string(res.Encoding))
	}
	field(w, "Formato", string(res.Format))
	if res.Delimiter != "" {
		field(w, "Delimitador", res.Delimiter)
	}
	labelColor.Fprintf(w, "%-12s ", "Banco:")
	switch {
	case res.Bank == "":
		errColor.Fprintln(w, "não identificado (use --bank)")
	case res.Confidence < 0.7:
		warnColor.Fprintf(w, "%s (confiança %.0f%%, confirme com --bank)\n", res.Bank, res.Confidence*100)
	default:
		okColor.Fprintf(w, "%s (confiança %.0f%%)\n", res.Bank, res.Confidence*100)
	}
}

func field(w io.Writer, label, value string) {
	labelColor.Fprintf(w, "%-12s ", label+":")
	fmt.Fprintln(w, value)
}

func (a *app) parseCommand() *cobra.Command {
	var bank string
	cmd := &cobra.Command{
		Use:   "parse <arquivo>",
		Short: "Lê o extrato e mostra as transações categorizadas sem gravar",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("lendo %s: %w", args[0], err)
			}
			svc := a.importer(store.NewMemoryStore())
			sess, err := svc.Upload(cmd.Context(), importer.UploadRequest{
				AccountID: "cli",
				Filename:  filepath.Base(args[0]),
				Content:   data,
				BankID:    bank,
			})
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			field(w, "Banco", sess.BankID)
			field(w, "Formato", string(sess.Format))
			if len(sess.MissingFields) > 0 {
				errColor.Fprintf(w, "Colunas obrigatórias não encontradas: %v\n", sess.MissingFields)
				return fmt.Errorf("mapeamento incompleto")
			}
			for _, r := range sess.Records {
				printRecord(w, r)
			}
			printRowErrors(w, sess.RowErrors)
			field(w, "Transações", fmt.Sprintf("%d", len(sess.Records)))
			return nil
		},
	}
	cmd.Flags().StringVar(&bank, "bank", "", "banco (id, nome ou aproximação) quando a detecção falha")
	return cmd
}

func printRecord(w io.Writer, r domain.BankStatementRecord) {
	fmt.Fprintf(w, "%s  %-40.40s ", r.Date, r.Description)
	amount := normalizer.FormatBRL(r.Amount)
	if r.Type == domain.TypeCredit {
		okColor.Fprintf(w, "%12s C", amount)
	} else {
		errColor.Fprintf(w, "%12s D", amount)
	}
	if r.SuggestedCategory != nil {
		fmt.Fprintf(w, "  %s", *r.SuggestedCategory)
	}
	fmt.Fprintln(w)
}

func printRowErrors(w io.Writer, rows []domain.RowError) {
	for _, e := range rows {
		warnColor.Fprintf(w, "linha %d ignorada: %v\n", e.Line, e.Reasons)
	}
}

func (a *app) importCommand() *cobra.Command {
	var (
		account string
		dbPath  string
		bank    string
		noMatch bool
	)
	cmd := &cobra.Command{
		Use:   "import <arquivo>",
		Short: "Importa o extrato no banco de dados local e sugere conciliações",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("lendo %s: %w", args[0], err)
			}
			if dbPath == "" {
				dbPath = a.cfg.Storage.Path
			}
			st, err := store.OpenBolt(dbPath)
			if err != nil {
				return fmt.Errorf("abrindo %s: %w", dbPath, err)
			}
			defer st.Close()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			sess, err := a.importer(st).Run(ctx, importer.UploadRequest{
				AccountID: account,
				Filename:  filepath.Base(args[0]),
				Content:   data,
				BankID:    bank,
			}, a.cfg.Import.AutoMatch && !noMatch)
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), sess)
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "conta bancária de destino (obrigatório)")
	_ = cmd.MarkFlagRequired("account")
	cmd.Flags().StringVar(&dbPath, "db", "", "arquivo bolt (padrão: storage.path da configuração)")
	cmd.Flags().StringVar(&bank, "bank", "", "banco (id, nome ou aproximação) quando a detecção falha")
	cmd.Flags().BoolVar(&noMatch, "no-match", false, "não gerar sugestões de conciliação")
	return cmd
}

func printSummary(w io.Writer, sess importer.Session) {
	field(w, "Banco", sess.BankID)
	r := sess.Result
	if r == nil {
		return
	}
	labelColor.Fprintf(w, "%-12s ", "Importadas:")
	okColor.Fprintf(w, "%d de %d\n", r.Imported, r.Total)
	labelColor.Fprintf(w, "%-12s ", "Duplicadas:")
	warnColor.Fprintf(w, "%d\n", r.Duplicates)
	if r.Failed > 0 {
		labelColor.Fprintf(w, "%-12s ", "Falhas:")
		errColor.Fprintf(w, "%d\n", r.Failed)
		printRowErrors(w, r.Errors)
	}
	printRowErrors(w, sess.RowErrors)
	field(w, "Pares", fmt.Sprintf("%d sugerido(s)", len(sess.Matches)))
}
