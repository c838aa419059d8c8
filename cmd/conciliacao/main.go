// cmd/conciliacao/main.go
package main

import (
	"log"

	"conciliacao-service/internal/api/handlers"
	"conciliacao-service/internal/api/responses"
	"conciliacao-service/internal/config"
	"conciliacao-service/internal/core/categorizer"
	"conciliacao-service/internal/core/importer"
	"conciliacao-service/internal/core/reconciliation"
	"conciliacao-service/internal/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func openStore(cfg config.StorageConfig) store.Store {
	if cfg.Driver == config.DriverBolt {
		st, err := store.OpenBolt(cfg.Path)
		if err != nil {
			log.Fatalf("Erro ao abrir o banco de dados %s: %v\n", cfg.Path, err)
		}
		log.Printf("Conectado ao banco de dados %s", cfg.Path)
		return st
	}
	log.Print("Usando armazenamento em memória")
	return store.NewMemoryStore()
}

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("FATAL: configuração inválida: %v", err)
	}

	responses.InitLogger()
	logger := responses.Logger()
	defer logger.Sync()

	st := openStore(cfg.Storage)
	defer st.Close()

	registry, err := cfg.Registry()
	if err != nil {
		log.Fatalf("FATAL: perfis de banco inválidos: %v", err)
	}

	engine := categorizer.NewEngine(st, categorizer.NewCache(cfg.Categorization.CacheTTL), cfg.Categorization.MinScore, logger)
	matcher := reconciliation.NewMatcher(reconciliation.Config{
		AmountTolerance:        cfg.Matching.AmountTolerance,
		DateToleranceDays:      cfg.Matching.DateToleranceDays,
		AutoMatchThreshold:     cfg.Matching.AutoMatchThreshold,
		MinCandidateConfidence: cfg.Matching.MinCandidateConfidence,
	})
	reconService := reconciliation.NewService(st, matcher, logger)
	importService := importer.NewService(importer.Deps{
		Repo:           st,
		Registry:       registry,
		Categorizer:    engine,
		Matcher:        matcher,
		Reconciliation: reconService,
		Config:         importer.Config{MaxFileSize: int(cfg.Import.MaxFileSize)},
		Logger:         logger,
	})

	gin.SetMode(cfg.Server.GinMode)
	router := gin.Default()
	router.MaxMultipartMemory = cfg.Import.MaxFileSize

	apiV1 := router.Group("/api/v1")
	{
		handlers.NewImportHandler(importService, cfg.Import.AutoMatch).Register(apiV1)
		handlers.NewMatchHandler(reconService).Register(apiV1)
		handlers.NewCatalogHandler(registry, engine, st).Register(apiV1)
		handlers.NewRecordsHandler(st).Register(apiV1)
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "UP", "service": "conciliacao-service"})
	})

	logger.Info("serviço configurado",
		zap.String("storage", cfg.Storage.Driver),
		zap.Int("banks", len(registry.All())),
		zap.Bool("auto_match", cfg.Import.AutoMatch))

	port := cfg.Server.Port
	log.Printf("🚀 Conciliação Service (Go) iniciado e escutando na porta %s", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatal("Falha ao iniciar o servidor de conciliação: ", err)
	}
}
