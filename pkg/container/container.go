package container

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"bookresale-backend/internal/config"
	infraCache "bookresale-backend/internal/infrastructure/cache"
	"bookresale-backend/internal/infrastructure/database"
	"bookresale-backend/internal/infrastructure/llm"
	"bookresale-backend/internal/infrastructure/queue"
	"bookresale-backend/internal/infrastructure/storage"
	"bookresale-backend/internal/pipeline"
	"bookresale-backend/pkg/cache"
	"bookresale-backend/pkg/retry"

	conditionRepo "bookresale-backend/internal/domains/condition/repository"
	conditionService "bookresale-backend/internal/domains/condition/service"
	ingestionService "bookresale-backend/internal/domains/ingestion/service"
	itemHandler "bookresale-backend/internal/domains/item/handler"
	itemRepo "bookresale-backend/internal/domains/item/repository"
	itemService "bookresale-backend/internal/domains/item/service"
	"bookresale-backend/internal/domains/listing/platform"
	listingRepo "bookresale-backend/internal/domains/listing/repository"
	listingService "bookresale-backend/internal/domains/listing/service"
	marketRepo "bookresale-backend/internal/domains/market/repository"
	marketService "bookresale-backend/internal/domains/market/service"
	pricingRepo "bookresale-backend/internal/domains/pricing/repository"
	pricingService "bookresale-backend/internal/domains/pricing/service"
)

// ========================================
// CONTAINER STRUCT
// ========================================

// Container holds the whole dependency graph. Both binaries build one;
// the API uses the HTTP handlers, the worker uses the services and the
// orchestrator.
type Container struct {
	// ========================================
	// INFRASTRUCTURE LAYER
	// ========================================

	Config    *config.Config
	DB        *database.PostgresDB
	Redis     *infraCache.RedisClient
	Cache     cache.Cache
	Storage   storage.ImageStore
	LLM       llm.Completer
	Publisher queue.Publisher

	publisherClose func() error

	// ========================================
	// REPOSITORY LAYER
	// ========================================

	ItemRepo        itemRepo.RepositoryInterface
	SnapshotStore   marketRepo.SnapshotStore
	AssessmentStore conditionRepo.AssessmentStore
	DecisionStore   pricingRepo.DecisionStore
	ListingStore    listingRepo.ListingStore

	// ========================================
	// PIPELINE
	// ========================================

	Orchestrator *pipeline.Orchestrator
	Reconciler   *pipeline.Reconciler

	// ========================================
	// SERVICE LAYER
	// ========================================

	ItemService      *itemService.Service
	IngestionService *ingestionService.Service
	ConditionService *conditionService.Service
	MarketResearch   *marketService.ResearchService
	PricingService   *pricingService.Service
	ListingService   *listingService.Service

	// ========================================
	// HANDLER LAYER (HTTP)
	// ========================================

	ItemHandler    *itemHandler.ItemHandler
	WebhookHandler *itemHandler.WebhookHandler
}

// ========================================
// CONSTRUCTOR
// ========================================

// NewContainer builds the graph in dependency order: config, then
// infrastructure, then repositories, services and handlers.
func NewContainer() (*Container, error) {
	log.Info().Msg("[CONTAINER] Initializing...")

	c := &Container{}

	// ========================================
	// STEP 1: CONFIGURATION
	// ========================================
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	c.Config = cfg
	log.Info().Str("environment", cfg.App.Environment).Msg("[CONTAINER] Config loaded")

	// ========================================
	// STEP 2: DATABASE
	// ========================================
	db := database.NewPostgresDB(&database.Config{
		Host:              cfg.Database.Host,
		Port:              cfg.Database.Port,
		Username:          cfg.Database.User,
		Password:          cfg.Database.Password,
		DBName:            cfg.Database.Database,
		MaxConns:          int32(cfg.Database.MaxConns),
		MinConns:          int32(cfg.Database.MinConns),
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   30 * time.Minute,
		HealthCheckPeriod: time.Minute,
		MaxRetries:        5,
		RetryDelay:        2 * time.Second,
		ConnectTimeout:    10 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	c.DB = db

	// ========================================
	// STEP 3: REDIS + QUEUE
	// ========================================
	c.Redis = infraCache.NewRedisClient(cfg.Redis.Host, cfg.Redis.Password, cfg.Redis.DB)
	if err := c.Redis.Connect(context.Background()); err != nil {
		// The cache is a soft dependency; the webhook dedupe degrades
		// gracefully without it.
		log.Warn().Err(err).Msg("[CONTAINER] Redis connection failed")
	}
	c.Cache = infraCache.NewCache(c.Redis)

	c.Publisher, c.publisherClose = queue.NewPublisher(cfg.Redis.Host)

	// ========================================
	// STEP 4: STORAGE + LLM
	// ========================================
	minioStorage, err := storage.NewMinIOStorage(storage.Config{
		Endpoint:  cfg.MinIO.Endpoint,
		AccessKey: cfg.MinIO.AccessKey,
		SecretKey: cfg.MinIO.SecretKey,
		Bucket:    cfg.MinIO.Bucket,
		UseSSL:    cfg.MinIO.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init object storage: %w", err)
	}
	c.Storage = minioStorage

	c.LLM = llm.NewClient(llm.Config{
		APIKey:            cfg.LLM.APIKey,
		Model:             cfg.LLM.Model,
		MaxTokens:         cfg.LLM.MaxTokens,
		Temperature:       cfg.LLM.Temperature,
		RequestsPerMinute: cfg.LLM.RequestsPerMinute,
	})

	// ========================================
	// STEP 5: REPOSITORIES
	// ========================================
	pool := db.Pool
	c.ItemRepo = itemRepo.NewPostgresRepository(pool)
	c.SnapshotStore = marketRepo.NewPostgresStore(pool)
	c.AssessmentStore = conditionRepo.NewPostgresStore(pool)
	c.DecisionStore = pricingRepo.NewPostgresStore(pool)
	c.ListingStore = listingRepo.NewPostgresStore(pool)

	// ========================================
	// STEP 6: PIPELINE + SERVICES
	// ========================================
	policy := retry.Policy{
		MaxAttempts: cfg.Pipeline.MaxRetries,
		BaseDelay:   cfg.Pipeline.RetryBaseDelay,
		Multiplier:  2.0,
	}
	maxDim := cfg.Pipeline.ImageMaxDimension

	c.Orchestrator = pipeline.NewOrchestrator(c.ItemRepo, c.Publisher)
	c.Reconciler = pipeline.NewReconciler(c.ItemRepo, c.Publisher, cfg.Pipeline.StuckAfter)

	lookupCache := marketService.NewLookupCache(c.SnapshotStore)
	searcher := marketService.NewGroundedSearcher(c.LLM, policy)
	c.MarketResearch = marketService.NewResearchService(lookupCache, searcher, cfg.Pipeline.MarketDataMaxAge)

	c.IngestionService = ingestionService.NewService(c.LLM, c.Storage, policy, maxDim)
	c.ConditionService = conditionService.NewService(c.AssessmentStore, c.LLM, c.Storage, policy, maxDim)
	c.PricingService = pricingService.NewService(c.DecisionStore, c.MarketResearch, c.LLM, policy)

	platformClient := platform.NewHTTPClient(cfg.Listing.BaseURL, cfg.Listing.APIKey)
	c.ListingService = listingService.NewService(c.ListingStore, platformClient, c.LLM, policy, cfg.Listing.Platforms)

	c.ItemService = itemService.NewService(c.ItemRepo, c.Storage, c.Publisher)

	// ========================================
	// STEP 7: HTTP HANDLERS
	// ========================================
	c.ItemHandler = itemHandler.NewItemHandler(c.ItemService, c.ConditionService, c.PricingService, c.ListingService)
	c.WebhookHandler = itemHandler.NewWebhookHandler(c.Publisher, c.Cache, cfg.Webhook.DedupeTTL, cfg.WebhookSecret)

	log.Info().Msg("[CONTAINER] Ready")
	return c, nil
}

// ========================================
// CLEANUP
// ========================================

// Cleanup releases infrastructure connections, reverse of build order.
func (c *Container) Cleanup() {
	if c.publisherClose != nil {
		if err := c.publisherClose(); err != nil {
			log.Error().Err(err).Msg("[CONTAINER] Failed to close publisher")
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			log.Error().Err(err).Msg("[CONTAINER] Failed to close redis")
		}
	}
	if c.DB != nil {
		c.DB.Close()
	}
	log.Info().Msg("[CONTAINER] Cleaned up")
}
