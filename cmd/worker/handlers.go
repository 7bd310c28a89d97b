package main

import (
	"github.com/hibiken/asynq"

	conditionJob "bookresale-backend/internal/domains/condition/job"
	ingestionJob "bookresale-backend/internal/domains/ingestion/job"
	listingJob "bookresale-backend/internal/domains/listing/job"
	marketJob "bookresale-backend/internal/domains/market/job"
	pricingJob "bookresale-backend/internal/domains/pricing/job"
	"bookresale-backend/internal/pipeline"
	"bookresale-backend/internal/shared"
	"bookresale-backend/pkg/container"
)

// HandlerRegistry holds all job handlers
type HandlerRegistry struct {
	// Pipeline stages
	ingest   *ingestionJob.IngestHandler
	assess   *conditionJob.AssessHandler
	research *marketJob.ResearchHandler
	price    *pricingJob.PriceHandler
	list     *listingJob.ListHandler
	sale     *listingJob.SaleHandler
	delist   *listingJob.DelistHandler

	// Maintenance
	reconcile *pipeline.Reconciler
}

// initializeHandlers creates all job handlers with their dependencies
func initializeHandlers(c *container.Container) *HandlerRegistry {
	return &HandlerRegistry{
		ingest:   ingestionJob.NewIngestHandler(c.Orchestrator, c.IngestionService),
		assess:   conditionJob.NewAssessHandler(c.Orchestrator, c.ConditionService, c.ItemRepo),
		research: marketJob.NewResearchHandler(c.Orchestrator, c.MarketResearch),
		price:    pricingJob.NewPriceHandler(c.Orchestrator, c.PricingService, c.ItemRepo),
		list:     listingJob.NewListHandler(c.Orchestrator, c.ListingService, c.ItemRepo),
		sale:     listingJob.NewSaleHandler(c.Orchestrator, c.ListingService),
		delist:   listingJob.NewDelistHandler(c.Orchestrator, c.ListingService),

		reconcile: c.Reconciler,
	}
}

// RegisterHandlers registers all handlers with the mux
func (h *HandlerRegistry) RegisterHandlers(mux *asynq.ServeMux) {
	// Pipeline stages
	mux.HandleFunc(shared.TypeIngestItem, h.ingest.ProcessTask)
	mux.HandleFunc(shared.TypeAssessCondition, h.assess.ProcessTask)
	mux.HandleFunc(shared.TypeResearchPrice, h.research.ProcessTask)
	mux.HandleFunc(shared.TypePriceItem, h.price.ProcessTask)
	mux.HandleFunc(shared.TypeListItem, h.list.ProcessTask)
	mux.HandleFunc(shared.TypeRecordSale, h.sale.ProcessTask)
	mux.HandleFunc(shared.TypeDelistItem, h.delist.ProcessTask)

	// Maintenance
	mux.HandleFunc(shared.TypeReconcileStuck, h.reconcile.ProcessTask)
}
