package handlers

import (
	"gorm.io/gorm"

	"github.com/scoutline/discovery/internal/config"
	"github.com/scoutline/discovery/internal/discovery"
	"github.com/scoutline/discovery/internal/provider"
	"github.com/scoutline/discovery/internal/store/redisstore"
)

type Handler struct {
	DB         *gorm.DB
	Cfg        config.Config
	Redis      *redisstore.Store
	Repo       *discovery.Repo
	Svc        *discovery.Service
	Runner     *discovery.Runner
	Aggregator *discovery.Aggregator
}

func NewHandler(gdb *gorm.DB, cfg config.Config, rds *redisstore.Store, registry *provider.Registry, dispatcher discovery.Dispatcher) *Handler {
	repo := discovery.NewRepo(gdb)
	return &Handler{
		DB:         gdb,
		Cfg:        cfg,
		Redis:      rds,
		Repo:       repo,
		Svc:        discovery.NewService(repo, dispatcher),
		Runner:     discovery.NewRunner(repo, registry, dispatcher),
		Aggregator: discovery.NewAggregator(repo),
	}
}
