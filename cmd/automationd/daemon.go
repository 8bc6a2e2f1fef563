package main

import (
	"time"

	"github.com/go-logr/logr"

	"github.com/octocrew/gh-automation-core/internal/config"
	"github.com/octocrew/gh-automation-core/internal/cycle"
	"github.com/octocrew/gh-automation-core/internal/execute"
	"github.com/octocrew/gh-automation-core/internal/ingest"
	"github.com/octocrew/gh-automation-core/internal/store"
)

// daemon holds the wired components the HTTP handlers and scheduler share.
// Grounded on server/plugin.go's Plugin struct, which plays the same role
// for the teacher's HTTP handlers.
type daemon struct {
	cfg       *config.Store
	ing       *ingest.Ingestor
	ex        *execute.Executor
	cyc       *cycle.Controller
	st        *store.Store
	log       logr.Logger
	startedAt time.Time
}
