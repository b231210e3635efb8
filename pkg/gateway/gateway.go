// Package gateway provides the public API for embedding the interaction gateway.
// This is the stable API for external consumers.
package gateway

import (
	"github.com/tjfontaine/interaction-gateway/internal/runtime"
)

// Gateway is the main entry point for running the interaction gateway.
// See internal/runtime.Gateway for full documentation.
type Gateway = runtime.Gateway

// Option is a functional option for configuring a Gateway.
type Option = runtime.Option

// New creates a new Gateway with the given options.
// Example:
//
//	gw, err := gateway.New(
//	    gateway.WithFileConfig("config.yaml"),
//	    gateway.WithSQLite("./data/interactions.db"),
//	)
var New = runtime.New

// Configuration options
var (
	// Config sources
	WithFileConfig     = runtime.WithFileConfig
	WithConfigProvider = runtime.WithConfigProvider

	// Storage and events
	WithSQLite         = runtime.WithSQLite
	WithAuditStore     = runtime.WithAuditStore
	WithEventPublisher = runtime.WithEventPublisher

	// Authentication and policy
	WithAuthProvider  = runtime.WithAuthProvider
	WithQualityPolicy = runtime.WithQualityPolicy

	// Advanced options
	WithLogger   = runtime.WithLogger
	WithLevelVar = runtime.WithLevelVar
	WithListener = runtime.WithListener
	WithClock    = runtime.WithClock
)
