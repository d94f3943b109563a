// Package app composes the sealed scores server.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── circuit/            # Confidential circuit contract (sum + count)
//	├── cluster/            # Compute cluster capability, HTTP adapter, fake
//	├── domain/score/       # Jobs, requests, results, events, error codes
//	├── httpapi/            # HTTP API handlers and routing
//	├── metrics/            # Prometheus collectors
//	├── notify/             # Event log, Redis publisher, WebSocket hub
//	├── runtime/            # Config-driven wiring and HTTP server lifecycle
//	├── services/scores/    # Submission, dispatch, callback verification
//	├── storage/            # Store interfaces, memory and postgres backends
//	└── system/             # Lifecycle manager
//
// # Flow
//
//	POST /v1/jobs ──► scores.Submit ──► cluster.SubmitJob
//	                                          │
//	   cluster callback (HTTP or pump) ◄──────┘
//	          │
//	          ▼
//	scores.HandleCallback ──► attest.Verifier ──► JobStore.CompleteJob
//	                                                    │
//	                                                    ▼
//	                                     notify.Multi (log, hub, redis)
//
// # Dependency Direction
//
//	cmd/scored ──► internal/app/runtime ──► internal/app/httpapi ──► internal/app
//	                                                                    │
//	                              internal/app/services/scores ◄────────┘
//	                                        │
//	                    storage, cluster, notify, crypto/attest
package app
