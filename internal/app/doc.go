// Package app composes the portal: it wires the permission gate, the ghost
// ledger, the identifier allocator, status derivation, the archive manager
// and the integrity scanner over a single storage.Repository, and manages
// the lifecycle of the background services among them.
//
// Layout:
//
//	internal/app/
//	├── application.go   composition root
//	├── domain/          plain data types (organization, application, submission, ghost, archive, principal)
//	├── storage/         repository interfaces with memory and postgres implementations
//	├── services/        business rules, one package per concern
//	├── integrity/       scheduled constraint scan
//	├── httpapi/         chi router over the services
//	├── metrics/         Prometheus collectors
//	└── system/          service lifecycle manager
//
// Services never talk HTTP and handlers never touch storage directly; both
// go through the types exported here.
package app
