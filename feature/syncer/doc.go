// Package syncer wires the sync engine into a service and exposes it over
// HTTP.
//
// # Service
//
// Service signs in to the remote account, resumes interrupted uploads, and
// creates, updates and deletes local objects while scheduling their
// reconciliation. It also triggers change-feed pulls and full resyncs.
//
// # Routes
//
//	GET    /sync/status
//	GET    /sync/events
//	POST   /sync/connect
//	POST   /sync/pull?zone=
//	POST   /sync/resync/:zone/:type
//	POST   /sync/resume
//	POST   /objects/:scope/:type/:zone?wait=true
//	GET    /objects/:scope/:type/:zone/:name
//	PUT    /objects/:scope/:type/:zone/:name?wait=true
//	DELETE /objects/:scope/:type/:zone/:name
//	GET    /objects/:scope/:type/:zone/:name/assets/:field
//
// # Engine
//
// Open builds every component from a config.Config: the gorm-backed local
// store, the remote store, optional MinIO asset storage, the scheduler and
// the puller.
package syncer
