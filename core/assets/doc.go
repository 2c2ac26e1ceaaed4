// Package assets moves file-backed field values into object storage.
//
// Before a record is written to the remote store, the Stager uploads every
// asset value that still points at a local file and rewrites it to carry the
// content-addressed storage key ("sha256/<hex>"). Identical files share one
// object and re-staging an unchanged file is a metadata lookup only.
//
// # Usage
//
//	stager := assets.NewStager(client, cfg.Storage.Bucket, logger)
//	fields, err := stager.Stage(ctx, obj.Fields)
package assets
