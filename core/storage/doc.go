// Package storage wraps the MinIO client used to hold record assets.
//
// Field values that reference local files are uploaded before the owning
// record is sent to the remote store. The Client interface narrows the MinIO
// API to the calls the asset stager makes, which keeps the stager testable
// with the mock in core/storage/mocks.
//
// # Usage
//
//	client, err := storage.NewClient(cfg.Storage)
//	exists, err := client.BucketExists(ctx, cfg.Storage.Bucket)
package storage
