// Package events is the notification channel between the sync engine and
// whatever presents it (HTTP, CLI).
//
// Two families of events are published: connectivity state changes
// (connectivity.Changed) and sync progress (reconcile.BatchCompleted,
// changefeed.PullCompleted). The Bus keeps a short history so late
// consumers can catch up.
package events
