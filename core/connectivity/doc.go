// Package connectivity tracks the authentication state of the remote account:
// not_logged_in, signing_in, token_failed, denied and authenticated.
//
// Remote operations call Await before talking to the store, so work issued
// while a sign-in is in progress is held until it completes. Authentication
// failures reported by the store demote the state (see Tracker.Demote).
package connectivity
