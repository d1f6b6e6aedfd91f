// Package tracker is the core of the bot: it owns the persisted set of
// tracked Twitch channels per Discord guild and the reconcile loop that
// detects offline→live transitions.
//
// It provides two entrypoints:
//   - Store: Postgres-backed registry of (guild, channel) subscriptions and
//     per-guild delivery settings. Row-level atomicity is the only
//     coordination between the reconcile loop and the command handlers.
//   - Reconciler: a fixed-interval loop that loads every subscription joined
//     with its guild's settings, asks Twitch which channels are live, applies
//     the transition table, and posts exactly one notification per rising
//     edge. A failure on one row never aborts the rest of the pass.
//
// The transition table, evaluated once per pass per subscription:
//
//	stored OFFLINE + live   -> notify (if a destination is set), persist LIVE
//	stored OFFLINE + not    -> no-op
//	stored LIVE    + live   -> no-op (already announced)
//	stored LIVE    + not    -> persist OFFLINE, no notification
//
// A notification is therefore sent at most once per going-live episode, and
// again on the next episode after an intervening offline observation.
package tracker
