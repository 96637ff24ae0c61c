// Package vault implements the accounting state machine of an RWA-backed share vault.
//
// Overview:
//   - Every owner identity maps to exactly one vault, addressed by a MiMC image of
//     ("vault", owner) so the address is recomputable without a lookup table
//   - Minting is gated by an oracle attestation (hash + timestamp) checked by a
//     pluggable Verifier; burning needs no attestation
//   - Share totals are kept equal to the outstanding share-token supply of an
//     external token ledger; Checker and Auditor verify this conservation property
//
// Concurrency:
//   - Ledger serializes transitions per vault identity; distinct vaults proceed in parallel
//   - Each transition is applied through Store.Update / Store.Create, and the token
//     ledger steps run inside that unit so a failed step leaves no partial state
//
// WARNING: Hashing RWA metadata hides it from the ledger but does not make vault
// activity anonymous. Plug a real proof system in through Verifier for that.
package vault
