// Package license implements the license lifecycle engine: issuance of unique
// keys, single-device activation binding, validity verification and
// administrative enable/disable and device release.
//
// # Architecture Overview
//
// The engine consists of several components:
//
//	- KeyGenerator: random XXXX-XXXX-XXXX-XXXX keys over A-Z0-9
//	- Evaluate:     pure validity function over a record and a time
//	- Manager:      orchestrates the store, key generator and clock
//
// All persistence goes through store.Store. Every mutation of an existing
// license runs inside Store.Update, so the read-check-write sequence of an
// activation is atomic per key.
//
// # Activation Flow
//
// Checks run in a fixed order and stop at the first failure:
//
//	1. key unknown                       -> LicenseNotFound
//	2. owner email differs (any case)    -> EmailMismatch
//	3. disabled by an admin              -> LicenseDisabled
//	4. now after expiry                  -> LicenseExpired
//	5. bound to another device           -> DeviceConflict
//
// On success the license is marked activated, bound to the device, its
// activation counter is incremented and an ActivationEvent is appended.
// Re-activating from the bound device succeeds and leaves the binding as is.
//
// # Device Release
//
// ReleaseDevice clears the binding but keeps the activated state, so a
// released license keeps verifying as valid until the next activation binds
// it to new hardware.
//
// # Failures
//
// Expected outcomes are returned as *Error values carrying a stable Reason.
// Anything else (store unavailable, key space exhausted) is an
// infrastructure failure.
//
// # Known Weaknesses
//
// Keys come from math/rand/v2 and are not security-grade tokens. They resist
// casual enumeration only.
package license
