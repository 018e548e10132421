// Package orchestrator sequences wallet creation and recovery.
//
// An Orchestrator is bound to one user session. It moves through
//
//	SIGNED_OUT -> PROFILE_CONFIRMED -> DISCOVERING -> [CHOOSE] -> PIN_ENTRY
//	  -> [PIN_CONFIRM] -> PASSWORD_ENTRY -> RECONSTRUCTING -> COMPLETE | FAILED
//
// Creation generates a mnemonic, encrypts it under a single-use key, splits
// that key 2-of-2, registers one share with the PIN-gated realms and stores the
// other with the encrypted mnemonic in the backup store. Recovery reverses the
// sequence. Both finish by sealing the seed in the local vault.
package orchestrator
