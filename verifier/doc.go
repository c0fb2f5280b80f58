// Package verifier checks attestation records against on-chain verifier
// contracts.
//
// Dispatcher routes each record to the verifier for its kind:
//
//   - simulated records are accepted without a call
//   - vTPM records go to verifyAndAttest(bytes,bytes,bytes)
//   - TPM records go to verifyAttestation(bytes,bytes32,uint256,bytes)
//   - anything else, or any failed call, gets simulated verification that
//     rejects a configurable fraction of records
//
// Contract calls are read-only eth_call requests. Since no transaction is
// sent, results carry a pseudo transaction hash derived from the evidence
// digest and the verification time.
//
// The contract ABIs are embedded and can be replaced through configuration.
package verifier
