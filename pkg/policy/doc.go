// Package policy guards spending with Rego policies.
//
// A Guard implements engine.Authorizer. Before a paid query or a transaction
// is signed, the guard evaluates every enabled policy's deny rules against
// the request. Any violation with error or critical severity rejects it.
//
// # Input
//
// Policies see the request as input:
//
//	{
//	  "kind": "transaction",          // or "query"
//	  "method": "cryptoTransfer",
//	  "payer": "0.0.1001",
//	  "amount": 0,                    // query payment
//	  "max_fee": 100000000,           // transaction fee ceiling
//	  "memo": "rent",
//	  "transfers": [{"account": "0.0.1002", "amount": 10}, ...],
//	  "timestamp": "2026-01-02T15:04:05Z"
//	}
//
// and the configured Limits as data.limits.
//
// # Writing Policies
//
// A policy is a Rego module with a deny set. Each element is a message
// string or an object with message and optional severity:
//
//	package ledgerexec.policies.business_hours
//
//	import rego.v1
//
//	deny contains {"message": "no transfers on weekends"} if {
//		input.kind == "transaction"
//		day := time.weekday(time.parse_rfc3339_ns(input.timestamp))
//		day in {"Saturday", "Sunday"}
//	}
//
// Policies are loaded from .rego files or .json definitions and can be
// reloaded when the files change. A .rego file is named after the file; a
// "# severity: warning" header comment lowers its default severity.
package policy
