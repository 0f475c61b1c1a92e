package policy

// BuiltinPolicies returns the policies every guard starts with. They read
// their thresholds from data.limits and do nothing while a limit is zero.
func BuiltinPolicies() []Policy {
	return []Policy{
		transferLimitPolicy(),
		queryPaymentLimitPolicy(),
		feeLimitPolicy(),
		blockedAccountsPolicy(),
	}
}

func transferLimitPolicy() Policy {
	return Policy{
		Name:        "transfer-limit",
		Description: "Caps the amount credited to any one account by a transaction",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Rego: `package ledgerexec.policies.transfer_limit

import rego.v1

deny contains violation if {
	limit := data.limits.max_transfer
	limit > 0
	some t in input.transfers
	t.amount > limit
	violation := {"message": sprintf("transfer of %d to %s exceeds limit %d", [t.amount, t.account, limit])}
}
`,
	}
}

func queryPaymentLimitPolicy() Policy {
	return Policy{
		Name:        "query-payment-limit",
		Description: "Caps the payment attached to a single query",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Rego: `package ledgerexec.policies.query_payment_limit

import rego.v1

deny contains violation if {
	input.kind == "query"
	limit := data.limits.max_query_payment
	limit > 0
	input.amount > limit
	violation := {"message": sprintf("query payment %d exceeds limit %d", [input.amount, limit])}
}
`,
	}
}

func feeLimitPolicy() Policy {
	return Policy{
		Name:        "fee-limit",
		Description: "Caps the maximum transaction fee a transaction may offer",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Rego: `package ledgerexec.policies.fee_limit

import rego.v1

deny contains violation if {
	input.kind == "transaction"
	limit := data.limits.max_fee
	limit > 0
	input.max_fee > limit
	violation := {"message": sprintf("max fee %d exceeds limit %d", [input.max_fee, limit])}
}
`,
	}
}

func blockedAccountsPolicy() Policy {
	return Policy{
		Name:        "blocked-accounts",
		Description: "Rejects transfers touching a blocked account",
		Severity:    SeverityCritical,
		Enabled:     true,
		Builtin:     true,
		Rego: `package ledgerexec.policies.blocked_accounts

import rego.v1

deny contains violation if {
	some t in input.transfers
	t.account in data.limits.blocked_accounts
	violation := {"message": sprintf("account %s is blocked", [t.account])}
}
`,
	}
}
