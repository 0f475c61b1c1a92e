// Package config loads the ledgerexec client configuration.
//
// # Overview
//
// Configuration is a single YAML file. Loading applies defaults first, then
// the file, then environment overrides, and finally validates the result with
// struct tags. The loaded Config converts into the settings of every other
// package: the node list for pkg/network, engine.Config, grpcnode.Config,
// policy.Limits and telemetry.Config.
//
// # Environment
//
//	LEDGEREXEC_NETWORK        ledger name or hex ledger id
//	LEDGEREXEC_OPERATOR_ID    operator account, e.g. 0.0.1001
//	LEDGEREXEC_OPERATOR_KEY   operator private key in hex or DER hex
//
// # Example
//
//	network: testnet
//	nodes:
//	  - account_id: 0.0.3
//	    address: 127.0.0.1:50211
//	operator:
//	  account_id: 0.0.1001
//	  private_key: 302e020100300506032b657004220420...
//	execution:
//	  max_attempts: 10
//	  attempt_timeout: 10s
//	policy:
//	  enabled: true
//	  paths: [/etc/ledgerexec/policies]
//	  limits:
//	    max_transfer: 100000000
//	    blocked_accounts: [0.0.666]
//
// # Watching
//
// Watch follows the file on disk and hands every successfully reloaded
// Config to a callback, which the client uses to swap the node list and
// spending limits without restarting.
package config
