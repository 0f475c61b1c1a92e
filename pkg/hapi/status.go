package hapi

import (
	"fmt"
	"slices"
)

// Status is the precheck verdict a node attaches to every response header.
type Status int32

const (
	StatusOK                            Status = 0
	StatusInvalidTransaction            Status = 1
	StatusPayerAccountNotFound          Status = 2
	StatusInvalidNodeAccount            Status = 3
	StatusTransactionExpired            Status = 4
	StatusInvalidTransactionStart       Status = 5
	StatusInvalidTransactionDuration    Status = 6
	StatusInvalidSignature              Status = 7
	StatusMemoTooLong                   Status = 8
	StatusInsufficientTxFee             Status = 9
	StatusInsufficientPayerBalance      Status = 10
	StatusDuplicateTransaction          Status = 11
	StatusBusy                          Status = 12
	StatusNotSupported                  Status = 13
	StatusInvalidFileID                 Status = 14
	StatusInvalidAccountID              Status = 15
	StatusInvalidContractID             Status = 16
	StatusInvalidTransactionID          Status = 17
	StatusReceiptNotFound               Status = 18
	StatusRecordNotFound                Status = 19
	StatusUnknown                       Status = 21
	StatusSuccess                       Status = 22
	StatusFailInvalid                   Status = 23
	StatusFailFee                       Status = 24
	StatusFailBalance                   Status = 25
	StatusKeyRequired                   Status = 26
	StatusBadEncoding                   Status = 27
	StatusInsufficientAccountBalance    Status = 28
	StatusInvalidReceivingNodeAccount   Status = 35
	StatusMissingQueryHeader            Status = 36
	StatusInvalidQueryHeader            Status = 41
	StatusInvalidFeeSubmitted           Status = 42
	StatusInvalidPayerSignature         Status = 43
	StatusInvalidAccountAmounts         Status = 48
	StatusEmptyTransactionBody          Status = 49
	StatusInvalidTransactionBody        Status = 50
	StatusPlatformTransactionNotCreated Status = 51
	StatusPlatformNotActive             Status = 52
	StatusInvalidTokenID                Status = 53
	StatusInvalidNftID                  Status = 54
	StatusTokenNotAssociatedToAccount   Status = 55
	StatusAccountDeleted                Status = 56
	StatusTransactionOversize           Status = 57
	StatusInvalidTopicID                Status = 58
	StatusInvalidScheduleID             Status = 59
)

var statusNames = map[Status]string{
	StatusOK:                            "OK",
	StatusInvalidTransaction:            "INVALID_TRANSACTION",
	StatusPayerAccountNotFound:          "PAYER_ACCOUNT_NOT_FOUND",
	StatusInvalidNodeAccount:            "INVALID_NODE_ACCOUNT",
	StatusTransactionExpired:            "TRANSACTION_EXPIRED",
	StatusInvalidTransactionStart:       "INVALID_TRANSACTION_START",
	StatusInvalidTransactionDuration:    "INVALID_TRANSACTION_DURATION",
	StatusInvalidSignature:              "INVALID_SIGNATURE",
	StatusMemoTooLong:                   "MEMO_TOO_LONG",
	StatusInsufficientTxFee:             "INSUFFICIENT_TX_FEE",
	StatusInsufficientPayerBalance:      "INSUFFICIENT_PAYER_BALANCE",
	StatusDuplicateTransaction:          "DUPLICATE_TRANSACTION",
	StatusBusy:                          "BUSY",
	StatusNotSupported:                  "NOT_SUPPORTED",
	StatusInvalidFileID:                 "INVALID_FILE_ID",
	StatusInvalidAccountID:              "INVALID_ACCOUNT_ID",
	StatusInvalidContractID:             "INVALID_CONTRACT_ID",
	StatusInvalidTransactionID:          "INVALID_TRANSACTION_ID",
	StatusReceiptNotFound:               "RECEIPT_NOT_FOUND",
	StatusRecordNotFound:                "RECORD_NOT_FOUND",
	StatusUnknown:                       "UNKNOWN",
	StatusSuccess:                       "SUCCESS",
	StatusFailInvalid:                   "FAIL_INVALID",
	StatusFailFee:                       "FAIL_FEE",
	StatusFailBalance:                   "FAIL_BALANCE",
	StatusKeyRequired:                   "KEY_REQUIRED",
	StatusBadEncoding:                   "BAD_ENCODING",
	StatusInsufficientAccountBalance:    "INSUFFICIENT_ACCOUNT_BALANCE",
	StatusInvalidReceivingNodeAccount:   "INVALID_RECEIVING_NODE_ACCOUNT",
	StatusMissingQueryHeader:            "MISSING_QUERY_HEADER",
	StatusInvalidQueryHeader:            "INVALID_QUERY_HEADER",
	StatusInvalidFeeSubmitted:           "INVALID_FEE_SUBMITTED",
	StatusInvalidPayerSignature:         "INVALID_PAYER_SIGNATURE",
	StatusInvalidAccountAmounts:         "INVALID_ACCOUNT_AMOUNTS",
	StatusEmptyTransactionBody:          "EMPTY_TRANSACTION_BODY",
	StatusInvalidTransactionBody:        "INVALID_TRANSACTION_BODY",
	StatusPlatformTransactionNotCreated: "PLATFORM_TRANSACTION_NOT_CREATED",
	StatusPlatformNotActive:             "PLATFORM_NOT_ACTIVE",
	StatusInvalidTokenID:                "INVALID_TOKEN_ID",
	StatusInvalidNftID:                  "INVALID_NFT_ID",
	StatusTokenNotAssociatedToAccount:   "TOKEN_NOT_ASSOCIATED_TO_ACCOUNT",
	StatusAccountDeleted:                "ACCOUNT_DELETED",
	StatusTransactionOversize:           "TRANSACTION_OVERSIZE",
	StatusInvalidTopicID:                "INVALID_TOPIC_ID",
	StatusInvalidScheduleID:             "INVALID_SCHEDULE_ID",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STATUS_%d", int32(s))
}

// Known reports whether s belongs to the protocol's status vocabulary.
func (s Status) Known() bool {
	_, ok := statusNames[s]
	return ok
}

// ParseStatus maps a status name such as "BUSY" back to its code.
func ParseStatus(name string) (Status, error) {
	for s, n := range statusNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("hapi: unknown status %q", name)
}

// Statuses returns the full vocabulary in ascending code order.
func Statuses() []Status {
	out := make([]Status, 0, len(statusNames))
	for s := range statusNames {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}
