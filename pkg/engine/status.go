package engine

import (
	"github.com/ledgerexec/ledgerexec/pkg/hapi"
)

// Outcome is the classification of a single attempt.
type Outcome int

const (
	// OutcomeSuccess ends the execution with the response payload.
	OutcomeSuccess Outcome = iota

	// OutcomeRetryableNode means no status was received; try another node.
	OutcomeRetryableNode

	// OutcomeRetryableBusiness means the node reported a transient status.
	OutcomeRetryableBusiness

	// OutcomeFatal ends the execution immediately.
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryableNode:
		return "retryable_node"
	case OutcomeRetryableBusiness:
		return "retryable_business"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// IsRetryable returns true for both retryable outcomes.
func (o Outcome) IsRetryable() bool {
	return o == OutcomeRetryableNode || o == OutcomeRetryableBusiness
}

func (o Outcome) errorClass() ErrorClass {
	switch o {
	case OutcomeRetryableNode:
		return ErrorClassNode
	case OutcomeRetryableBusiness:
		return ErrorClassBusiness
	default:
		return ErrorClassFatal
	}
}

// statusOutcomes covers every status in the hapi vocabulary. Codes outside
// the table are fatal.
var statusOutcomes = map[hapi.Status]Outcome{
	hapi.StatusOK:      OutcomeSuccess,
	hapi.StatusSuccess: OutcomeSuccess,

	hapi.StatusBusy:                          OutcomeRetryableBusiness,
	hapi.StatusPlatformTransactionNotCreated: OutcomeRetryableBusiness,
	hapi.StatusPlatformNotActive:             OutcomeRetryableBusiness,

	hapi.StatusInvalidTransaction:            OutcomeFatal,
	hapi.StatusPayerAccountNotFound:          OutcomeFatal,
	hapi.StatusInvalidNodeAccount:            OutcomeFatal,
	hapi.StatusTransactionExpired:            OutcomeFatal,
	hapi.StatusInvalidTransactionStart:       OutcomeFatal,
	hapi.StatusInvalidTransactionDuration:    OutcomeFatal,
	hapi.StatusInvalidSignature:              OutcomeFatal,
	hapi.StatusMemoTooLong:                   OutcomeFatal,
	hapi.StatusInsufficientTxFee:             OutcomeFatal,
	hapi.StatusInsufficientPayerBalance:      OutcomeFatal,
	hapi.StatusDuplicateTransaction:          OutcomeFatal,
	hapi.StatusNotSupported:                  OutcomeFatal,
	hapi.StatusInvalidFileID:                 OutcomeFatal,
	hapi.StatusInvalidAccountID:              OutcomeFatal,
	hapi.StatusInvalidContractID:             OutcomeFatal,
	hapi.StatusInvalidTransactionID:          OutcomeFatal,
	hapi.StatusReceiptNotFound:               OutcomeFatal,
	hapi.StatusRecordNotFound:                OutcomeFatal,
	hapi.StatusUnknown:                       OutcomeFatal,
	hapi.StatusFailInvalid:                   OutcomeFatal,
	hapi.StatusFailFee:                       OutcomeFatal,
	hapi.StatusFailBalance:                   OutcomeFatal,
	hapi.StatusKeyRequired:                   OutcomeFatal,
	hapi.StatusBadEncoding:                   OutcomeFatal,
	hapi.StatusInsufficientAccountBalance:    OutcomeFatal,
	hapi.StatusInvalidReceivingNodeAccount:   OutcomeFatal,
	hapi.StatusMissingQueryHeader:            OutcomeFatal,
	hapi.StatusInvalidQueryHeader:            OutcomeFatal,
	hapi.StatusInvalidFeeSubmitted:           OutcomeFatal,
	hapi.StatusInvalidPayerSignature:         OutcomeFatal,
	hapi.StatusInvalidAccountAmounts:         OutcomeFatal,
	hapi.StatusEmptyTransactionBody:          OutcomeFatal,
	hapi.StatusInvalidTransactionBody:        OutcomeFatal,
	hapi.StatusInvalidTokenID:                OutcomeFatal,
	hapi.StatusInvalidNftID:                  OutcomeFatal,
	hapi.StatusTokenNotAssociatedToAccount:   OutcomeFatal,
	hapi.StatusAccountDeleted:                OutcomeFatal,
	hapi.StatusTransactionOversize:           OutcomeFatal,
	hapi.StatusInvalidTopicID:                OutcomeFatal,
	hapi.StatusInvalidScheduleID:             OutcomeFatal,
}

// Classify maps one attempt to an Outcome. A transport error always means
// no status was received, so status is ignored.
func Classify(status hapi.Status, transportErr error) Outcome {
	if transportErr != nil {
		return OutcomeRetryableNode
	}
	if o, ok := statusOutcomes[status]; ok {
		return o
	}
	return OutcomeFatal
}
