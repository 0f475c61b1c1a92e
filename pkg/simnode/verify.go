package simnode

import (
	"time"

	"github.com/ledgerexec/ledgerexec/pkg/entity"
	"github.com/ledgerexec/ledgerexec/pkg/hapi"
	"github.com/ledgerexec/ledgerexec/pkg/keys"
)

const maxMemoBytes = 100

// decoded is a signed transaction that passed structural checks.
type decoded struct {
	signed hapi.SignedTransaction
	body   hapi.TransactionBody
}

func decodeSigned(raw []byte) (decoded, hapi.Status) {
	if len(raw) == 0 {
		return decoded{}, hapi.StatusInvalidTransaction
	}
	st, err := hapi.UnmarshalSignedTransaction(raw)
	if err != nil {
		return decoded{}, hapi.StatusInvalidTransaction
	}
	if len(st.BodyBytes) == 0 {
		return decoded{}, hapi.StatusEmptyTransactionBody
	}
	body, err := st.Body()
	if err != nil {
		return decoded{}, hapi.StatusInvalidTransactionBody
	}
	return decoded{signed: st, body: body}, hapi.StatusOK
}

// checkEnvelope validates the fields every transaction carries.
func (n *Node) checkEnvelope(d decoded) hapi.Status {
	b := d.body
	switch {
	case b.TransactionID.IsZero():
		return hapi.StatusInvalidTransactionID
	case b.NodeAccountID != n.cfg.AccountID:
		return hapi.StatusInvalidNodeAccount
	case len(b.Memo) > maxMemoBytes:
		return hapi.StatusMemoTooLong
	case b.ValidDuration <= 0 || b.ValidDuration > 3*time.Minute:
		return hapi.StatusInvalidTransactionDuration
	}

	now := n.cfg.Now()
	if b.TransactionID.ValidStart.After(now) {
		return hapi.StatusInvalidTransactionStart
	}
	if !b.TransactionID.ValidStart.Add(b.ValidDuration).After(now) {
		return hapi.StatusTransactionExpired
	}
	if d.body.MaxFee < n.cfg.TransactionFee {
		return hapi.StatusInsufficientTxFee
	}
	return hapi.StatusOK
}

// signedBy reports whether the transaction carries a valid signature from key.
func signedBy(d decoded, key keys.PublicKey) bool {
	if key.IsZero() {
		return false
	}
	for _, sp := range d.signed.Signatures {
		var alg keys.Algorithm
		switch sp.Scheme {
		case hapi.SchemeEd25519:
			alg = keys.AlgorithmEd25519
		case hapi.SchemeECDSASecp256k1:
			alg = keys.AlgorithmECDSASecp256k1
		default:
			continue
		}
		pub, err := keys.PublicKeyFromBytes(alg, sp.PubKey)
		if err != nil || !pub.Equal(key) {
			continue
		}
		if pub.Verify(d.signed.BodyBytes, sp.Signature) {
			return true
		}
	}
	return false
}

// checkSignatures requires the payer and every debited account to sign.
func (n *Node) checkSignatures(d decoded) hapi.Status {
	payer, ok := n.ledger.Account(d.body.TransactionID.Account)
	if !ok {
		return hapi.StatusPayerAccountNotFound
	}
	if !signedBy(d, payer.Key) {
		return hapi.StatusInvalidPayerSignature
	}
	for _, leg := range d.body.Transfers {
		if leg.Amount >= 0 || leg.Account == payer.ID {
			continue
		}
		acct, ok := n.ledger.Account(leg.Account)
		if !ok {
			return hapi.StatusInvalidAccountID
		}
		if !signedBy(d, acct.Key) {
			return hapi.StatusInvalidSignature
		}
	}
	return hapi.StatusOK
}

func checkBalanced(legs []hapi.AccountAmount) hapi.Status {
	var sum int64
	for _, leg := range legs {
		if leg.Account.Kind != entity.KindAccount {
			return hapi.StatusInvalidAccountID
		}
		sum += leg.Amount
	}
	if sum != 0 {
		return hapi.StatusInvalidAccountAmounts
	}
	return hapi.StatusOK
}

// checkPayment validates a query payment: a two-leg transfer from the payer
// to this node of at least fee.
func (n *Node) checkPayment(d decoded, fee uint64) hapi.Status {
	legs := d.body.Transfers
	if len(legs) != 2 {
		return hapi.StatusInvalidAccountAmounts
	}
	if s := checkBalanced(legs); s != hapi.StatusOK {
		return s
	}

	var paid int64
	for _, leg := range legs {
		switch {
		case leg.Amount > 0 && leg.Account != n.cfg.AccountID:
			return hapi.StatusInvalidReceivingNodeAccount
		case leg.Amount > 0:
			paid = leg.Amount
		case leg.Account != d.body.TransactionID.Account:
			return hapi.StatusInvalidAccountAmounts
		}
	}
	if uint64(paid) < fee {
		return hapi.StatusInsufficientTxFee
	}
	return hapi.StatusOK
}
