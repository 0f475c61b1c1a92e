package hapi

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ledgerexec/ledgerexec/pkg/entity"
)

// CryptoService is the node service serving account queries and transfers.
const CryptoService = "proto.CryptoService"

// Method names on CryptoService.
const (
	MethodGetAccountBalance = "cryptoGetBalance"
	MethodGetAccountInfo    = "getAccountInfo"
	MethodCryptoTransfer    = "cryptoTransfer"
)

// AccountQuery is the payload of both account queries.
type AccountQuery struct {
	Account entity.ID
}

func (q *AccountQuery) Marshal() []byte {
	return appendIDField(nil, 1, q.Account)
}

func UnmarshalAccountQuery(b []byte) (AccountQuery, error) {
	var q AccountQuery
	err := walkFields("account query", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return 0, nil
		}
		id, n, err := consumeID(entity.KindAccount, typ, b)
		q.Account = id
		return n, err
	})
	return q, err
}

// AccountBalance answers cryptoGetBalance.
type AccountBalance struct {
	Account entity.ID
	Balance uint64
}

func (a *AccountBalance) Marshal() []byte {
	var b []byte
	b = appendIDField(b, 1, a.Account)
	b = appendVarintField(b, 2, a.Balance)
	return b
}

func UnmarshalAccountBalance(b []byte) (AccountBalance, error) {
	var a AccountBalance
	err := walkFields("account balance", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			id, n, err := consumeID(entity.KindAccount, typ, b)
			a.Account = id
			return n, err
		case 2:
			v, n, err := consumeVarint(typ, b)
			a.Balance = v
			return n, err
		}
		return 0, nil
	})
	return a, err
}

// AccountInfo answers getAccountInfo.
type AccountInfo struct {
	Account   entity.ID
	Balance   uint64
	Memo      string
	Key       []byte
	KeyScheme SignatureScheme
	Deleted   bool
}

func (a *AccountInfo) Marshal() []byte {
	var b []byte
	b = appendIDField(b, 1, a.Account)
	b = appendVarintField(b, 2, a.Balance)
	b = appendBytesField(b, 3, []byte(a.Memo))
	b = appendBytesField(b, 4, a.Key)
	b = appendVarintField(b, 5, uint64(a.KeyScheme))
	b = appendVarintField(b, 6, protowire.EncodeBool(a.Deleted))
	return b
}

func UnmarshalAccountInfo(b []byte) (AccountInfo, error) {
	var a AccountInfo
	err := walkFields("account info", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			id, n, err := consumeID(entity.KindAccount, typ, b)
			a.Account = id
			return n, err
		case 2:
			v, n, err := consumeVarint(typ, b)
			a.Balance = v
			return n, err
		case 3:
			v, n, err := consumeBytes(typ, b)
			a.Memo = string(v)
			return n, err
		case 4:
			v, n, err := consumeBytes(typ, b)
			a.Key = v
			return n, err
		case 5:
			v, n, err := consumeVarint(typ, b)
			a.KeyScheme = SignatureScheme(v)
			return n, err
		case 6:
			v, n, err := consumeVarint(typ, b)
			a.Deleted = protowire.DecodeBool(v)
			return n, err
		}
		return 0, nil
	})
	return a, err
}
