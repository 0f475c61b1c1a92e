package entity

import "fmt"

// Kind tags what sort of resource an ID points at.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindAccount
	KindFile
	KindContract
	KindToken
	KindTopic
	KindSchedule
	KindNft
)

var kindNames = map[Kind]string{
	KindAccount:  "account",
	KindFile:     "file",
	KindContract: "contract",
	KindToken:    "token",
	KindTopic:    "topic",
	KindSchedule: "schedule",
	KindNft:      "nft",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind maps a lowercase kind name ("account", "token", ...) to a Kind.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("entity: unknown kind %q", s)
}
