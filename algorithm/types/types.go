// Package types 定义定价算法共享的基础类型。
package types

import (
	"strings"

	"github.com/wyfcoding/mcvol/xerrors"
)

// OptionType 定义期权类型。
type OptionType string

const (
	OptionTypeCall OptionType = "CALL"
	OptionTypePut  OptionType = "PUT"
)

// ParseOptionType 解析期权类型，接受 call/put/c/p（大小写不敏感）。
func ParseOptionType(s string) (OptionType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CALL", "C":
		return OptionTypeCall, nil
	case "PUT", "P":
		return OptionTypePut, nil
	default:
		return "", xerrors.ErrInvalidOptionType.WithDetail("unrecognized option type %q", s)
	}
}

// Valid 判断期权类型是否受支持。
func (t OptionType) Valid() bool {
	return t == OptionTypeCall || t == OptionTypePut
}

func (t OptionType) String() string {
	return strings.ToLower(string(t))
}
