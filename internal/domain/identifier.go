package domain

import (
	"strconv"
	"strings"
)

// Identifier is either a numeric row id or a natural key (kit hex, research name, user name).
// The boundary parses it once; managers only ever see resolved numeric ids.
type Identifier struct {
	id      int64
	key     string
	numeric bool
}

func NumericID(id int64) Identifier { return Identifier{id: id, numeric: true} }

func NaturalKey(key string) Identifier { return Identifier{key: key} }

// ParseIdentifier treats an all-digit string as a numeric id and anything else as a natural key
func ParseIdentifier(raw string) (Identifier, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identifier{}, InvalidInput("identifier is required")
	}
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if id <= 0 {
			return Identifier{}, InvalidInput("identifier %q must be positive", raw)
		}
		return NumericID(id), nil
	}
	return NaturalKey(raw), nil
}

func (i Identifier) IsNumeric() bool { return i.numeric }

func (i Identifier) ID() int64 { return i.id }

func (i Identifier) Key() string { return i.key }

func (i Identifier) String() string {
	if i.numeric {
		return strconv.FormatInt(i.id, 10)
	}
	return i.key
}
