package ops

import (
	"strings"
	"unicode"

	"github.com/polyindex/polyindex/polyindex/model"
)

// DefaultDatabaseName is used when no database name is configured.
const DefaultDatabaseName = "bulbs"

// Naming derives index, generation and alias names for families.
type Naming struct {
	Prefix string
}

// NewNaming slugifies dbName into the index prefix.
func NewNaming(dbName string) Naming {
	prefix := Slugify(dbName)
	if prefix == "" {
		prefix = DefaultDatabaseName
	}
	return Naming{Prefix: prefix}
}

// Index is the family's stable name, which is also its alias.
func (n Naming) Index(t *model.Type) string {
	return n.Prefix + "_" + t.TableName()
}

// Generation is the concrete index name for suffix; an empty suffix yields the
// stable name.
func (n Naming) Generation(t *model.Type, suffix string) string {
	if suffix == "" {
		return n.Index(t)
	}
	return n.Index(t) + "_" + suffix
}

// Slugify lowercases s, drops characters other than letters, digits,
// underscores, hyphens and spaces, and turns runs of spaces or hyphens into a
// single hyphen.
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(r)
		case r == '-' || unicode.IsSpace(r):
			dash = true
		}
	}
	return b.String()
}
