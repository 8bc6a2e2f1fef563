package domain

import (
	"database/sql/driver"
	"encoding/json"

	"github.com/lib/pq"
	"github.com/pkg/errors"
)

// JSONBlob is a schema-less payload container backing evidence,
// rollback_data, github_response, and webhook payload/headers, per
// spec.md §9 ("structured payload container (schema-less blob)").
type JSONBlob map[string]any

// Value implements driver.Valuer for storage as Postgres jsonb.
func (b JSONBlob) Value() (driver.Value, error) {
	if b == nil {
		return nil, nil
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling JSONBlob")
	}
	return raw, nil
}

// Scan implements sql.Scanner.
func (b *JSONBlob) Scan(src any) error {
	if src == nil {
		*b = nil
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.Errorf("cannot scan %T into JSONBlob", src)
	}
	if len(raw) == 0 {
		*b = nil
		return nil
	}
	return json.Unmarshal(raw, b)
}

// StringList is a Postgres text[] column, e.g. Issue.Assignees and Labels.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	return pq.Array([]string(l)).Value()
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error {
	return pq.Array((*[]string)(l)).Scan(src)
}
