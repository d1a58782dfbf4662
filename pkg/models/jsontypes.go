package models

import (
	"database/sql/driver"
	"fmt"

	"github.com/goccy/go-json"
)

// Column types that persist as JSON text. A NULL or empty column scans to nil,
// and nil values are written as NULL.
type (
	JSONStringArray []string
	JSONStringMap   map[string]string
	JSONFloatMap    map[string]float64
)

func (j *JSONStringArray) Scan(src any) error { return scanJSON(j, src) }
func (j *JSONStringMap) Scan(src any) error   { return scanJSON(j, src) }
func (j *JSONFloatMap) Scan(src any) error    { return scanJSON(j, src) }

func (j JSONStringArray) Value() (driver.Value, error) { return jsonValue(j, j == nil) }
func (j JSONStringMap) Value() (driver.Value, error)   { return jsonValue(j, j == nil) }
func (j JSONFloatMap) Value() (driver.Value, error)    { return jsonValue(j, j == nil) }

func scanJSON[T any](dst *T, src any) error {
	var zero T
	var raw []byte
	switch v := src.(type) {
	case nil:
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("scan %T into %T: want text or bytes", src, dst)
	}
	if len(raw) == 0 {
		*dst = zero
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func jsonValue(v any, isNil bool) (driver.Value, error) {
	if isNil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
