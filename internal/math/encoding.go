package math

import (
	"database/sql/driver"
	"fmt"
)

// Fixed-point values travel as base-10 strings in JSON, YAML and SQL
// (NUMERIC columns) since they do not fit a float64 or int64.

func (a I128) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *I128) UnmarshalText(b []byte) error {
	v, err := ParseI128(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

func (a U128) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *U128) UnmarshalText(b []byte) error {
	v, err := ParseU128(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

func (a I128) Value() (driver.Value, error) {
	return a.String(), nil
}

func (a *I128) Scan(src interface{}) error {
	switch v := src.(type) {
	case int64:
		*a = NewI128(v)
		return nil
	case string:
		return a.UnmarshalText([]byte(v))
	case []byte:
		return a.UnmarshalText(v)
	default:
		return fmt.Errorf("scan i128: unsupported type %T", src)
	}
}

func (a U128) Value() (driver.Value, error) {
	return a.String(), nil
}

func (a *U128) Scan(src interface{}) error {
	switch v := src.(type) {
	case int64:
		u, err := Int64ToUint64(v)
		if err != nil {
			return err
		}
		*a = NewU128(u)
		return nil
	case string:
		return a.UnmarshalText([]byte(v))
	case []byte:
		return a.UnmarshalText(v)
	default:
		return fmt.Errorf("scan u128: unsupported type %T", src)
	}
}
