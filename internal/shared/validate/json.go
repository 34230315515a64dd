// Package validate bounds user-supplied JSON before it reaches the data
// layer.
package validate

import (
	"errors"
	"fmt"
)

const (
	MaxJSONSize  = 1 * 1024 * 1024 // 1MB
	MaxJSONDepth = 32
)

var (
	ErrTooLarge = errors.New("json too large")
	ErrTooDeep  = errors.New("json nested too deeply")
)

// Size checks data against max bytes.
func Size(data []byte, max int) error {
	if len(data) > max {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, len(data), max)
	}
	return nil
}

// Depth checks the nesting of a decoded JSON value.
func Depth(v any, max int) error {
	return checkDepth(v, 0, max)
}

func checkDepth(data any, depth, max int) error {
	if depth > max {
		return fmt.Errorf("%w: depth exceeds %d", ErrTooDeep, max)
	}
	switch v := data.(type) {
	case map[string]any:
		for _, value := range v {
			if err := checkDepth(value, depth+1, max); err != nil {
				return err
			}
		}
	case []any:
		for _, value := range v {
			if err := checkDepth(value, depth+1, max); err != nil {
				return err
			}
		}
	}
	return nil
}

// Entries checks the size and depth of data layer entries decoded from raw.
func Entries(raw []byte, entries []map[string]any) error {
	if err := Size(raw, MaxJSONSize); err != nil {
		return err
	}
	for _, e := range entries {
		if err := Depth(e, MaxJSONDepth); err != nil {
			return err
		}
	}
	return nil
}
