package stats

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrUnknownStat is returned when a snapshot is built with a key outside the documented set.
	ErrUnknownStat = errors.New("stats: unknown stat key")
	// ErrStatKind is returned when a value does not match the kind of its key.
	ErrStatKind = errors.New("stats: value kind mismatch")
	// ErrMissingStat matches *MissingStatError.
	ErrMissingStat = errors.New("stats: stat missing from snapshot")
)

// MissingStatError reports a read of a stat the provider did not supply.
type MissingStatError struct {
	Key Key
}

func (e *MissingStatError) Error() string {
	return fmt.Sprintf("stats: %q missing from snapshot", e.Key)
}

func (e *MissingStatError) Is(target error) bool {
	return target == ErrMissingStat
}

// Value is a single stat value.
type Value struct {
	kind Kind
	num  float64
	b    bool
}

// Number returns a numeric value.
func Number(v float64) Value { return Value{kind: KindNumber, num: v} }

// Bool returns a boolean value.
func Bool(v bool) Value { return Value{kind: KindBool, b: v} }

// Kind reports the value kind.
func (v Value) Kind() Kind { return v.kind }

// Interface returns the value as float64 or bool.
func (v Value) Interface() any {
	if v.kind == KindBool {
		return v.b
	}
	return v.num
}

// Snapshot is an immutable view of a customer's statistics at one point in time.
// The zero value is an empty snapshot.
type Snapshot struct {
	values map[Key]Value
}

// NewSnapshot validates values against the documented key set.
// Accepted Go types are bool, float32/64 and the signed/unsigned integer types.
func NewSnapshot(values map[Key]any) (Snapshot, error) {
	out := make(map[Key]Value, len(values))
	for k, raw := range values {
		def, ok := Lookup(k)
		if !ok {
			return Snapshot{}, fmt.Errorf("%w: %q", ErrUnknownStat, k)
		}
		v, err := toValue(raw)
		if err != nil {
			return Snapshot{}, fmt.Errorf("stat %q: %w", k, err)
		}
		if v.kind != def.Kind {
			return Snapshot{}, fmt.Errorf("%w: %q is %s, got %s", ErrStatKind, k, def.Kind, v.kind)
		}
		out[k] = v
	}
	return Snapshot{values: out}, nil
}

// MustSnapshot is NewSnapshot that panics on error. Intended for tests and fixtures.
func MustSnapshot(values map[Key]any) Snapshot {
	s, err := NewSnapshot(values)
	if err != nil {
		panic(err)
	}
	return s
}

func toValue(raw any) (Value, error) {
	switch v := raw.(type) {
	case Value:
		return v, nil
	case bool:
		return Bool(v), nil
	case float64:
		return Number(v), nil
	case float32:
		return Number(float64(v)), nil
	case int:
		return Number(float64(v)), nil
	case int8:
		return Number(float64(v)), nil
	case int16:
		return Number(float64(v)), nil
	case int32:
		return Number(float64(v)), nil
	case int64:
		return Number(float64(v)), nil
	case uint:
		return Number(float64(v)), nil
	case uint8:
		return Number(float64(v)), nil
	case uint16:
		return Number(float64(v)), nil
	case uint32:
		return Number(float64(v)), nil
	case uint64:
		return Number(float64(v)), nil
	default:
		return Value{}, fmt.Errorf("%w: unsupported type %T", ErrStatKind, raw)
	}
}

// Has reports whether k is present.
func (s Snapshot) Has(k Key) bool {
	_, ok := s.values[k]
	return ok
}

// Get returns the raw value for k.
func (s Snapshot) Get(k Key) (Value, error) {
	v, ok := s.values[k]
	if !ok {
		return Value{}, &MissingStatError{Key: k}
	}
	return v, nil
}

// Number returns the numeric value for k.
func (s Snapshot) Number(k Key) (float64, error) {
	v, err := s.Get(k)
	if err != nil {
		return 0, err
	}
	if v.kind != KindNumber {
		return 0, fmt.Errorf("%w: %q is not a number", ErrStatKind, k)
	}
	return v.num, nil
}

// Bool returns the boolean value for k.
func (s Snapshot) Bool(k Key) (bool, error) {
	v, err := s.Get(k)
	if err != nil {
		return false, err
	}
	if v.kind != KindBool {
		return false, fmt.Errorf("%w: %q is not a bool", ErrStatKind, k)
	}
	return v.b, nil
}

// Len returns the number of stats present.
func (s Snapshot) Len() int { return len(s.values) }

// Keys returns the present keys, sorted.
func (s Snapshot) Keys() []Key {
	out := make([]Key, 0, len(s.values))
	for k := range s.values {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Activation returns a fresh map suitable as an expression activation.
// Mutating the result does not affect the snapshot.
func (s Snapshot) Activation() map[string]any {
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[string(k)] = v.Interface()
	}
	return out
}

// With returns a copy of s with k set to v. The receiver is unchanged.
func (s Snapshot) With(k Key, v any) (Snapshot, error) {
	merged := make(map[Key]any, len(s.values)+1)
	for key, val := range s.values {
		merged[key] = val
	}
	merged[k] = v
	return NewSnapshot(merged)
}
