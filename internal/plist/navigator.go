// Package plist implements the colon-path navigator described in
// Design Note §9: a small parser-evaluator over a sum-typed plist
// value tree, backed by howett.net/plist for the actual binary/XML
// decoding. List items are addressed by a zero-based integer segment;
// every error is positional.
package plist

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	applist "howett.net/plist"
)

// Kind tags the dynamic type of a Value.
type Kind int

const (
	KindDict Kind = iota
	KindArray
	KindString
	KindInteger
	KindBool
	KindData
	KindDate
)

// Value is a leaf or interior node of a decoded plist document. It
// wraps the interface{} tree howett.net/plist produces so the rest of
// the codebase never touches an untyped assertion directly.
type Value struct {
	kind Kind
	raw  interface{}
}

// Error reports a colon-path navigation failure at a specific segment.
type Error struct {
	Path    string
	Segment string
	Index   int
	Reason  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("plist: field %q: segment %q (index %d): %s", e.Path, e.Segment, e.Index, e.Reason)
}

// Wrap classifies a raw decoded value (as produced by plist.Unmarshal
// into an interface{}) into a typed Value.
func Wrap(raw interface{}) Value {
	switch v := raw.(type) {
	case map[string]interface{}:
		return Value{kind: KindDict, raw: v}
	case []interface{}:
		return Value{kind: KindArray, raw: v}
	case string:
		return Value{kind: KindString, raw: v}
	case bool:
		return Value{kind: KindBool, raw: v}
	case []byte:
		return Value{kind: KindData, raw: v}
	case int, int64, uint64, float64:
		return Value{kind: KindInteger, raw: v}
	default:
		// howett.net/plist also hands back time.Time for <date> and
		// plist.UID for keyed-archiver references; both are rare on
		// the documents this package navigates (device metadata,
		// device-type profiles) so they fall through to a generic
		// leaf carrying the raw value, still inspectable via Raw().
		return Value{kind: KindDate, raw: v}
	}
}

func (v Value) Kind() Kind         { return v.kind }
func (v Value) Raw() interface{}   { return v.raw }
func (v Value) String() (string, bool) {
	s, ok := v.raw.(string)
	return s, ok
}
func (v Value) Bool() (bool, bool) {
	b, ok := v.raw.(bool)
	return b, ok
}
func (v Value) Int() (int64, bool) {
	switch n := v.raw.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
func (v Value) Dict() (map[string]interface{}, bool) {
	d, ok := v.raw.(map[string]interface{})
	return d, ok
}
func (v Value) Array() ([]interface{}, bool) {
	a, ok := v.raw.([]interface{})
	return a, ok
}

// Decode reads and unmarshals a plist document (binary, XML, or
// OpenStep — howett.net/plist auto-detects the format) from path.
func Decode(path string) (Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Value{}, fmt.Errorf("plist: reading %s: %w", path, err)
	}
	var root interface{}
	if _, err := applist.Unmarshal(data, &root); err != nil {
		return Value{}, fmt.Errorf("plist: unmarshaling %s: %w", path, err)
	}
	return Wrap(root), nil
}

// Navigate resolves a colon-separated path (e.g.
// "CFBundleDocumentTypes:2:CFBundleTypeExtensions") against root,
// returning the typed leaf or an *Error positioned at the first
// segment that could not be resolved. An empty path returns root
// itself, matching the zero-field convention of the grammar this is
// based on.
func Navigate(root Value, path string) (Value, error) {
	if path == "" {
		return root, nil
	}
	current := root
	for i, seg := range strings.Split(path, ":") {
		next, err := step(current, seg)
		if err != nil {
			return Value{}, &Error{Path: path, Segment: seg, Index: i, Reason: err.Error()}
		}
		current = next
	}
	return current, nil
}

// Set replaces the leaf at path with value. The tree is updated in
// place (no copy is made) and root is returned for chaining.
func Set(root Value, path string, value interface{}) (Value, error) {
	parentPath, key := splitLast(path)
	parent := root
	if parentPath != "" {
		var err error
		parent, err = Navigate(root, parentPath)
		if err != nil {
			return Value{}, err
		}
	}
	if err := assign(parent, key, value); err != nil {
		return Value{}, &Error{Path: path, Segment: key, Index: strings.Count(path, ":"), Reason: err.Error()}
	}
	return root, nil
}

// Delete removes the leaf at path. Deleting an array element shifts
// subsequent elements down, mirroring plistlib's `del obj[i]`; since a
// Go slice cannot shrink in place, the shortened array is written back
// into whichever container (dict key or array index) held it, so the
// caller's root is fully updated.
func Delete(root Value, path string) error {
	parentPath, key := splitLast(path)
	parent := root
	if parentPath != "" {
		var err error
		parent, err = Navigate(root, parentPath)
		if err != nil {
			return err
		}
	}
	if parent.kind != KindArray {
		if err := remove(parent, key); err != nil {
			return &Error{Path: path, Segment: key, Index: strings.Count(path, ":"), Reason: err.Error()}
		}
		return nil
	}

	a, _ := parent.Array()
	idx, err := strconv.Atoi(key)
	if err != nil || idx < 0 || idx >= len(a) {
		return &Error{Path: path, Segment: key, Index: strings.Count(path, ":"), Reason: "array index out of range"}
	}
	shrunk := append(append([]interface{}{}, a[:idx]...), a[idx+1:]...)

	grandparentPath, parentKey := splitLast(parentPath)
	grandparent := root
	if grandparentPath != "" {
		grandparent, err = Navigate(root, grandparentPath)
		if err != nil {
			return err
		}
	}
	if err := assign(grandparent, parentKey, shrunk); err != nil {
		return &Error{Path: path, Segment: parentKey, Index: strings.Count(parentPath, ":"), Reason: err.Error()}
	}
	return nil
}

func splitLast(path string) (parent, key string) {
	idx := strings.LastIndex(path, ":")
	if idx < 0 {
		return "", path
	}
	return path[:idx], path[idx+1:]
}

func step(v Value, seg string) (Value, error) {
	switch v.kind {
	case KindDict:
		d, _ := v.Dict()
		child, ok := d[seg]
		if !ok {
			return Value{}, fmt.Errorf("key not found in dict")
		}
		return Wrap(child), nil
	case KindArray:
		a, _ := v.Array()
		idx, err := strconv.Atoi(seg)
		if err != nil {
			return Value{}, fmt.Errorf("non-integer index into array")
		}
		if idx < 0 || idx >= len(a) {
			return Value{}, fmt.Errorf("array index out of range")
		}
		return Wrap(a[idx]), nil
	default:
		return Value{}, fmt.Errorf("cannot descend into a leaf value")
	}
}

func assign(v Value, key string, value interface{}) error {
	switch v.kind {
	case KindDict:
		d, _ := v.Dict()
		d[key] = value
		return nil
	case KindArray:
		a, _ := v.Array()
		idx, err := strconv.Atoi(key)
		if err != nil {
			return fmt.Errorf("non-integer index into array")
		}
		if idx < 0 || idx >= len(a) {
			return fmt.Errorf("array index out of range")
		}
		a[idx] = value
		return nil
	default:
		return fmt.Errorf("cannot assign into a leaf value")
	}
}

// remove deletes key from a dict container in place. Array element
// deletion is handled directly in Delete, since shrinking a slice
// requires rewriting the slot that holds it.
func remove(v Value, key string) error {
	switch v.kind {
	case KindDict:
		d, _ := v.Dict()
		if _, ok := d[key]; !ok {
			return fmt.Errorf("key not found in dict")
		}
		delete(d, key)
		return nil
	default:
		return fmt.Errorf("cannot delete from a leaf value")
	}
}
