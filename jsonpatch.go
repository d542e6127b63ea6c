package gridbase

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// PatchOp is one operation of the restricted JSON Patch vocabulary:
// add, remove, replace, move, copy, test. Paths are JSON Pointers with
// ~0 -> ~ and ~1 -> / unescaping; "-" is a valid array append token.
type PatchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	From  string `json:"from,omitempty"`
	Value any    `json:"value,omitempty"`
}

// ApplyPatch applies ops to doc and returns the resulting document plus the
// list of operations actually applied. Application is fail-at-first: the
// first failing operation stops the batch, operations applied before it are
// kept, and the error names the offending op. The input document is not
// mutated.
func ApplyPatch(doc any, ops []PatchOp) (any, []PatchOp, error) {
	current := deepCopyJSON(doc)
	applied := make([]PatchOp, 0, len(ops))
	for i, op := range ops {
		next, err := applyOne(current, op)
		if err != nil {
			return current, applied, NewBadRequestError(ErrCodePatchFailed,
				fmt.Sprintf("patch op %d (%s %s) failed", i, op.Op, op.Path)).WithCause(err)
		}
		current = next
		applied = append(applied, op)
	}
	return current, applied, nil
}

func applyOne(doc any, op PatchOp) (any, error) {
	path, err := parsePointer(op.Path)
	if err != nil {
		return nil, err
	}
	switch op.Op {
	case "add":
		return addAt(doc, path, deepCopyJSON(op.Value))
	case "remove":
		doc, _, err = removeAt(doc, path)
		return doc, err
	case "replace":
		return replaceAt(doc, path, deepCopyJSON(op.Value))
	case "move":
		from, err := parsePointer(op.From)
		if err != nil {
			return nil, err
		}
		// work on a copy so a failing add leaves the document untouched
		working, moved, err := removeAt(deepCopyJSON(doc), from)
		if err != nil {
			return nil, err
		}
		return addAt(working, path, moved)
	case "copy":
		from, err := parsePointer(op.From)
		if err != nil {
			return nil, err
		}
		val, err := getAt(doc, from)
		if err != nil {
			return nil, err
		}
		return addAt(doc, path, deepCopyJSON(val))
	case "test":
		val, err := getAt(doc, path)
		if err != nil {
			return nil, err
		}
		if !jsonEqual(val, op.Value) {
			return nil, fmt.Errorf("test failed at %s", op.Path)
		}
		return doc, nil
	default:
		return nil, fmt.Errorf("unsupported patch op '%s'", op.Op)
	}
}

// parsePointer splits a JSON Pointer into unescaped tokens.
func parsePointer(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("invalid JSON pointer '%s'", path)
	}
	raw := strings.Split(path[1:], "/")
	tokens := make([]string, len(raw))
	for i, t := range raw {
		t = strings.ReplaceAll(t, "~1", "/")
		t = strings.ReplaceAll(t, "~0", "~")
		tokens[i] = t
	}
	return tokens, nil
}

func getAt(doc any, path []string) (any, error) {
	current := doc
	for _, token := range path {
		switch node := current.(type) {
		case map[string]any:
			val, ok := node[token]
			if !ok {
				return nil, fmt.Errorf("key '%s' not found", token)
			}
			current = val
		case []any:
			idx, err := arrayIndex(token, len(node), false)
			if err != nil {
				return nil, err
			}
			current = node[idx]
		default:
			return nil, fmt.Errorf("cannot descend into %T at '%s'", current, token)
		}
	}
	return current, nil
}

func arrayIndex(token string, length int, allowAppend bool) (int, error) {
	if token == "-" {
		if !allowAppend {
			return 0, fmt.Errorf("'-' not valid here")
		}
		return length, nil
	}
	idx, err := strconv.Atoi(token)
	if err != nil {
		return 0, fmt.Errorf("invalid array index '%s'", token)
	}
	limit := length
	if allowAppend {
		limit = length + 1
	}
	if idx < 0 || idx >= limit {
		return 0, fmt.Errorf("array index %d out of bounds (len %d)", idx, length)
	}
	return idx, nil
}

// addAt inserts value at path: into an array a numeric index inserts at that
// position ("-" appends); into an object it creates or replaces the key.
func addAt(doc any, path []string, value any) (any, error) {
	if len(path) == 0 {
		return value, nil
	}
	return mutateAt(doc, path[:len(path)-1], func(parent any) (any, error) {
		token := path[len(path)-1]
		switch node := parent.(type) {
		case map[string]any:
			node[token] = value
			return node, nil
		case []any:
			idx, err := arrayIndex(token, len(node), true)
			if err != nil {
				return nil, err
			}
			node = append(node, nil)
			copy(node[idx+1:], node[idx:])
			node[idx] = value
			return node, nil
		default:
			return nil, fmt.Errorf("cannot add into %T", parent)
		}
	})
}

func removeAt(doc any, path []string) (any, any, error) {
	if len(path) == 0 {
		return nil, doc, nil
	}
	var removed any
	out, err := mutateAt(doc, path[:len(path)-1], func(parent any) (any, error) {
		token := path[len(path)-1]
		switch node := parent.(type) {
		case map[string]any:
			val, ok := node[token]
			if !ok {
				return nil, fmt.Errorf("key '%s' not found", token)
			}
			removed = val
			delete(node, token)
			return node, nil
		case []any:
			idx, err := arrayIndex(token, len(node), false)
			if err != nil {
				return nil, err
			}
			removed = node[idx]
			return append(node[:idx], node[idx+1:]...), nil
		default:
			return nil, fmt.Errorf("cannot remove from %T", parent)
		}
	})
	return out, removed, err
}

// replaceAt requires the path to exist.
func replaceAt(doc any, path []string, value any) (any, error) {
	if len(path) == 0 {
		return value, nil
	}
	if _, err := getAt(doc, path); err != nil {
		return nil, err
	}
	return mutateAt(doc, path[:len(path)-1], func(parent any) (any, error) {
		token := path[len(path)-1]
		switch node := parent.(type) {
		case map[string]any:
			node[token] = value
			return node, nil
		case []any:
			idx, err := arrayIndex(token, len(node), false)
			if err != nil {
				return nil, err
			}
			node[idx] = value
			return node, nil
		default:
			return nil, fmt.Errorf("cannot replace in %T", parent)
		}
	})
}

// mutateAt walks to the parent at path and applies fn to it, rebuilding the
// spine so array re-slicing propagates upward.
func mutateAt(doc any, path []string, fn func(parent any) (any, error)) (any, error) {
	if len(path) == 0 {
		return fn(doc)
	}
	token := path[0]
	switch node := doc.(type) {
	case map[string]any:
		child, ok := node[token]
		if !ok {
			return nil, fmt.Errorf("key '%s' not found", token)
		}
		updated, err := mutateAt(child, path[1:], fn)
		if err != nil {
			return nil, err
		}
		node[token] = updated
		return node, nil
	case []any:
		idx, err := arrayIndex(token, len(node), false)
		if err != nil {
			return nil, err
		}
		updated, err := mutateAt(node[idx], path[1:], fn)
		if err != nil {
			return nil, err
		}
		node[idx] = updated
		return node, nil
	default:
		return nil, fmt.Errorf("cannot descend into %T at '%s'", doc, token)
	}
}

// jsonEqual deep-compares two values after JSON normalization, so that
// e.g. int(5) and float64(5) from a decoded document compare equal.
func jsonEqual(a, b any) bool {
	return reflect.DeepEqual(deepCopyJSON(a), deepCopyJSON(b))
}

func deepCopyJSON(v any) any {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

// Diff produces a pragmatic structural diff from a to b: add for new keys,
// remove for missing keys, replace for differing primitives. Arrays diff as
// whole-array replace, never element-wise; the result is not a minimal edit
// script.
func Diff(a, b any) []PatchOp {
	ops := diffValue("", deepCopyJSON(a), deepCopyJSON(b))
	if ops == nil {
		return []PatchOp{}
	}
	return ops
}

func diffValue(path string, a, b any) []PatchOp {
	am, aIsMap := a.(map[string]any)
	bm, bIsMap := b.(map[string]any)
	if aIsMap && bIsMap {
		return diffObject(path, am, bm)
	}
	if jsonEqual(a, b) {
		return nil
	}
	return []PatchOp{{Op: "replace", Path: path, Value: b}}
}

func diffObject(path string, a, b map[string]any) []PatchOp {
	var ops []PatchOp
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		childPath := path + "/" + escapePointerToken(k)
		if bv, ok := b[k]; ok {
			ops = append(ops, diffValue(childPath, a[k], bv)...)
		} else {
			ops = append(ops, PatchOp{Op: "remove", Path: childPath})
		}
	}
	newKeys := make([]string, 0)
	for k := range b {
		if _, ok := a[k]; !ok {
			newKeys = append(newKeys, k)
		}
	}
	sort.Strings(newKeys)
	for _, k := range newKeys {
		ops = append(ops, PatchOp{Op: "add", Path: path + "/" + escapePointerToken(k), Value: b[k]})
	}
	return ops
}

func escapePointerToken(token string) string {
	token = strings.ReplaceAll(token, "~", "~0")
	return strings.ReplaceAll(token, "/", "~1")
}

