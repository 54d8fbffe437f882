// Package tagpatch applies top-level patches to the canonical JSON tag bag
// every entity carries. A patch value of nil removes the key; any other
// value replaces it atomically (no recursion into nested objects or
// arrays) — the merge depth is exactly one level.
package tagpatch

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Patch applies patch to tagsJSON key by key and returns the resulting
// canonical JSON object. Keys are applied in sorted order so the result is
// deterministic regardless of map iteration order.
func Patch(tagsJSON string, patch map[string]any) (string, error) {
	if tagsJSON == "" {
		tagsJSON = "{}"
	}
	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := tagsJSON
	for _, k := range keys {
		v := patch[k]
		var err error
		if v == nil {
			out, err = RemoveKey(out, k)
		} else {
			out, err = SetKey(out, k, v)
		}
		if err != nil {
			return "", fmt.Errorf("patching key %q: %w", k, err)
		}
	}
	return out, nil
}

// SetKey replaces a single top-level key atomically: the value is
// marshaled to JSON and written with SetRaw, never merged into any
// existing value at that key.
func SetKey(tagsJSON, key string, value any) (string, error) {
	if tagsJSON == "" {
		tagsJSON = "{}"
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("marshaling value for key %q: %w", key, err)
	}
	out, err := sjson.SetRaw(tagsJSON, key, string(raw))
	if err != nil {
		return "", fmt.Errorf("setting key %q: %w", key, err)
	}
	return out, nil
}

// RemoveKey deletes a single top-level key. Removing an absent key is a
// no-op that still returns tagsJSON unchanged.
func RemoveKey(tagsJSON, key string) (string, error) {
	if tagsJSON == "" {
		tagsJSON = "{}"
	}
	out, err := sjson.Delete(tagsJSON, key)
	if err != nil {
		return "", fmt.Errorf("removing key %q: %w", key, err)
	}
	return out, nil
}

// GetKey reads one top-level key as raw JSON text, reporting false if the
// key is absent. Used by callers that need to inspect a tag before
// deciding whether to patch it (e.g. the boost-expiry annotator checking
// boost:expires before recomputing it).
func GetKey(tagsJSON, key string) (string, bool) {
	result := gjson.Get(tagsJSON, key)
	if !result.Exists() {
		return "", false
	}
	return result.Raw, true
}
