// Package canonical provides the deterministic serialization and hashing used
// to derive every identifier in the system. Two logically identical values
// must always produce the same bytes, independent of map iteration order.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
)

// Marshal serializes maps and slices as canonical JSON: keys sorted
// lexicographically, no insignificant whitespace, UTF-8 preserved (no HTML
// escaping). Scalars serialize to their plain text form so that hashing a raw
// string payload hashes the string itself, not its JSON quoting.
func Marshal(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return []byte("null"), nil
	case string:
		return []byte(val), nil
	case bool:
		if val {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case int:
		return []byte(strconv.Itoa(val)), nil
	case int64:
		return []byte(strconv.FormatInt(val, 10)), nil
	case float64:
		return []byte(strconv.FormatFloat(val, 'g', -1, 64)), nil
	default:
		return marshalJSON(v)
	}
}

func marshalJSON(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("canonical marshal: %w", err)
	}
	// Encode appends a trailing newline; the canonical form has none.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// MarshalJSON always produces canonical JSON, including for scalar inputs.
// Ledger entries use this form so the on-disk line and the hashed form agree.
func MarshalJSON(v interface{}) ([]byte, error) {
	return marshalJSON(v)
}

// Digest returns the SHA-256 digest of data.
func Digest(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// SHA256Hex returns the lowercase hex SHA-256 of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashPayload canonicalizes v and returns "sha256:<hex>". The result is
// reproducible for identical logical content on any platform.
func HashPayload(v interface{}) string {
	data, err := Marshal(v)
	if err != nil {
		// Marshal only fails on unserializable values (channels, funcs);
		// fall back to the fmt rendering so callers still get a stable id.
		data = []byte(fmt.Sprintf("%v", v))
	}
	return "sha256:" + SHA256Hex(data)
}
