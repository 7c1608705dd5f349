// Package canonhash hashes JSON-encodable values in a canonical form: object
// keys sorted, numbers kept verbatim, no insignificant whitespace.
package canonhash

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

const Prefix = "sha256:"

// Canonical returns the canonical JSON bytes for v. A struct and a map with
// the same fields produce identical output.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

func SumObject(v any) (string, []byte, error) {
	b, err := Canonical(v)
	if err != nil {
		return "", nil, err
	}
	sum := sha256.Sum256(b)
	return Prefix + hex.EncodeToString(sum[:]), b, nil
}
