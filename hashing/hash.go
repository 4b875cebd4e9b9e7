package hashing

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/valyala/bytebufferpool"
)

// ErrSerialization is returned when an argument has no deterministic string form.
var ErrSerialization = errors.New("value has no deterministic serialization")

// CanonicalHash returns the lowercase hex SHA-256 of args. Each argument is serialized to
// canonical JSON on its own, the results are sorted and joined without a separator, so the
// hash does not depend on the order the arguments are passed in.
func CanonicalHash(args ...interface{}) (string, error) {
	parts := make([]string, 0, len(args))
	for i, arg := range args {
		s, err := Canonical(arg)
		if err != nil {
			return "", errors.Wrapf(err, "argument %d", i)
		}
		parts = append(parts, s)
	}
	sort.Strings(parts)

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	for _, p := range parts {
		_, _ = buf.WriteString(p)
	}

	sum := sha256.Sum256(buf.B)
	return hex.EncodeToString(sum[:]), nil
}

// MustCanonicalHash is like CanonicalHash but panics on error.
func MustCanonicalHash(args ...interface{}) string {
	h, err := CanonicalHash(args...)
	if err != nil {
		panic(err)
	}
	return h
}

// Canonical serializes v to JSON with sorted object keys, numbers kept exactly as written
// and no HTML escaping. Equal values always produce identical strings. Invalid UTF-8 is an
// ErrSerialization so that distinct byte strings never share a canonical form.
func Canonical(v interface{}) (string, error) {
	// the encoder would replace invalid bytes in a string with U+FFFD
	if str, ok := v.(string); ok && !utf8.ValidString(str) {
		return "", errors.Mark(errors.New("string is not valid UTF-8"), ErrSerialization)
	}

	raw, err := encode(v)
	if err != nil {
		return "", err
	}
	// raw JSON values pass through the encoder untouched, so the decoder would be the one replacing
	if !utf8.Valid(raw) {
		return "", errors.Mark(errors.Newf("%T is not valid UTF-8", v), ErrSerialization)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return "", errors.Mark(errors.Wrap(err, "decode"), ErrSerialization)
	}

	out, err := encode(generic)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func encode(v interface{}) ([]byte, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "encode %T", v), ErrSerialization)
	}

	// Encode appends a newline; the buffer goes back to the pool so copy out.
	b := bytes.TrimSuffix(buf.B, []byte("\n"))
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}
