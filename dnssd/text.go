package dnssd

import (
	"errors"
	"fmt"
)

// Text is a map that represents the key/value pairs in
// a service instance's TXT record.
//
// Keys are stored and compared exactly as given; no case folding is applied,
// so keys that differ only in case are distinct entries. The specification
// states that keys SHOULD be no
// longer than 9 characters. However since this is not a strict requirement, no
// such limit is enforced by this implementation.
//
// See https://tools.ietf.org/html/rfc6763#section-6.1
type Text struct {
	m map[string]string
}

// Get returns the first value that is associated with the key k.
func (t *Text) Get(k string) (string, bool) {
	if err := ValidateTextKey(k); err != nil {
		panic(err)
	}

	v, ok := t.m[k]
	return v, ok
}

// Set associates the value v with the key k.
// It is recommended that keys be no longer than 9 characters.
func (t *Text) Set(k string, v string) {
	if err := ValidateTextKey(k); err != nil {
		panic(err)
	}

	if err := ValidateTextValue(v); err != nil {
		panic(err)
	}

	if t.m == nil {
		t.m = map[string]string{k: v}
	} else {
		t.m[k] = v
	}
}

// SetBool associates an empty value with k if v is true; otherwise, it deletes
// the value associated with k, if any.
func (t *Text) SetBool(k string, v bool) {
	if v {
		t.Set(k, "")
	} else {
		t.Delete(k)
	}
}

// GetBool returns true if k is present in the map.
//
// This method is similar to Has(). It is included to better express intent when
// a key is used as a boolean value as per the recommendations in
// https://tools.ietf.org/html/rfc6763#section-6.4.
func (t *Text) GetBool(k string) bool {
	if err := ValidateTextKey(k); err != nil {
		panic(err)
	}

	_, ok := t.m[k]
	return ok
}

// Has returns true if all of the keys in k are present in the map.
func (t *Text) Has(k ...string) bool {
	for _, x := range k {
		if err := ValidateTextKey(x); err != nil {
			panic(err)
		}

		if _, ok := t.m[x]; !ok {
			return false
		}
	}

	return true
}

// Delete removes all of the given keys from the map.
func (t *Text) Delete(k ...string) {
	for _, x := range k {
		if err := ValidateTextKey(x); err != nil {
			panic(err)
		}

		delete(t.m, x)
	}
}

// Pairs returns the string representation of each key/value pair, as they appear
// in the TXT record.
func (t *Text) Pairs() []string {
	pairs := make([]string, 0, len(t.m))

	for k, v := range t.m {
		if v == "" {
			pairs = append(pairs, k)
		} else {
			pairs = append(pairs, k+"="+v)
		}
	}

	return pairs
}

// maxTextValueLen is the largest single TXT value this implementation will
// accept. It equals the 8900-octet TXT rdata ceiling (spec.md §3); the
// combined length of all pairs in a record is not checked here.
const maxTextValueLen = 8900

// ValidateTextKey returns an error if k is not a valid TXT record key.
//
// See https://tools.ietf.org/html/rfc6763#section-6.4: keys are printable
// US-ASCII (0x20-0x7e, space included), excluding '=' (which separates key
// from value).
func ValidateTextKey(k string) error {
	if k == "" {
		return errors.New("dnssd: text key must not be empty")
	}
	for i := 0; i < len(k); i++ {
		c := k[i]
		if c < 0x20 || c > 0x7e {
			return fmt.Errorf("dnssd: text key %q contains a non-printable character", k)
		}
		if c == '=' {
			return fmt.Errorf("dnssd: text key %q must not contain '='", k)
		}
	}
	return nil
}

// ValidateTextValue returns an error if v is not a valid TXT record value.
//
// See https://tools.ietf.org/html/rfc6763#section-6.5: values are an
// opaque byte sequence, but this implementation stores them as Go strings,
// so only the overall length bound is enforced.
func ValidateTextValue(v string) error {
	if len(v) > maxTextValueLen {
		return fmt.Errorf("dnssd: text value exceeds %d octets", maxTextValueLen)
	}
	return nil
}
