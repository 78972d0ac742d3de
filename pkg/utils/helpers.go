// Package utils provides small generic helpers and address encoding used
// throughout the application.
package utils

import (
	"encoding/hex"
	"strings"
)

// Map applies f to each element of l and returns the results in order.
// The callback receives the element and its index.
func Map[A any, B any](l []A, f func(A, uint64) B) []B {
	out := make([]B, len(l))
	for i, v := range l {
		out[i] = f(v, uint64(i))
	}
	return out
}

// Filter returns the elements of l for which f returns true.
func Filter[A any](l []A, f func(A) bool) []A {
	out := make([]A, 0)
	for _, v := range l {
		if f(v) {
			out = append(out, v)
		}
	}
	return out
}

// Find returns the first element matching f, or nil.
func Find[A any](l []*A, f func(*A) bool) *A {
	for _, v := range l {
		if f(v) {
			return v
		}
	}
	return nil
}

// ConvertBytesToString converts a byte array to a hexadecimal string with 0x prefix.
func ConvertBytesToString(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

// StripHexPrefix lowercases s and removes a leading 0x.
func StripHexPrefix(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimPrefix(s, "0x")
}
