package utils

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Helpers(t *testing.T) {
	t.Run("Map passes index", func(t *testing.T) {
		out := Map([]string{"a", "b"}, func(s string, i uint64) string {
			return s + string(rune('0'+i))
		})
		assert.Equal(t, []string{"a0", "b1"}, out)
	})
	t.Run("Filter", func(t *testing.T) {
		assert.Equal(t, []int{2, 4}, Filter([]int{1, 2, 3, 4}, func(i int) bool { return i%2 == 0 }))
	})
	t.Run("Find", func(t *testing.T) {
		a, b := 1, 2
		assert.Equal(t, &b, Find([]*int{&a, &b}, func(i *int) bool { return *i == 2 }))
		assert.Nil(t, Find([]*int{&a}, func(i *int) bool { return *i == 3 }))
	})
	t.Run("StripHexPrefix", func(t *testing.T) {
		assert.Equal(t, "abcd", StripHexPrefix(" 0xABCD"))
	})
}

func Test_SS58(t *testing.T) {
	alice, _ := hex.DecodeString("d43593c715fdd31c61141abd04a99fd6822c8558854ccde39a5684e7a56da27d")

	t.Run("Encodes the generic substrate prefix", func(t *testing.T) {
		addr, err := EncodeSS58(alice, 42)
		assert.Nil(t, err)
		assert.Equal(t, "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY", addr)
	})
	t.Run("Encodes the polkadot prefix", func(t *testing.T) {
		addr, err := EncodeSS58(alice, 0)
		assert.Nil(t, err)
		assert.Equal(t, "15oF4uVJwmo4TdGW7VfQxNLavjCXviqxT9S1MgbjMNHr6Sp5", addr)
	})
	t.Run("Round trips two byte prefixes", func(t *testing.T) {
		addr, err := EncodeSS58(alice, 1284)
		assert.Nil(t, err)

		id, prefix, err := DecodeSS58(addr)
		assert.Nil(t, err)
		assert.Equal(t, uint16(1284), prefix)
		assert.Equal(t, alice, id)
	})
	t.Run("Rejects short account ids", func(t *testing.T) {
		_, err := EncodeSS58(alice[:20], 42)
		assert.Error(t, err)
	})
}
