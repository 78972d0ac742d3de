package utils

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcutil/base58"
	"golang.org/x/crypto/blake2b"
)

var ss58Preimage = []byte("SS58PRE")

func ss58PrefixBytes(prefix uint16) ([]byte, error) {
	switch {
	case prefix < 64:
		return []byte{byte(prefix)}, nil
	case prefix < 16384:
		first := byte((prefix&0x00fc)>>2) | 0x40
		second := byte(prefix>>8) | byte((prefix&0x0003)<<6)
		return []byte{first, second}, nil
	default:
		return nil, fmt.Errorf("ss58 prefix %d out of range", prefix)
	}
}

func ss58Checksum(data []byte) []byte {
	h := blake2b.Sum512(append(append([]byte{}, ss58Preimage...), data...))
	return h[:2]
}

// EncodeSS58 renders a 32-byte account id as an SS58 address for the given network prefix.
func EncodeSS58(accountId []byte, prefix uint16) (string, error) {
	if len(accountId) != 32 {
		return "", fmt.Errorf("account id must be 32 bytes, got %d", len(accountId))
	}
	prefixBytes, err := ss58PrefixBytes(prefix)
	if err != nil {
		return "", err
	}
	payload := append(prefixBytes, accountId...)
	return base58.Encode(append(payload, ss58Checksum(payload)...)), nil
}

// DecodeSS58 returns the account id and network prefix encoded in address.
func DecodeSS58(address string) ([]byte, uint16, error) {
	raw := base58.Decode(address)
	if len(raw) == 0 {
		return nil, 0, errors.New("invalid base58 string")
	}

	var prefix uint16
	prefixLen := 1
	if raw[0]&0x40 != 0 {
		if len(raw) < 2 {
			return nil, 0, errors.New("address too short")
		}
		prefixLen = 2
		lower := uint16(raw[0]&0x3f)<<2 | uint16(raw[1]>>6)
		upper := uint16(raw[1] & 0x3f)
		prefix = lower | upper<<8
	} else {
		prefix = uint16(raw[0])
	}

	if len(raw) != prefixLen+32+2 {
		return nil, 0, fmt.Errorf("unexpected address length %d", len(raw))
	}
	payload := raw[:prefixLen+32]
	checksum := raw[prefixLen+32:]
	expected := ss58Checksum(payload)
	if checksum[0] != expected[0] || checksum[1] != expected[1] {
		return nil, 0, errors.New("invalid ss58 checksum")
	}
	return payload[prefixLen:], prefix, nil
}
