package security

import (
	"errors"

	"psila-go/internal/blockcipher"
)

const blockSize = blockcipher.BlockSize

// ErrHashInputTooLong reports input whose bit length does not fit the
// 16-bit MMO length field.
var ErrHashInputTooLong = errors.New("security: hash input too long")

// mmoBlock computes hash = E(hash, block) xor block.
func mmoBlock(bc blockcipher.BlockCipher, hash *[blockSize]byte, block []byte) error {
	if err := bc.SetKey(hash[:]); err != nil {
		return err
	}
	if err := bc.EncryptBlock(hash[:], block); err != nil {
		return err
	}
	for i := range hash {
		hash[i] ^= block[i]
	}
	return nil
}

// Hash is the Matyas-Meyer-Oseas hash over AES-128. Inputs must be shorter
// than 8192 bytes.
func Hash(bc blockcipher.BlockCipher, input []byte) ([blockSize]byte, error) {
	var hash, block [blockSize]byte
	if len(input) >= 1<<13 {
		return hash, ErrHashInputTooLong
	}
	j := 0
	for _, b := range input {
		block[j] = b
		j++
		if j == blockSize {
			if err := mmoBlock(bc, &hash, block[:]); err != nil {
				return hash, err
			}
			j = 0
		}
	}
	// A one bit, zero padding, then the bit length in the last two bytes.
	block[j] = 0x80
	j++
	for j != blockSize-2 {
		if j == blockSize {
			if err := mmoBlock(bc, &hash, block[:]); err != nil {
				return hash, err
			}
			j = 0
			continue
		}
		block[j] = 0
		j++
	}
	bits := uint16(len(input) * 8)
	block[j] = uint8(bits >> 8)
	block[j+1] = uint8(bits)
	if err := mmoBlock(bc, &hash, block[:]); err != nil {
		return hash, err
	}
	return hash, nil
}

// KeyedHash is the HMAC construction over the MMO hash with a single byte
// of input, used to derive transport and load keys.
func KeyedHash(bc blockcipher.BlockCipher, key Key, input uint8) (Key, error) {
	const (
		innerPad = 0x36
		outerPad = 0x5C
	)
	var inner [blockSize + 1]byte
	var outer [2 * blockSize]byte
	for i := range key {
		inner[i] = key[i] ^ innerPad
		outer[i] = key[i] ^ outerPad
	}
	inner[blockSize] = input
	h, err := Hash(bc, inner[:])
	if err != nil {
		return Key{}, err
	}
	copy(outer[blockSize:], h[:])
	h, err = Hash(bc, outer[:])
	if err != nil {
		return Key{}, err
	}
	return Key(h), nil
}
