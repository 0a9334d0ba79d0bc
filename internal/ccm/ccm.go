// Package ccm implements the CCM* authenticated encryption mode used by
// IEEE 802.15.4 and Zigbee security: CBC-MAC for authentication and CTR
// for confidentiality, with a two-byte length field and an optional
// (possibly zero-length) MIC.
//
// All lengths inside the construction are big-endian.
package ccm

import (
	"crypto/subtle"
	"encoding/binary"
	"errors"

	"psila-go/internal/blockcipher"
)

const (
	// NonceSize is the CCM* nonce length (15 - L with L = 2).
	NonceSize = 13

	lenSize   = 2
	blockSize = blockcipher.BlockSize

	// MaxMessageSize is the largest message encodable in the length field.
	MaxMessageSize = 1<<(8*lenSize) - 1
	// MaxAADSize keeps the AAD length within the two-byte encoding.
	MaxAADSize = 1<<16 - 1<<8 - 1
)

var (
	ErrInvalidNonce         = errors.New("ccm: nonce must be 13 bytes")
	ErrInvalidMICLength     = errors.New("ccm: mic length must be 0, 4, 6, 8, 10, 12, 14 or 16")
	ErrMessageTooLong       = errors.New("ccm: message too long")
	ErrAADTooLong           = errors.New("ccm: additional data too long")
	ErrShortBuffer          = errors.New("ccm: output buffer too small")
	ErrAuthenticationFailed = errors.New("ccm: authentication failed")
)

// ValidMICLength reports whether m is a CCM* MIC length.
func ValidMICLength(m int) bool {
	return m == 0 || (m >= 4 && m <= 16 && m%2 == 0)
}

func check(nonce []byte, micLen, msgLen, aadLen int) error {
	if len(nonce) != NonceSize {
		return ErrInvalidNonce
	}
	if !ValidMICLength(micLen) {
		return ErrInvalidMICLength
	}
	if msgLen > MaxMessageSize {
		return ErrMessageTooLong
	}
	if aadLen > MaxAADSize {
		return ErrAADTooLong
	}
	return nil
}

// Encrypt seals plaintext under key and returns the ciphertext and the
// encrypted MIC of micLen bytes. A micLen of zero gives encryption only.
func Encrypt(bc blockcipher.BlockCipher, key, nonce, plaintext, aad []byte, micLen int) ([]byte, []byte, error) {
	if err := check(nonce, micLen, len(plaintext), len(aad)); err != nil {
		return nil, nil, err
	}
	if err := bc.SetKey(key); err != nil {
		return nil, nil, err
	}
	var tag [blockSize]byte
	if micLen > 0 {
		if err := authenticate(bc, tag[:], nonce, plaintext, aad, micLen); err != nil {
			return nil, nil, err
		}
	}
	ciphertext := make([]byte, len(plaintext))
	mic := make([]byte, micLen)
	if err := transform(bc, nonce, ciphertext, plaintext, mic, tag[:micLen]); err != nil {
		return nil, nil, err
	}
	return ciphertext, mic, nil
}

// Decrypt opens ciphertext and verifies mic. It returns
// ErrAuthenticationFailed when the recomputed MIC does not match.
func Decrypt(bc blockcipher.BlockCipher, key, nonce, ciphertext, mic, aad []byte) ([]byte, error) {
	out := make([]byte, len(ciphertext))
	n, err := DecryptTo(bc, out, key, nonce, ciphertext, mic, aad)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

// DecryptTo is Decrypt writing into dst. On any failure after decryption
// has started the first len(ciphertext) bytes of dst are zeroed.
func DecryptTo(bc blockcipher.BlockCipher, dst, key, nonce, ciphertext, mic, aad []byte) (int, error) {
	if err := check(nonce, len(mic), len(ciphertext), len(aad)); err != nil {
		return 0, err
	}
	if len(dst) < len(ciphertext) {
		return 0, ErrShortBuffer
	}
	if err := bc.SetKey(key); err != nil {
		return 0, err
	}
	plaintext := dst[:len(ciphertext)]
	received := make([]byte, len(mic))
	if err := transform(bc, nonce, plaintext, ciphertext, received, mic); err != nil {
		clear(plaintext)
		return 0, err
	}
	if len(mic) == 0 {
		return len(plaintext), nil
	}
	var expected [blockSize]byte
	if err := authenticate(bc, expected[:], nonce, plaintext, aad, len(mic)); err != nil {
		clear(plaintext)
		return 0, err
	}
	if subtle.ConstantTimeCompare(expected[:len(mic)], received) != 1 {
		clear(plaintext)
		return 0, ErrAuthenticationFailed
	}
	return len(plaintext), nil
}

// flags builds the first octet of B0 or of a counter block.
func flags(aad bool, micLen int) byte {
	var f byte
	if aad {
		f |= 1 << 6
	}
	if micLen > 0 {
		f |= byte((micLen-2)/2) << 3
	}
	return f | byte(lenSize-1)
}

// authenticate computes the raw (unmasked) CBC-MAC into tag.
func authenticate(bc blockcipher.BlockCipher, tag, nonce, plaintext, aad []byte, micLen int) error {
	var b0 [blockSize]byte
	b0[0] = flags(len(aad) > 0, micLen)
	copy(b0[1:1+NonceSize], nonce)
	binary.BigEndian.PutUint16(b0[1+NonceSize:], uint16(len(plaintext)))

	if err := bc.SetIV(make([]byte, blockSize)); err != nil {
		return err
	}
	if err := bc.Update(b0[:]); err != nil {
		return err
	}
	if len(aad) > 0 {
		prefixed := make([]byte, 2+len(aad))
		binary.BigEndian.PutUint16(prefixed, uint16(len(aad)))
		copy(prefixed[2:], aad)
		if err := absorb(bc, prefixed); err != nil {
			return err
		}
	}
	if err := absorb(bc, plaintext); err != nil {
		return err
	}
	return bc.Finish(tag)
}

// absorb feeds data to the chain zero-padded to a block boundary.
func absorb(bc blockcipher.BlockCipher, data []byte) error {
	var block [blockSize]byte
	for len(data) > 0 {
		n := copy(block[:], data)
		clear(block[n:])
		data = data[n:]
		if err := bc.Update(block[:]); err != nil {
			return err
		}
	}
	return nil
}

// transform applies the CTR keystream: S0 to the MIC, S1.. to the data.
// It is its own inverse.
func transform(bc blockcipher.BlockCipher, nonce, dst, src, micDst, micSrc []byte) error {
	var ctr, stream [blockSize]byte
	ctr[0] = flags(false, 0)
	copy(ctr[1:1+NonceSize], nonce)

	if err := bc.EncryptBlock(stream[:], ctr[:]); err != nil {
		return err
	}
	for i := range micSrc {
		micDst[i] = micSrc[i] ^ stream[i]
	}

	for i := 0; i < len(src); i += blockSize {
		binary.BigEndian.PutUint16(ctr[1+NonceSize:], uint16(i/blockSize+1))
		if err := bc.EncryptBlock(stream[:], ctr[:]); err != nil {
			return err
		}
		end := min(i+blockSize, len(src))
		for j := i; j < end; j++ {
			dst[j] = src[j] ^ stream[j-i]
		}
	}
	return nil
}
