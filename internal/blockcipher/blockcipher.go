// Package blockcipher defines the single-block AES-128 backend used by the
// CCM* engine, with a software implementation and one that drives an ECB
// accelerator peripheral.
package blockcipher

import (
	"errors"
	"fmt"
)

const (
	// KeySize is the AES-128 key length in bytes.
	KeySize = 16
	// BlockSize is the AES block length in bytes.
	BlockSize = 16
)

var (
	// ErrConfiguration marks caller bugs such as a wrong key length.
	ErrConfiguration = errors.New("blockcipher: configuration error")

	ErrKeySize            = fmt.Errorf("%w: key must be 16 bytes", ErrConfiguration)
	ErrBlockSize          = fmt.Errorf("%w: block must be 16 bytes", ErrConfiguration)
	ErrNoKey              = errors.New("blockcipher: key not set")
	ErrAcceleratorFault   = errors.New("blockcipher: accelerator fault")
	ErrAcceleratorTimeout = errors.New("blockcipher: accelerator did not complete")
)

// BlockCipher is an AES-128 engine that encrypts one block at a time and can
// chain blocks for CBC-MAC. Implementations are not safe for concurrent use;
// one logical operation owns the backend until Finish returns.
type BlockCipher interface {
	// SetKey loads a 16-byte key.
	SetKey(key []byte) error
	// EncryptBlock encrypts exactly one block (ECB, no padding).
	EncryptBlock(dst, src []byte) error
	// SetIV resets the chaining state to iv.
	SetIV(iv []byte) error
	// Update absorbs one block into the chaining state: state = E(state ^ src).
	Update(src []byte) error
	// Finish writes the final chaining state to dst and clears it.
	Finish(dst []byte) error
}

// chain holds CBC state for backends that only offer single-block ECB.
type chain struct {
	state [BlockSize]byte
}

func (c *chain) setIV(iv []byte) error {
	if len(iv) != BlockSize {
		return ErrBlockSize
	}
	copy(c.state[:], iv)
	return nil
}

func (c *chain) update(encrypt func(dst, src []byte) error, src []byte) error {
	if len(src) != BlockSize {
		return ErrBlockSize
	}
	for i := range c.state {
		c.state[i] ^= src[i]
	}
	if err := encrypt(c.state[:], c.state[:]); err != nil {
		c.state = [BlockSize]byte{}
		return err
	}
	return nil
}

func (c *chain) finish(dst []byte) error {
	if len(dst) < BlockSize {
		return ErrBlockSize
	}
	copy(dst, c.state[:])
	c.state = [BlockSize]byte{}
	return nil
}
