package blockcipher

import (
	"crypto/aes"
	"crypto/cipher"
)

// Software is a BlockCipher backed by the Go AES implementation.
type Software struct {
	block cipher.Block
	chain chain
}

// NewSoftware returns a software backend with no key loaded.
func NewSoftware() *Software {
	return &Software{}
}

func (s *Software) SetKey(key []byte) error {
	if len(key) != KeySize {
		return ErrKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return err
	}
	s.block = block
	return nil
}

func (s *Software) EncryptBlock(dst, src []byte) error {
	if s.block == nil {
		return ErrNoKey
	}
	if len(src) != BlockSize || len(dst) < BlockSize {
		return ErrBlockSize
	}
	s.block.Encrypt(dst, src)
	return nil
}

func (s *Software) SetIV(iv []byte) error { return s.chain.setIV(iv) }

func (s *Software) Update(src []byte) error { return s.chain.update(s.EncryptBlock, src) }

func (s *Software) Finish(dst []byte) error { return s.chain.finish(dst) }
