package security

import (
	"fmt"

	"psila-go/internal/blockcipher"
	"psila-go/internal/ccm"
)

// Unsecure authenticates and decrypts a secured frame. frame holds the
// outer (NWK or APS) header, the auxiliary header at offset, the secured
// payload and the MIC. The security level is not carried on air, so the
// caller supplies it. It returns the plaintext payload and the parsed
// auxiliary header.
func Unsecure(bc blockcipher.BlockCipher, key Key, level Level, frame []byte, offset int) ([]byte, Header, error) {
	if offset < 0 || offset > len(frame) {
		return nil, Header{}, ErrNotEnoughBytes
	}
	aux, used, err := UnpackHeader(frame[offset:])
	if err != nil {
		return nil, aux, err
	}
	if !aux.HasSource() {
		return nil, aux, ErrMissingSource
	}
	key, err = DeriveKey(bc, key, aux.Control.Identifier)
	if err != nil {
		return nil, aux, err
	}
	end := offset + used
	micLen := level.MICLength()
	if len(frame) < end+micLen {
		return nil, aux, ErrNotEnoughBytes
	}
	control := frame[offset]&^7 | uint8(level)
	nonce := Nonce(aux.Source, aux.Counter, control)
	body := frame[end : len(frame)-micLen]
	mic := frame[len(frame)-micLen:]

	var aad []byte
	if level.Encrypted() {
		aad = append([]byte(nil), frame[:end]...)
	} else {
		// Integrity only: the payload is authenticated as additional data.
		aad = append([]byte(nil), frame[:len(frame)-micLen]...)
	}
	aad[offset] = control
	aux.Control.Level = level

	if !level.Encrypted() {
		if _, err := ccm.Decrypt(bc, key[:], nonce[:], nil, mic, aad); err != nil {
			return nil, aux, err
		}
		return append([]byte(nil), body...), aux, nil
	}
	plaintext, err := ccm.Decrypt(bc, key[:], nonce[:], body, mic, aad)
	if err != nil {
		return nil, aux, err
	}
	return plaintext, aux, nil
}

// Secure builds a secured frame: header, auxiliary header, encrypted
// payload and MIC. aux.Control.Level is ignored; level is used for the
// computation and a zero level is written on air.
func Secure(bc blockcipher.BlockCipher, key Key, level Level, header []byte, aux Header, payload []byte) ([]byte, error) {
	if !aux.HasSource() {
		return nil, ErrMissingSource
	}
	derived, err := DeriveKey(bc, key, aux.Control.Identifier)
	if err != nil {
		return nil, err
	}
	aux.Control.Level = level
	offset := len(header)
	frame := make([]byte, offset+aux.Len(), offset+aux.Len()+len(payload)+level.MICLength())
	copy(frame, header)
	if _, err := aux.Pack(frame[offset:]); err != nil {
		return nil, err
	}
	nonce := Nonce(aux.Source, aux.Counter, frame[offset])
	var body, mic []byte
	if level.Encrypted() {
		body, mic, err = ccm.Encrypt(bc, derived[:], nonce[:], payload, frame, level.MICLength())
	} else {
		aad := append(append([]byte(nil), frame...), payload...)
		body = payload
		_, mic, err = ccm.Encrypt(bc, derived[:], nonce[:], nil, aad, level.MICLength())
	}
	if err != nil {
		return nil, fmt.Errorf("security: secure payload: %w", err)
	}
	frame = append(frame, body...)
	frame = append(frame, mic...)
	frame[offset] &^= 7
	return frame, nil
}
