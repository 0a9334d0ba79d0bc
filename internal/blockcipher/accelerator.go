package blockcipher

import (
	"crypto/aes"
	"sync"
)

// ECBDataSize is the size of the accelerator data block: key, cleartext and
// ciphertext laid out back to back.
const ECBDataSize = KeySize + 2*BlockSize

// ECB is the register contract of a single-block AES accelerator.
type ECB interface {
	// Start encrypts data[16:32] under data[:16] into data[32:48].
	Start(data *[ECBDataSize]byte)
	// Poll reports whether the last Start completed or faulted.
	Poll() (end, fault bool)
	// Stop aborts an in-flight operation and clears events.
	Stop()
}

// defaultPollBudget bounds how long EncryptBlock waits on the peripheral.
const defaultPollBudget = 10000

// Accelerator is a BlockCipher that drives an ECB peripheral.
type Accelerator struct {
	ecb    ECB
	data   [ECBDataSize]byte
	keyed  bool
	budget int
	chain  chain
}

// NewAccelerator wraps an ECB peripheral handle.
func NewAccelerator(ecb ECB) *Accelerator {
	return &Accelerator{ecb: ecb, budget: defaultPollBudget}
}

func (a *Accelerator) SetKey(key []byte) error {
	if len(key) != KeySize {
		return ErrKeySize
	}
	copy(a.data[:KeySize], key)
	a.keyed = true
	return nil
}

// EncryptBlock runs one block through the peripheral. A fault or timeout
// leaves the peripheral stopped and the output untouched.
func (a *Accelerator) EncryptBlock(dst, src []byte) error {
	if !a.keyed {
		return ErrNoKey
	}
	if len(src) != BlockSize || len(dst) < BlockSize {
		return ErrBlockSize
	}
	copy(a.data[KeySize:KeySize+BlockSize], src)
	a.ecb.Start(&a.data)
	for i := 0; i < a.budget; i++ {
		end, fault := a.ecb.Poll()
		if fault {
			a.ecb.Stop()
			return ErrAcceleratorFault
		}
		if end {
			copy(dst, a.data[KeySize+BlockSize:])
			return nil
		}
	}
	a.ecb.Stop()
	return ErrAcceleratorTimeout
}

func (a *Accelerator) SetIV(iv []byte) error { return a.chain.setIV(iv) }

func (a *Accelerator) Update(src []byte) error { return a.chain.update(a.EncryptBlock, src) }

func (a *Accelerator) Finish(dst []byte) error { return a.chain.finish(dst) }

// SimulatedECB models an ECB peripheral in software. Latency is the number
// of polls before completion; FaultNext makes the next operation fault.
type SimulatedECB struct {
	mu        sync.Mutex
	Latency   int
	FaultNext bool

	data    *[ECBDataSize]byte
	pending int
	fault   bool
	running bool
}

func (s *SimulatedECB) Start(data *[ECBDataSize]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = data
	s.pending = s.Latency
	s.running = true
	s.fault = s.FaultNext
	s.FaultNext = false
}

func (s *SimulatedECB) Poll() (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false, false
	}
	if s.fault {
		return false, true
	}
	if s.pending > 0 {
		s.pending--
		return false, false
	}
	block, err := aes.NewCipher(s.data[:KeySize])
	if err != nil {
		return false, true
	}
	block.Encrypt(s.data[KeySize+BlockSize:], s.data[KeySize:KeySize+BlockSize])
	s.running = false
	return true, false
}

func (s *SimulatedECB) Stop() {
	s.mu.Lock()
	s.running = false
	s.fault = false
	s.mu.Unlock()
}
