package rig

import (
	"crypto/rand"
	"errors"
	"math/big"
)

var ErrInvalidDrawRange = errors.New("rig: draw range is empty")

// UniformDraw draws hash power ratings uniformly from [Min, Max] using the
// operating system entropy source.
type UniformDraw struct {
	Min uint64
	Max uint64
}

func (d UniformDraw) Draw() (uint64, error) {
	if d.Max < d.Min || d.Min == 0 {
		return 0, ErrInvalidDrawRange
	}
	span := new(big.Int).SetUint64(d.Max - d.Min + 1)
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return 0, err
	}
	return d.Min + n.Uint64(), nil
}
