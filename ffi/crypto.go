// Copyright 2024 The Probevm Authors
// This file is part of Probevm.
//
// Probevm is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Probevm is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Probevm. If not, see <http://www.gnu.org/licenses/>.

package ffi

import (
	"context"

	"github.com/cloudflare/circl/sign/dilithium/mode2"
	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"

	"github.com/probechain/probevm-core/typeck"
	"github.com/probechain/probevm-core/value"
)

// registerCrypto wires crypto.* host functions. Hashing and ML-DSA
// verification are real, backed by the same libraries the host process
// already imports for its own signing path; Falcon-512, SLH-DSA, and
// secp256k1 recovery stay TODO stubs, exactly as they ship in the upstream
// stdlib this package's table is modeled on, because no third-party
// implementation of any of the three is part of this module's dependency
// set. A script calling one of the three gets no error: the two verifiers
// return false and secp256k1 recovery returns a zero-filled 20-byte
// address.
func registerCrypto(r *Registry) {
	bytesToBytes := tFunc([]*typeck.TypeCkInfo{tPtr(bytesTypeID)}, []*typeck.TypeCkInfo{tPtr(bytesTypeID)})

	r.Register("crypto.keccak256", HostFunc{Signature: bytesToBytes, Checked: cryptoKeccak256})
	r.Register("crypto.shake256", HostFunc{
		Signature: tFunc([]*typeck.TypeCkInfo{tPtr(bytesTypeID), tInt()}, []*typeck.TypeCkInfo{tPtr(bytesTypeID)}),
		Checked:   cryptoShake256,
	})
	r.Register("crypto.mldsa_verify", HostFunc{
		Signature: tFunc([]*typeck.TypeCkInfo{tPtr(bytesTypeID), tPtr(bytesTypeID), tPtr(bytesTypeID)}, []*typeck.TypeCkInfo{tBool()}),
		Checked:   cryptoMLDSAVerify,
	})
	r.Register("crypto.falcon512_verify", HostFunc{
		Signature: tFunc([]*typeck.TypeCkInfo{tPtr(bytesTypeID), tPtr(bytesTypeID), tPtr(bytesTypeID)}, []*typeck.TypeCkInfo{tBool()}),
		Checked:   cryptoFalcon512Verify,
	})
	r.Register("crypto.slhdsa_verify", HostFunc{
		Signature: tFunc([]*typeck.TypeCkInfo{tPtr(bytesTypeID), tPtr(bytesTypeID), tPtr(bytesTypeID)}, []*typeck.TypeCkInfo{tBool()}),
		Checked:   cryptoSLHDSAVerify,
	})
	r.Register("crypto.secp256k1_recover", HostFunc{
		Signature: tFunc([]*typeck.TypeCkInfo{tPtr(bytesTypeID), tPtr(bytesTypeID)}, []*typeck.TypeCkInfo{tPtr(bytesTypeID)}),
		Checked:   cryptoSecp256k1Recover,
	})
}

func bytesArg(v value.Value) ([]byte, error) { return Copy[[]byte](v) }

func wrapBytes(r *Registry, b []byte) value.Value {
	w := r.hp.AllocUntracked(bytesTypeID, b)
	return value.NewPtr(w, 0)
}

func cryptoKeccak256(_ context.Context, r *Registry, args []value.Value) ([]value.Value, error) {
	if len(args) != 1 {
		return nil, errors.Errorf("crypto.keccak256: expects 1 argument, got %d", len(args))
	}
	data, err := bytesArg(args[0])
	if err != nil {
		return nil, err
	}
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return []value.Value{wrapBytes(r, h.Sum(nil))}, nil
}

func cryptoShake256(_ context.Context, r *Registry, args []value.Value) ([]value.Value, error) {
	if len(args) != 2 {
		return nil, errors.Errorf("crypto.shake256: expects 2 arguments, got %d", len(args))
	}
	data, err := bytesArg(args[0])
	if err != nil {
		return nil, err
	}
	outLen, ok := args[1].AsInt()
	if !ok || outLen < 0 {
		return nil, errors.New("crypto.shake256: second argument must be a non-negative int output length")
	}
	out := make([]byte, outLen)
	sha3.ShakeSum256(out, data)
	return []value.Value{wrapBytes(r, out)}, nil
}

// cryptoMLDSAVerify verifies a ML-DSA (Dilithium2, mode2) signature. This
// is the one script-visible signature scheme this module can actually
// check, rather than merely declare, because mode2 ships in the
// cloudflare/circl dependency, which this function is the module's only
// user of.
func cryptoMLDSAVerify(_ context.Context, _ *Registry, args []value.Value) ([]value.Value, error) {
	if len(args) != 3 {
		return nil, errors.Errorf("crypto.mldsa_verify: expects 3 arguments, got %d", len(args))
	}
	msg, err := bytesArg(args[0])
	if err != nil {
		return nil, err
	}
	sig, err := bytesArg(args[1])
	if err != nil {
		return nil, err
	}
	pubBytes, err := bytesArg(args[2])
	if err != nil {
		return nil, err
	}
	if len(pubBytes) != mode2.PublicKeySize {
		return nil, errors.Errorf("crypto.mldsa_verify: public key must be %d bytes, got %d", mode2.PublicKeySize, len(pubBytes))
	}
	var packed [mode2.PublicKeySize]byte
	copy(packed[:], pubBytes)
	pub := new(mode2.PublicKey)
	pub.Unpack(&packed)
	ok := mode2.Verify(pub, msg, sig)
	return []value.Value{value.NewBool(ok)}, nil
}

// cryptoFalcon512Verify is a stub: no Falcon-512 implementation exists
// among this module's dependencies. TODO: wire to a real falcon-512
// verifier once one is vendored.
func cryptoFalcon512Verify(context.Context, *Registry, []value.Value) ([]value.Value, error) {
	return []value.Value{value.NewBool(false)}, nil
}

// cryptoSLHDSAVerify is a stub: no SLH-DSA (SPHINCS+) implementation
// exists among this module's dependencies. TODO: wire to a real SLH-DSA
// verifier once one is vendored.
func cryptoSLHDSAVerify(context.Context, *Registry, []value.Value) ([]value.Value, error) {
	return []value.Value{value.NewBool(false)}, nil
}

// cryptoSecp256k1Recover is a stub: no secp256k1 implementation exists
// among this module's dependencies. TODO: wire to an ECDSA recovery
// implementation once one is vendored.
func cryptoSecp256k1Recover(_ context.Context, r *Registry, _ []value.Value) ([]value.Value, error) {
	return []value.Value{wrapBytes(r, make([]byte, 20))}, nil
}
