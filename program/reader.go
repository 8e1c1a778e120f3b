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

package program

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/probechain/probevm-core/value"
)

// byteReader is a minimal cursor over a decode buffer. It exists so decode
// reads linearly without manual offset bookkeeping at every call site.
type byteReader struct {
	data []byte
	pos  int
}

var errTruncated = errors.New("program: truncated input")

func (r *byteReader) readBytes(dst []byte) error {
	if r.pos+len(dst) > len(r.data) {
		return errTruncated
	}
	copy(dst, r.data[r.pos:r.pos+len(dst)])
	r.pos += len(dst)
	return nil
}

func (r *byteReader) readUint32() (uint32, error) {
	var buf [4]byte
	if err := r.readBytes(buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (r *byteReader) readUint64() (uint64, error) {
	var buf [8]byte
	if err := r.readBytes(buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func (r *byteReader) readString() (string, error) {
	n, err := r.readUint32()
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if err := r.readBytes(buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func (r *byteReader) readConstant() (value.Value, error) {
	var tag [1]byte
	if err := r.readBytes(tag[:]); err != nil {
		return value.Value{}, err
	}
	switch tag[0] {
	case constTagNull:
		return value.NewNull(), nil
	case constTagBool:
		var b [1]byte
		if err := r.readBytes(b[:]); err != nil {
			return value.Value{}, err
		}
		return value.NewBool(b[0] != 0), nil
	case constTagInt:
		bits, err := r.readUint64()
		if err != nil {
			return value.Value{}, err
		}
		return value.NewInt(int64(bits)), nil
	case constTagFloat:
		bits, err := r.readUint64()
		if err != nil {
			return value.Value{}, err
		}
		return value.NewFloat(math.Float64frombits(bits)), nil
	case constTagChar:
		c, err := r.readUint32()
		if err != nil {
			return value.Value{}, err
		}
		return value.NewChar(rune(c)), nil
	default:
		return value.Value{}, errors.Errorf("program: unknown constant tag %d", tag[0])
	}
}
