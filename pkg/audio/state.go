// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// parameterStateMagic prefixes every parameter-vector blob.
const parameterStateMagic = "PBPS"

// parameterStateVersion is the current parameter-vector blob version.
const parameterStateVersion uint32 = 1

// Errors returned by state encoding.
var (
	// ErrStateUnsupported is returned when non-empty state is applied to a
	// processor with no state capability.
	ErrStateUnsupported = errors.New("processor does not support state")
	// ErrStateMismatch is returned when a blob's parameter count differs
	// from the processor's.
	ErrStateMismatch = errors.New("state parameter count mismatch")
	// ErrStateCorrupt is returned for blobs that cannot be decoded.
	ErrStateCorrupt = errors.New("state blob is corrupt")
)

// EncodeParameterState serializes every normalized parameter value.
//
// Layout (little endian): "PBPS" | version u32 | count u32 | count × f32.
func EncodeParameterState(p Parameterized) []byte {
	n := p.ParameterCount()
	var buf bytes.Buffer
	buf.Grow(len(parameterStateMagic) + 8 + 4*n)
	buf.WriteString(parameterStateMagic)
	_ = binary.Write(&buf, binary.LittleEndian, parameterStateVersion)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(n)) //nolint:gosec // parameter counts are small
	for i := range n {
		_ = binary.Write(&buf, binary.LittleEndian, math.Float32bits(p.ParameterValue(i)))
	}
	return buf.Bytes()
}

// ParameterStateCount returns the parameter count recorded in a blob.
func ParameterStateCount(data []byte) (int, error) {
	values, err := decodeParameterValues(data)
	if err != nil {
		return 0, err
	}
	return len(values), nil
}

// DecodeParameterState applies a blob produced by EncodeParameterState.
// Nothing is applied unless the whole blob decodes and its parameter count
// matches p.
func DecodeParameterState(p Parameterized, data []byte) error {
	values, err := decodeParameterValues(data)
	if err != nil {
		return err
	}
	if len(values) != p.ParameterCount() {
		return fmt.Errorf("%w: blob has %d, processor has %d", ErrStateMismatch, len(values), p.ParameterCount())
	}
	for i, v := range values {
		p.SetParameterValue(i, v)
	}
	return nil
}

func decodeParameterValues(data []byte) ([]float32, error) {
	if len(data) < len(parameterStateMagic)+8 {
		return nil, ErrStateCorrupt
	}
	if string(data[:len(parameterStateMagic)]) != parameterStateMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrStateCorrupt)
	}
	r := bytes.NewReader(data[len(parameterStateMagic):])

	var version, count uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStateCorrupt, err)
	}
	if version > parameterStateVersion {
		return nil, fmt.Errorf("%w: version %d is newer than supported version %d", ErrStateCorrupt, version, parameterStateVersion)
	}
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStateCorrupt, err)
	}
	if int(count)*4 != r.Len() {
		return nil, fmt.Errorf("%w: expected %d values", ErrStateCorrupt, count)
	}

	values := make([]float32, count)
	for i := range values {
		var bits uint32
		if err := binary.Read(r, binary.LittleEndian, &bits); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStateCorrupt, err)
		}
		values[i] = math.Float32frombits(bits)
	}
	return values, nil
}
