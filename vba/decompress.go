// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package vba

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Compressed containers are described in [MS-OVBA] section 2.4.1.
//
// [MS-OVBA]: https://learn.microsoft.com/en-us/openspecs/office_file_formats/ms-ovba/
const (
	containerSignature = 0x01
	chunkSignature     = 0x3
	chunkSize          = 4096
)

var errCorrupt = errors.New("corrupt compressed container")

// decompress expands a compressed container.
func decompress(in []byte) ([]byte, error) {
	if len(in) == 0 || in[0] != containerSignature {
		return nil, fmt.Errorf("%w: bad signature", errCorrupt)
	}
	out := make([]byte, 0, len(in)*2)
	pos := 1
	for pos < len(in) {
		if pos+2 > len(in) {
			return nil, fmt.Errorf("%w: truncated chunk header at %d", errCorrupt, pos)
		}
		header := binary.LittleEndian.Uint16(in[pos:])
		if (header>>12)&0x7 != chunkSignature {
			return nil, fmt.Errorf("%w: bad chunk signature at %d", errCorrupt, pos)
		}
		end := min(pos+int(header&0x0FFF)+3, len(in)) // the last chunk may be cut short
		data := in[pos+2 : end]
		pos = end

		if header&0x8000 == 0 {
			out = append(out, data...)
			continue
		}
		var err error
		if out, err = decompressChunk(out, data); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// decompressChunk appends the expansion of a compressed chunk to out.
func decompressChunk(out, data []byte) ([]byte, error) {
	start := len(out)
	for i := 0; i < len(data); {
		flags := data[i]
		i++
		for bit := 0; bit < 8 && i < len(data); bit++ {
			if flags&(1<<bit) == 0 {
				out = append(out, data[i])
				i++
				continue
			}
			if i+2 > len(data) {
				return nil, fmt.Errorf("%w: truncated copy token", errCorrupt)
			}
			token := binary.LittleEndian.Uint16(data[i:])
			i += 2

			bits := offsetBits(len(out) - start)
			length := int(token&(0xFFFF>>bits)) + 3
			offset := int(token>>(16-bits)) + 1
			if offset > len(out)-start {
				return nil, fmt.Errorf("%w: copy token offset %d before chunk start", errCorrupt, offset)
			}
			// Source and destination may overlap, so copy byte by byte.
			src := len(out) - offset
			for k := range length {
				out = append(out, out[src+k])
			}
		}
	}
	if len(out)-start > chunkSize {
		return nil, fmt.Errorf("%w: chunk expands past %d bytes", errCorrupt, chunkSize)
	}
	return out, nil
}

// offsetBits returns how many bits of a copy token hold the offset, given
// the number of bytes already decompressed in the current chunk.
func offsetBits(n int) uint {
	bits := uint(4)
	for bits < 12 && 1<<bits < n {
		bits++
	}
	return bits
}
