// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package vba

import (
	"encoding/binary"
	"fmt"
)

// Record identifiers of the dir stream ([MS-OVBA] section 2.3.4.2) that
// matter for extracting sources. All other records are skipped.
const (
	recCodePage          = 0x0003
	recProjectVersion    = 0x0009
	recTerminator        = 0x0010
	recModuleName        = 0x0019
	recModuleStreamName  = 0x001A
	recModuleProcedural  = 0x0021
	recModuleTerminator  = 0x002B
	recModuleOffset      = 0x0031
	recModuleStreamNameW = 0x0032
	recModuleNameW       = 0x0047
)

type moduleRecord struct {
	name, nameW             []byte
	streamName, streamNameW []byte
	offset                  uint32
	procedural              bool
}

type projectInfo struct {
	codePage uint16
	modules  []moduleRecord
}

// parseDir parses a decompressed dir stream.
//
// Every record is an Id (2 bytes), a Size (4 bytes) and Size bytes of data,
// which also holds for the nested Unicode variants. PROJECTVERSION is the
// only exception: its Size is always 4, yet 6 bytes follow.
func parseDir(b []byte) (*projectInfo, error) {
	p := &projectInfo{codePage: 1252}
	var cur *moduleRecord
	for len(b) > 0 {
		if len(b) < 6 {
			return nil, fmt.Errorf("dir: truncated record header")
		}
		id := binary.LittleEndian.Uint16(b)
		size := int(binary.LittleEndian.Uint32(b[2:]))
		b = b[6:]
		if id == recProjectVersion {
			size = 6
		}
		if size > len(b) {
			return nil, fmt.Errorf("dir: record 0x%04X wants %d bytes, %d left", id, size, len(b))
		}
		data := b[:size]
		b = b[size:]

		if id == recTerminator {
			break
		}
		if id == recCodePage {
			if len(data) < 2 {
				return nil, fmt.Errorf("dir: short PROJECTCODEPAGE record")
			}
			p.codePage = binary.LittleEndian.Uint16(data)
			continue
		}
		if id == recModuleName {
			cur = &moduleRecord{name: data}
			continue
		}
		if cur == nil {
			continue
		}
		switch id {
		case recModuleNameW:
			cur.nameW = data
		case recModuleStreamName:
			cur.streamName = data
		case recModuleStreamNameW:
			cur.streamNameW = data
		case recModuleOffset:
			if len(data) < 4 {
				return nil, fmt.Errorf("dir: short MODULEOFFSET record")
			}
			cur.offset = binary.LittleEndian.Uint32(data)
		case recModuleProcedural:
			cur.procedural = true
		case recModuleTerminator:
			p.modules = append(p.modules, *cur)
			cur = nil
		}
	}
	return p, nil
}
