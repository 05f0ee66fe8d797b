package axmlpatch

import "bytes"

// resourceMap is the decoded view of the (optional) resource-map chunk.
// present is false when the input has no such chunk at all; downstream
// code then treats it as a zero-length map, as the data model requires.
type resourceMap struct {
	chunk   chunkRecord
	present bool
	length  uint32
}

func decodeResourceMap(c chunkRecord) resourceMap {
	return resourceMap{
		chunk:   c,
		present: true,
		length:  (c.chunkSize - uint32(c.headerSize)) / 4,
	}
}

// readID returns the resource id bound to string-pool index idx, or
// ok == false when idx is past the end of the (possibly absent) map.
func (m resourceMap) readID(buf []byte, idx uint32) (id uint32, ok bool) {
	if !m.present || idx >= m.length {
		return 0, false
	}
	return readU32(buf, m.chunk.dataStart()+int(idx)*4), true
}

// rewriteResourceMap emits the enlarged resource map chunk with the
// debuggable resource id appended at the end.
func rewriteResourceMap(buf []byte, m resourceMap, out *bytes.Buffer) {
	newChunkSize := m.chunk.chunkSize + 4
	writeU16(out, m.chunk.typ)
	writeU16(out, m.chunk.headerSize)
	writeU32(out, newChunkSize)
	out.Write(buf[m.chunk.dataStart():m.chunk.end()])
	writeU32(out, debuggableResID)
}

// synthesizeResourceMap emits a brand-new resource map chunk containing
// only the debuggable resource id, used when the input carries none at
// all. It is placed immediately after the string pool chunk.
func synthesizeResourceMap(out *bytes.Buffer) {
	writeU16(out, chunkTypeResourceMap)
	writeU16(out, commonHeaderSize)
	writeU32(out, commonHeaderSize+4)
	writeU32(out, debuggableResID)
}
