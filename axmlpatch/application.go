package axmlpatch

import (
	"bytes"
	"math"
)

// The debuggable attribute template: every field of the new attribute
// record except ns and name, which depend on where it lands in the pool.
const (
	debuggableAttrSize     = 8
	debuggableAttrRes0     = 0
	debuggableAttrDataType = attrTypeIntBool
	debuggableAttrData     = stringRefNone
)

func writeAttributeRecord(out *bytes.Buffer, ns, name, rawValue uint32, size uint16, res0, dataType uint8, data uint32) {
	writeU32(out, ns)
	writeU32(out, name)
	writeU32(out, rawValue)
	writeU16(out, size)
	out.WriteByte(res0)
	out.WriteByte(dataType)
	writeU32(out, data)
}

func writeDebuggableAttribute(out *bytes.Buffer, androidNsIdx, debuggableStrIdx uint32) {
	writeAttributeRecord(out, androidNsIdx, debuggableStrIdx, stringRefNone,
		debuggableAttrSize, debuggableAttrRes0, debuggableAttrDataType, debuggableAttrData)
}

// attributeSortKey returns the value attributes are ordered by: their
// name's resolved resource id, or +Inf when the name has none, so that
// unmapped names always sort last and never compare equal to a real id.
func attributeSortKey(buf []byte, resmap resourceMap, nameRef uint32) uint64 {
	if id, ok := resmap.readID(buf, nameRef); ok {
		return uint64(id)
	}
	return math.MaxUint64
}

// rewriteApplicationElement emits the enlarged <application> start-element
// chunk: header grown by one attribute, node/ns/name refs shifted, and the
// new debuggable attribute spliced into its sorted position among the
// shifted copies of the existing attributes. Grounded on
// makeDebuggable.py's patchApplicationElement / patchApplicationAttributes.
func rewriteApplicationElement(buf []byte, elem chunkRecord, h attributeBlockHeader, attrs []attribute, resmap resourceMap, insertionIdx, androidNsIdx uint32, out *bytes.Buffer) {
	writeU16(out, elem.typ)
	writeU16(out, elem.headerSize)
	writeU32(out, elem.chunkSize+attributeSize)

	pos := elem.startOffset + commonHeaderSize
	out.Write(buf[pos : pos+4]) // lineNumber
	pos += 4
	pos = shiftStringRef(buf, pos, insertionIdx, out) // comment
	pos = shiftStringRef(buf, pos, insertionIdx, out) // ns
	pos = shiftStringRef(buf, pos, insertionIdx, out) // name

	writeU16(out, h.attributeStart)
	writeU16(out, h.attributeSize)
	writeU16(out, h.attributeCount+1)
	writeU16(out, h.idIndex)
	writeU16(out, h.classIndex)
	writeU16(out, h.styleIndex)
	pos += 12

	attrsStart := elem.dataStart() + int(h.attributeStart)
	out.Write(buf[pos:attrsStart])

	inserted := false
	for _, a := range attrs {
		if !inserted && attributeSortKey(buf, resmap, a.name) > debuggableResID {
			writeDebuggableAttribute(out, androidNsIdx, insertionIdx)
			inserted = true
		}
		rewriteAttribute(buf, a.startOffset, insertionIdx, out)
	}
	if !inserted {
		writeDebuggableAttribute(out, androidNsIdx, insertionIdx)
	}

	out.Write(buf[elem.dataStart()+int(h.attributeStart)+int(h.attributeCount)*attributeSize : elem.end()])
}
