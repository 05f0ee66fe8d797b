package axmlpatch

import "bytes"

// rewriteChunk copies chunk c from buf to out, shifting every string
// reference it carries by the single shift rule. Dispatch is by chunk
// type; adding a new XML node type means adding one case here, not
// touching any call site. Types outside the XML node range are copied
// verbatim, including the string pool and resource map, which are
// rewritten separately by their own dedicated functions.
func rewriteChunk(buf []byte, c chunkRecord, insertionIdx uint32, out *bytes.Buffer) {
	out.Write(buf[c.startOffset : c.startOffset+commonHeaderSize])

	if c.typ < chunkTypeXMLRangeLow || c.typ > chunkTypeXMLRangeHigh {
		out.Write(buf[c.startOffset+commonHeaderSize : c.end()])
		return
	}

	pos := c.startOffset + commonHeaderSize
	out.Write(buf[pos : pos+4]) // lineNumber, unchanged
	pos += 4
	pos = shiftStringRef(buf, pos, insertionIdx, out) // comment

	switch c.typ {
	case chunkTypeXMLNsStart, chunkTypeXMLNsEnd:
		pos = shiftStringRef(buf, pos, insertionIdx, out) // prefix
		pos = shiftStringRef(buf, pos, insertionIdx, out) // uri
		out.Write(buf[pos:c.end()])
	case chunkTypeXMLTagStart:
		rewriteStartElementBody(buf, c, pos, insertionIdx, out)
	case chunkTypeXMLTagEnd:
		pos = shiftStringRef(buf, pos, insertionIdx, out) // ns
		pos = shiftStringRef(buf, pos, insertionIdx, out) // name
		out.Write(buf[pos:c.end()])
	case chunkTypeXMLCData:
		pos = shiftStringRef(buf, pos, insertionIdx, out) // data
		out.Write(buf[pos:c.end()])                       // 8 bytes of typed value
	default:
		out.Write(buf[pos:c.end()])
	}
}

// shiftStringRef reads a 4-byte string reference at offset, writes its
// shifted value to out, and returns the offset just past it.
func shiftStringRef(buf []byte, offset int, insertionIdx uint32, out *bytes.Buffer) int {
	writeU32(out, shiftRef(readU32(buf, offset), insertionIdx))
	return offset + 4
}

// rewriteStartElementBody handles a start-element chunk that is not the
// <application> element: ns and name shift, the attribute block header is
// copied unchanged (no attribute is being inserted here), and each
// attribute's ns/name/rawValue (and, for string-typed attributes, data)
// shift in turn.
func rewriteStartElementBody(buf []byte, c chunkRecord, pos int, insertionIdx uint32, out *bytes.Buffer) {
	pos = shiftStringRef(buf, pos, insertionIdx, out) // ns
	pos = shiftStringRef(buf, pos, insertionIdx, out) // name

	h := decodeAttributeBlockHeader(buf, c)
	out.Write(buf[pos : pos+12]) // attrStart, attrSize, attrCount, idIndex, classIndex, styleIndex
	pos += 12

	attrsStart := c.dataStart() + int(h.attributeStart)
	out.Write(buf[pos:attrsStart]) // any padding between the header and the attribute array
	pos = attrsStart

	for i := uint16(0); i < h.attributeCount; i++ {
		pos = rewriteAttribute(buf, pos, insertionIdx, out)
	}

	out.Write(buf[pos:c.end()])
}

// rewriteAttribute copies one 20-byte attribute record, shifting ns, name,
// rawValue, and (when dataType is the string type) the data word, which is
// itself a string reference in that case.
func rewriteAttribute(buf []byte, offset int, insertionIdx uint32, out *bytes.Buffer) int {
	offset = shiftStringRef(buf, offset, insertionIdx, out) // ns
	offset = shiftStringRef(buf, offset, insertionIdx, out) // name
	offset = shiftStringRef(buf, offset, insertionIdx, out) // rawValue

	out.Write(buf[offset : offset+4]) // size, res0, dataType
	dataType := buf[offset+3]
	offset += 4

	if dataType == attrTypeString {
		offset = shiftStringRef(buf, offset, insertionIdx, out)
	} else {
		out.Write(buf[offset : offset+4])
		offset += 4
	}
	return offset
}
