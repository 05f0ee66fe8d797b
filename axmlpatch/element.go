package axmlpatch

import "fmt"

// attribute is one 20-byte attribute record belonging to a start-element
// chunk. startOffset is absolute, so the fast path can locate its data
// word directly.
type attribute struct {
	startOffset int
	ns          uint32
	name        uint32
	rawValue    uint32
	size        uint16
	res0        uint8
	dataType    uint8
	data        uint32
}

// elementNameRef reads the name string ref of a start-element chunk,
// skipping the leading 4-byte ns field.
func elementNameRef(buf []byte, c chunkRecord) uint32 {
	return readU32(buf, c.dataStart()+4)
}

// findApplication scans chunks for the unique <application> start-element,
// identified by its name string being the literal "application".
func findApplication(buf []byte, chunks []chunkRecord, pool stringPool) (chunkRecord, error) {
	found := -1
	for i, c := range chunks {
		if c.typ != chunkTypeXMLTagStart {
			continue
		}
		nameIdx := elementNameRef(buf, c)
		name, ok, err := pool.readString(buf, nameIdx)
		if err != nil {
			return chunkRecord{}, err
		}
		if !ok || name != applicationString {
			continue
		}
		if found >= 0 {
			return chunkRecord{}, ErrDuplicateApplication
		}
		found = i
	}
	if found < 0 {
		return chunkRecord{}, ErrNoApplication
	}
	return chunks[found], nil
}

// attributeBlockHeader is the six-uint16 header that precedes an element's
// attribute records: attributeStart is relative to the node-data start
// (i.e. to elem.dataStart()).
type attributeBlockHeader struct {
	attributeStart uint16
	attributeSize  uint16
	attributeCount uint16
	idIndex        uint16
	classIndex     uint16
	styleIndex     uint16
}

func decodeAttributeBlockHeader(buf []byte, elem chunkRecord) attributeBlockHeader {
	o := elem.dataStart() + 8 // skip ns, name
	return attributeBlockHeader{
		attributeStart: readU16(buf, o),
		attributeSize:  readU16(buf, o+2),
		attributeCount: readU16(buf, o+4),
		idIndex:        readU16(buf, o+6),
		classIndex:     readU16(buf, o+8),
		styleIndex:     readU16(buf, o+10),
	}
}

// decodeAttributes parses the attributeCount fixed-size records following
// elem's attribute block header.
func decodeAttributes(buf []byte, elem chunkRecord) (attributeBlockHeader, []attribute, error) {
	h := decodeAttributeBlockHeader(buf, elem)
	if h.attributeSize != attributeSize {
		return h, nil, fmt.Errorf("%w: got %d", ErrUnexpectedAttributeSize, h.attributeSize)
	}

	attrs := make([]attribute, 0, h.attributeCount)
	o := elem.dataStart() + int(h.attributeStart)
	for i := uint16(0); i < h.attributeCount; i++ {
		attrs = append(attrs, attribute{
			startOffset: o,
			ns:          readU32(buf, o),
			name:        readU32(buf, o+4),
			rawValue:    readU32(buf, o+8),
			size:        readU16(buf, o+12),
			res0:        buf[o+14],
			dataType:    buf[o+15],
			data:        readU32(buf, o+16),
		})
		o += attributeSize
	}
	return h, attrs, nil
}

// findDebuggableAttribute returns the index into attrs of the existing
// debuggable attribute, if any. Both the string content and the resolved
// resource id must match: Android itself ignores the attribute unless the
// resource id does.
func findDebuggableAttribute(buf []byte, attrs []attribute, pool stringPool, resmap resourceMap) (int, bool, error) {
	for i, a := range attrs {
		name, ok, err := pool.readString(buf, a.name)
		if err != nil {
			return 0, false, err
		}
		if !ok || name != debuggableString {
			continue
		}
		id, ok := resmap.readID(buf, a.name)
		if ok && id == debuggableResID {
			return i, true, nil
		}
	}
	return 0, false, nil
}
