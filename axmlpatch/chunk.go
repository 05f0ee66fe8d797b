package axmlpatch

import (
	"encoding/binary"
	"fmt"
	"log"
)

// Chunk type ids.
// frameworks/base/libs/androidfw/include/androidfw/ResourceTypes.h
const (
	chunkTypeStringPool  = 0x0001
	chunkTypeXMLFile     = 0x0003
	chunkTypeResourceMap = 0x0180

	chunkTypeXMLNsStart   = 0x0100
	chunkTypeXMLNsEnd     = 0x0101
	chunkTypeXMLTagStart  = 0x0102
	chunkTypeXMLTagEnd    = 0x0103
	chunkTypeXMLCData     = 0x0104
	chunkTypeXMLRangeLow  = 0x0100
	chunkTypeXMLRangeHigh = 0x017f
)

const (
	commonHeaderSize = 8 // type uint16, headerSize uint16, chunkSize uint32
	nodeHeaderSize   = commonHeaderSize + 8
	attributeSize    = 20

	debuggableResID        = 0x0101000f
	debuggableString       = "debuggable"
	androidNamespaceString = "http://schemas.android.com/apk/res/android"
	applicationString      = "application"

	stringRefNone = 0xFFFFFFFF

	attrTypeReference = 0x01
	attrTypeString    = 0x03
	attrTypeFloat     = 0x04
	attrTypeIntDec    = 0x10
	attrTypeIntHex    = 0x11
	attrTypeIntBool   = 0x12
)

// chunkRecord is the scanner's view of one top-level chunk: where it starts
// in the buffer and the three fields every chunk begins with.
type chunkRecord struct {
	typ         uint16
	headerSize  uint16
	chunkSize   uint32
	startOffset int
}

func (c chunkRecord) end() int { return c.startOffset + int(c.chunkSize) }

// dataStart is where this chunk's payload begins, i.e. right after its
// full headerSize-byte header: for the string pool that is past its count
// and offset fields (at its offset table), and for XML node chunks it is
// past lineNumber and comment, since those are folded into headerSize.
func (c chunkRecord) dataStart() int { return c.startOffset + int(c.headerSize) }

func readCommonHeader(buf []byte, offset int) (chunkRecord, error) {
	if offset+commonHeaderSize > len(buf) {
		return chunkRecord{}, fmt.Errorf("%w: truncated common header at offset 0x%x", ErrMalformedChunk, offset)
	}
	c := chunkRecord{
		typ:         binary.LittleEndian.Uint16(buf[offset : offset+2]),
		headerSize:  binary.LittleEndian.Uint16(buf[offset+2 : offset+4]),
		chunkSize:   binary.LittleEndian.Uint32(buf[offset+4 : offset+8]),
		startOffset: offset,
	}
	if int(c.chunkSize) < int(c.headerSize) {
		return chunkRecord{}, fmt.Errorf("%w: chunkSize %d smaller than headerSize %d at offset 0x%x", ErrMalformedChunk, c.chunkSize, c.headerSize, offset)
	}
	if c.end() > len(buf) {
		return chunkRecord{}, fmt.Errorf("%w: chunk at offset 0x%x of size %d runs past end of stream", ErrMalformedChunk, offset, c.chunkSize)
	}
	return c, nil
}

// scanChunks walks the top-level chunk sequence starting at offset, up to
// end (exclusive), returning one record per chunk. A trailing fragment
// shorter than a common header is discarded with a logged warning, not an
// error: some manifests in the wild carry a few stray bytes that Android
// itself ignores.
func scanChunks(buf []byte, offset, end int) ([]chunkRecord, error) {
	var chunks []chunkRecord
	for offset < end {
		if end-offset < commonHeaderSize {
			log.Printf("axmlpatch: discarding %d trailing byte(s) at offset 0x%x", end-offset, offset)
			break
		}
		c, err := readCommonHeader(buf, offset)
		if err != nil {
			return nil, err
		}
		if c.end() > end {
			return nil, fmt.Errorf("%w: chunk at offset 0x%x of size %d runs past enclosing chunk", ErrMalformedChunk, offset, c.chunkSize)
		}
		chunks = append(chunks, c)
		offset = c.end()
	}
	return chunks, nil
}

func readU32(buf []byte, offset int) uint32 {
	return binary.LittleEndian.Uint32(buf[offset : offset+4])
}

func readU16(buf []byte, offset int) uint16 {
	return binary.LittleEndian.Uint16(buf[offset : offset+2])
}

// shiftRef implements the single shift rule used everywhere a string
// reference is copied from input to output during the slow-path rebuild:
// a reference at or past the insertion index moves up by one, "none" stays
// "none", and anything before the insertion index is untouched.
func shiftRef(r, insertionIdx uint32) uint32 {
	if r == stringRefNone || r < insertionIdx {
		return r
	}
	return r + 1
}
