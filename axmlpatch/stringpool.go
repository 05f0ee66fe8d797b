package axmlpatch

import (
	"bytes"
	"fmt"
	"unicode/utf16"
	"unicode/utf8"
)

const (
	stringPoolFlagSorted = 0x00000001
	stringPoolFlagUTF8   = 0x00000100
)

// stringPool is the decoded view of the single string-pool chunk. Grounded
// on stringtable.go's stringTable type, generalized with the header fields
// the slow path needs to rebuild the chunk (stringsStart, stylesStart,
// styleCount) rather than just the ones needed to read strings back out.
type stringPool struct {
	chunk        chunkRecord
	stringCount  uint32
	styleCount   uint32
	flags        uint32
	stringsStart uint32
	stylesStart  uint32
	isUTF8       bool
}

func decodeStringPool(buf []byte, c chunkRecord) (stringPool, error) {
	o := c.startOffset + commonHeaderSize
	if o+20 > len(buf) {
		return stringPool{}, fmt.Errorf("%w: truncated string pool header", ErrMalformedChunk)
	}
	p := stringPool{
		chunk:        c,
		stringCount:  readU32(buf, o),
		styleCount:   readU32(buf, o+4),
		flags:        readU32(buf, o+8),
		stringsStart: readU32(buf, o+12),
		stylesStart:  readU32(buf, o+16),
	}
	p.isUTF8 = p.flags&stringPoolFlagUTF8 != 0
	return p, nil
}

// offsetTableEntry returns the raw (pre-resolution) blob offset stored in
// the string pool's offset table at index idx.
func (p *stringPool) offsetTableEntry(buf []byte, idx uint32) uint32 {
	o := p.chunk.dataStart() + int(idx)*4
	return readU32(buf, o)
}

// readString resolves a string-pool index to its decoded text. It returns
// ok == false, not an error, for the "no reference" sentinel or an
// out-of-range index -- only a corrupt length/terminator inside an
// in-range string is fatal.
func (p *stringPool) readString(buf []byte, idx uint32) (string, bool, error) {
	if idx == stringRefNone || idx >= p.stringCount {
		return "", false, nil
	}
	relOffset := p.offsetTableEntry(buf, idx)
	absOffset := p.chunk.startOffset + int(p.stringsStart) + int(relOffset)
	if absOffset < 0 || absOffset >= p.chunk.end() {
		return "", false, fmt.Errorf("%w: string %d offset out of bounds", ErrMalformedString, idx)
	}

	var s string
	var err error
	if p.isUTF8 {
		s, _, err = decodeString8(buf[absOffset:p.chunk.end()])
	} else {
		s, _, err = decodeString16(buf[absOffset:p.chunk.end()])
	}
	if err != nil {
		return "", false, err
	}
	return s, true, nil
}

// findIndex returns the string-pool index whose decoded content equals
// literal, scanning in index order.
func (p *stringPool) findIndex(buf []byte, literal string) (uint32, bool, error) {
	for i := uint32(0); i < p.stringCount; i++ {
		s, ok, err := p.readString(buf, i)
		if err != nil {
			return 0, false, err
		}
		if ok && s == literal {
			return i, true, nil
		}
	}
	return 0, false, nil
}

// decodeLength reads the shared length-prefix encoding: one unit (a byte
// for UTF-8, a uint16 for UTF-16); if its high bit is set, a second unit
// follows and the two combine into a wider length. Returns the decoded
// length and the number of bytes consumed.
func decodeLength(data []byte, unitBytes int) (length uint32, consumed int, err error) {
	if unitBytes == 1 {
		if len(data) < 1 {
			return 0, 0, fmt.Errorf("%w: truncated length prefix", ErrMalformedString)
		}
		first := data[0]
		if first&0x80 != 0 {
			if len(data) < 2 {
				return 0, 0, fmt.Errorf("%w: truncated extended length prefix", ErrMalformedString)
			}
			return (uint32(first&0x7F) << 8) | uint32(data[1]), 2, nil
		}
		return uint32(first), 1, nil
	}

	if len(data) < 2 {
		return 0, 0, fmt.Errorf("%w: truncated length prefix", ErrMalformedString)
	}
	first := uint16(data[0]) | uint16(data[1])<<8
	if first&0x8000 != 0 {
		if len(data) < 4 {
			return 0, 0, fmt.Errorf("%w: truncated extended length prefix", ErrMalformedString)
		}
		second := uint16(data[2]) | uint16(data[3])<<8
		return (uint32(first&0x7FFF) << 16) | uint32(second), 4, nil
	}
	return uint32(first), 2, nil
}

// decodeString16 decodes a UTF-16LE length-prefixed, NUL-terminated string
// starting at data[0].
func decodeString16(data []byte) (string, int, error) {
	charCount, n, err := decodeLength(data, 2)
	if err != nil {
		return "", 0, err
	}
	start := n
	end := start + int(charCount)*2
	if end+2 > len(data) {
		return "", 0, fmt.Errorf("%w: string runs past chunk end", ErrMalformedString)
	}
	units := make([]uint16, charCount)
	for i := range units {
		units[i] = uint16(data[start+2*i]) | uint16(data[start+2*i+1])<<8
	}
	if data[end] != 0 || data[end+1] != 0 {
		return "", 0, fmt.Errorf("%w: string not NUL-terminated", ErrMalformedString)
	}
	return string(utf16.Decode(units)), end + 2, nil
}

// decodeString8 decodes a UTF-8 string with its UTF-16-unit length, its
// byte length, and an 8-bit NUL terminator.
func decodeString8(data []byte) (string, int, error) {
	_, n1, err := decodeLength(data, 1) // UTF-16 char count, unused beyond validation
	if err != nil {
		return "", 0, err
	}
	byteLen, n2, err := decodeLength(data[n1:], 1)
	if err != nil {
		return "", 0, err
	}
	start := n1 + n2
	end := start + int(byteLen)
	if end+1 > len(data) {
		return "", 0, fmt.Errorf("%w: string runs past chunk end", ErrMalformedString)
	}
	if data[end] != 0 {
		return "", 0, fmt.Errorf("%w: string not NUL-terminated", ErrMalformedString)
	}
	str := string(data[start:end])
	if !utf8.ValidString(str) {
		return "", 0, fmt.Errorf("%w: invalid utf-8 content", ErrMalformedString)
	}
	return str, end + 1, nil
}

// encodeDebuggableStringEntry returns the length-prefixed, NUL-terminated
// bytes for the literal "debuggable" in the given encoding: 13 bytes for
// UTF-8 (two length bytes, ten characters, NUL) and 24 bytes for UTF-16
// (one length unit, ten units, NUL unit).
func encodeDebuggableStringEntry(isUTF8 bool) []byte {
	if isUTF8 {
		b := []byte{byte(len(debuggableString)), byte(len(debuggableString))}
		b = append(b, []byte(debuggableString)...)
		b = append(b, 0)
		return b
	}

	var buf bytes.Buffer
	runes := utf16.Encode([]rune(debuggableString))
	writeU16(&buf, uint16(len(runes)))
	for _, r := range runes {
		writeU16(&buf, r)
	}
	writeU16(&buf, 0)
	return buf.Bytes()
}

func debuggableStringEntryLength(isUTF8 bool) uint32 {
	if isUTF8 {
		return uint32(2 + len(debuggableString) + 1)
	}
	return uint32(2 + len(debuggableString)*2 + 2)
}

func writeU16(buf *bytes.Buffer, v uint16) {
	buf.WriteByte(byte(v))
	buf.WriteByte(byte(v >> 8))
}

func writeU32(buf *bytes.Buffer, v uint32) {
	buf.WriteByte(byte(v))
	buf.WriteByte(byte(v >> 8))
	buf.WriteByte(byte(v >> 16))
	buf.WriteByte(byte(v >> 24))
}

// rewriteStringPool emits the enlarged string pool chunk with a new
// "debuggable" entry inserted at insertionIdx, shifting every offset-table
// entry and style name reference that comes after it. Grounded on
// makeDebuggable.py's patchStringPool.
func rewriteStringPool(buf []byte, p stringPool, insertionIdx uint32, out *bytes.Buffer) error {
	if insertionIdx >= p.stringCount {
		return fmt.Errorf("%w: debuggable insertion index %d is not less than string count %d", ErrMalformedChunk, insertionIdx, p.stringCount)
	}
	debugLen := debuggableStringEntryLength(p.isUTF8)

	newStringsStart := p.stringsStart + 4
	var newStylesStart uint32
	if p.styleCount > 0 {
		newStylesStart = p.stylesStart + 4 + debugLen
	}
	newChunkSize := p.chunk.chunkSize + debugLen + 4

	writeU16(out, p.chunk.typ)
	writeU16(out, p.chunk.headerSize)
	writeU32(out, newChunkSize)
	writeU32(out, p.stringCount+1)
	writeU32(out, p.styleCount)
	writeU32(out, p.flags)
	writeU32(out, newStringsStart)
	writeU32(out, newStylesStart)

	offsetTableStart := p.chunk.dataStart()
	// offsets [0, insertionIdx) are unchanged
	out.Write(buf[offsetTableStart : offsetTableStart+int(insertionIdx)*4])

	insertionStringOffset := readU32(buf, offsetTableStart+int(insertionIdx)*4)
	writeU32(out, insertionStringOffset)
	writeU32(out, insertionStringOffset+debugLen)

	// remaining original offsets, shifted past the inserted string's bytes
	for i := insertionIdx + 1; i < p.stringCount; i++ {
		writeU32(out, readU32(buf, offsetTableStart+int(i)*4)+debugLen)
	}

	pos := offsetTableStart + int(p.stringCount)*4

	if p.styleCount > 0 {
		out.Write(buf[pos : pos+int(p.styleCount)*4])
		pos += int(p.styleCount) * 4
	}

	// padding, if any, up to the start of the string blob
	stringsBlobStart := p.chunk.startOffset + int(p.stringsStart)
	out.Write(buf[pos:stringsBlobStart])

	out.Write(buf[stringsBlobStart : stringsBlobStart+int(insertionStringOffset)])
	out.Write(encodeDebuggableStringEntry(p.isUTF8))

	afterInsertion := stringsBlobStart + int(insertionStringOffset)

	if p.styleCount > 0 {
		styleBlobStart := p.chunk.startOffset + int(p.stylesStart)
		out.Write(buf[afterInsertion:styleBlobStart])

		for o := styleBlobStart; o < p.chunk.end(); o += 12 {
			name := readU32(buf, o)
			firstChar := readU32(buf, o+4)
			lastChar := readU32(buf, o+8)
			if name != stringRefNone && name >= insertionIdx {
				name++
			}
			writeU32(out, name)
			writeU32(out, firstChar)
			writeU32(out, lastChar)
		}
		return nil
	}

	out.Write(buf[afterInsertion:p.chunk.end()])
	return nil
}
