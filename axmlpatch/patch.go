package axmlpatch

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// PatchManifest reads an AXML-encoded AndroidManifest.xml from r and writes
// a version with android:debuggable="true" set on its <application>
// element to w. If the manifest already has a debuggable attribute (matched
// by name and resource id), the fast path overwrites only its data word and
// leaves its type byte as it is; for an already-true boolean attribute the
// output is byte-identical to the input.
func PatchManifest(r io.Reader, w io.Writer) error {
	buf, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("axmlpatch: reading input: %w", err)
	}

	out, err := patch(buf)
	if err != nil {
		return err
	}

	_, err = w.Write(out)
	return err
}

// PatchManifestFile is the file-backed convenience form of PatchManifest.
func PatchManifestFile(pathIn, pathOut string) error {
	in, err := os.Open(pathIn)
	if err != nil {
		return err
	}
	defer in.Close()

	var buf bytes.Buffer
	if err := PatchManifest(in, &buf); err != nil {
		return err
	}

	out, err := os.Create(pathOut)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = out.Write(buf.Bytes())
	return err
}

// manifestChunks groups the decoded top-level chunk records the patcher
// cares about, plus their position in the top-level chunk slice.
type manifestChunks struct {
	all            []chunkRecord
	fileHeader     chunkRecord
	stringPoolIdx  int
	resourceMapIdx int // -1 when absent
	applicationIdx int
}

// looksLikePlainTextXML checks the first common-header-sized slice of the
// input for an XML prolog or manifest tag, the two prefixes a hand-edited
// or tool-mangled plaintext manifest is likely to start with.
func looksLikePlainTextXML(buf []byte) bool {
	if len(buf) < commonHeaderSize {
		return false
	}
	head := string(buf[:commonHeaderSize])
	return len(head) > 0 && head[0] == '<' &&
		(hasPrefix(head, "<?xml ") || hasPrefix(head, "<manif"))
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func scanManifest(buf []byte) (manifestChunks, stringPool, resourceMap, error) {
	if looksLikePlainTextXML(buf) {
		return manifestChunks{}, stringPool{}, resourceMap{}, ErrPlainTextManifest
	}

	fileHeader, err := readCommonHeader(buf, 0)
	if err != nil {
		return manifestChunks{}, stringPool{}, resourceMap{}, err
	}
	if fileHeader.headerSize != commonHeaderSize {
		return manifestChunks{}, stringPool{}, resourceMap{}, ErrMalformedHeader
	}

	chunks, err := scanChunks(buf, commonHeaderSize, len(buf))
	if err != nil {
		return manifestChunks{}, stringPool{}, resourceMap{}, err
	}

	m := manifestChunks{all: chunks, fileHeader: fileHeader, stringPoolIdx: -1, resourceMapIdx: -1, applicationIdx: -1}

	for i, c := range chunks {
		switch c.typ {
		case chunkTypeStringPool:
			if m.stringPoolIdx >= 0 {
				return manifestChunks{}, stringPool{}, resourceMap{}, ErrMultipleStringPools
			}
			m.stringPoolIdx = i
		case chunkTypeResourceMap:
			if m.resourceMapIdx >= 0 {
				return manifestChunks{}, stringPool{}, resourceMap{}, ErrMultipleResourceMaps
			}
			m.resourceMapIdx = i
		}
	}
	if m.stringPoolIdx < 0 {
		return manifestChunks{}, stringPool{}, resourceMap{}, ErrNoStringPool
	}

	pool, err := decodeStringPool(buf, chunks[m.stringPoolIdx])
	if err != nil {
		return manifestChunks{}, stringPool{}, resourceMap{}, err
	}

	var resmap resourceMap
	if m.resourceMapIdx >= 0 {
		resmap = decodeResourceMap(chunks[m.resourceMapIdx])
	}

	appChunk, err := findApplication(buf, chunks, pool)
	if err != nil {
		return manifestChunks{}, stringPool{}, resourceMap{}, err
	}
	for i, c := range chunks {
		if c.startOffset == appChunk.startOffset {
			m.applicationIdx = i
			break
		}
	}

	return m, pool, resmap, nil
}

func patch(buf []byte) ([]byte, error) {
	m, pool, resmap, err := scanManifest(buf)
	if err != nil {
		return nil, err
	}

	appChunk := m.all[m.applicationIdx]
	h, attrs, err := decodeAttributes(buf, appChunk)
	if err != nil {
		return nil, err
	}

	if idx, found, err := findDebuggableAttribute(buf, attrs, pool, resmap); err != nil {
		return nil, err
	} else if found {
		return fastPatch(buf, attrs[idx]), nil
	}

	return slowPatch(buf, m, pool, resmap, appChunk, h, attrs)
}

// fastPatch overwrites the data word of an already-present debuggable
// attribute in place; the file's size and every other byte are unchanged.
func fastPatch(buf []byte, a attribute) []byte {
	out := make([]byte, 0, len(buf))
	out = append(out, buf[:a.startOffset+16]...)
	out = append(out, 0xFF, 0xFF, 0xFF, 0xFF)
	out = append(out, buf[a.startOffset+20:]...)
	return out
}

func slowPatch(buf []byte, m manifestChunks, pool stringPool, resmap resourceMap, appChunk chunkRecord, h attributeBlockHeader, attrs []attribute) ([]byte, error) {
	insertionIdx := resmap.length // resmap.length is 0 for an absent map, matching the "no resource map" contract

	androidNsOriginal, found, err := pool.findIndex(buf, androidNamespaceString)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNoAndroidNamespace
	}
	androidNsIdx := shiftRef(androidNsOriginal, insertionIdx)

	sizeIncrement := debuggableStringEntryLength(pool.isUTF8) + 4 + 4 + attributeSize
	if m.resourceMapIdx < 0 {
		sizeIncrement += commonHeaderSize
	}

	var out bytes.Buffer
	out.Grow(len(buf) + int(sizeIncrement))

	writeU16(&out, m.fileHeader.typ)
	writeU16(&out, m.fileHeader.headerSize)
	writeU32(&out, m.fileHeader.chunkSize+sizeIncrement)

	for i, c := range m.all {
		switch {
		case i == m.stringPoolIdx:
			if err := rewriteStringPool(buf, pool, insertionIdx, &out); err != nil {
				return nil, err
			}
			if m.resourceMapIdx < 0 {
				synthesizeResourceMap(&out)
			}
		case i == m.resourceMapIdx:
			rewriteResourceMap(buf, resmap, &out)
		case i == m.applicationIdx:
			rewriteApplicationElement(buf, appChunk, h, attrs, resmap, insertionIdx, androidNsIdx, &out)
		default:
			rewriteChunk(buf, c, insertionIdx, &out)
		}
	}

	return out.Bytes(), nil
}
