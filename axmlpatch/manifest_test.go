package axmlpatch

import (
	"bytes"
	"encoding/binary"
	"encoding/xml"
	"testing"
)

// manifestBuilder assembles a minimal but structurally valid AXML manifest
// byte-for-byte, so tests exercise the real chunk layout rather than a
// simplified stand-in. Strings are ASCII-only, which keeps UTF-8 and
// UTF-16 encodings symmetric for the purposes of these fixtures.
type manifestBuilder struct {
	strings    []string
	utf8       bool
	resourceIDs []uint32 // parallel to strings; 0 means "no id for this string"
	withResMap  bool
	appAttrs    []builderAttr
}

type builderAttr struct {
	nsStr, nameStr, valueStr string
	dataType                 uint8
	data                     uint32
}

func le16(v uint16) []byte { b := make([]byte, 2); binary.LittleEndian.PutUint16(b, v); return b }
func le32(v uint32) []byte { b := make([]byte, 4); binary.LittleEndian.PutUint32(b, v); return b }

func encodeStr8(s string) []byte {
	b := []byte{byte(len(s)), byte(len(s))}
	b = append(b, []byte(s)...)
	return append(b, 0)
}

func encodeStr16(s string) []byte {
	var buf bytes.Buffer
	buf.Write(le16(uint16(len(s))))
	for _, r := range s {
		buf.Write(le16(uint16(r)))
	}
	buf.Write(le16(0))
	return buf.Bytes()
}

func (b *manifestBuilder) stringIndex(s string) uint32 {
	for i, existing := range b.strings {
		if existing == s {
			return uint32(i)
		}
	}
	b.strings = append(b.strings, s)
	b.resourceIDs = append(b.resourceIDs, 0)
	return uint32(len(b.strings) - 1)
}

// assemble performs the actual final byte layout once every string any
// element needs has been registered via stringIndex.
func (b *manifestBuilder) assemble(attrsBytes []byte) []byte {
	var offsets []uint32
	var blob bytes.Buffer
	for _, s := range b.strings {
		offsets = append(offsets, uint32(blob.Len()))
		if b.utf8 {
			blob.Write(encodeStr8(s))
		} else {
			blob.Write(encodeStr16(s))
		}
	}

	headerSize := uint16(28)
	stringsStart := uint32(headerSize) + uint32(len(b.strings))*4
	var flags uint32
	if b.utf8 {
		flags = stringPoolFlagUTF8
	}

	var pool bytes.Buffer
	pool.Write(le16(chunkTypeStringPool))
	pool.Write(le16(headerSize))
	chunkSize := uint32(headerSize) + uint32(len(b.strings))*4 + uint32(blob.Len())
	pool.Write(le32(chunkSize))
	pool.Write(le32(uint32(len(b.strings))))
	pool.Write(le32(0))
	pool.Write(le32(flags))
	pool.Write(le32(stringsStart))
	pool.Write(le32(0))
	for _, o := range offsets {
		pool.Write(le32(o))
	}
	pool.Write(blob.Bytes())

	var resmap bytes.Buffer
	if b.withResMap {
		maxIdx := -1
		for i, id := range b.resourceIDs {
			if id != 0 {
				maxIdx = i
			}
		}
		count := maxIdx + 1
		if count > 0 {
			resmap.Write(le16(chunkTypeResourceMap))
			resmap.Write(le16(commonHeaderSize))
			resmap.Write(le32(uint32(commonHeaderSize + count*4)))
			for i := 0; i < count; i++ {
				resmap.Write(le32(b.resourceIDs[i]))
			}
		}
	}

	nameIdx := b.stringIndex("application")
	var app bytes.Buffer
	nodeHeader := uint16(16)
	app.Write(le16(chunkTypeXMLTagStart))
	app.Write(le16(nodeHeader))
	appBodySize := uint32(4 + 4 + 12 + len(attrsBytes)) // ns, name, attribute block header, attributes
	app.Write(le32(uint32(nodeHeader) + appBodySize))
	app.Write(le32(0))              // lineNumber
	app.Write(le32(stringRefNone))  // comment
	app.Write(le32(stringRefNone))  // ns
	app.Write(le32(nameIdx))        // name
	app.Write(le16(20))             // attributeStart
	app.Write(le16(attributeSize))  // attributeSize
	app.Write(le16(uint16(len(attrsBytes) / attributeSize))) // attributeCount
	app.Write(le16(0)) // idIndex
	app.Write(le16(0)) // classIndex
	app.Write(le16(0)) // styleIndex
	app.Write(attrsBytes)

	var end bytes.Buffer
	end.Write(le16(chunkTypeXMLTagEnd))
	end.Write(le16(nodeHeader))
	end.Write(le32(uint32(nodeHeader) + 8))
	end.Write(le32(0))
	end.Write(le32(stringRefNone))
	end.Write(le32(stringRefNone)) // ns
	end.Write(le32(nameIdx))       // name

	var body bytes.Buffer
	body.Write(pool.Bytes())
	body.Write(resmap.Bytes())
	body.Write(app.Bytes())
	body.Write(end.Bytes())

	var out bytes.Buffer
	out.Write(le16(chunkTypeXMLFile))
	out.Write(le16(commonHeaderSize))
	out.Write(le32(uint32(commonHeaderSize + body.Len())))
	out.Write(body.Bytes())
	return out.Bytes()
}

func newManifest(utf8, withResMap bool, attrs ...builderAttr) []byte {
	b := &manifestBuilder{utf8: utf8, withResMap: withResMap, appAttrs: attrs}
	// pre-register androidNamespaceString so findIndex in the slow path
	// always succeeds; real manifests always carry it.
	b.stringIndex(androidNamespaceString)
	for _, a := range attrs {
		if a.nsStr != "" {
			b.stringIndex(a.nsStr)
		}
		b.stringIndex(a.nameStr)
		if a.dataType == attrTypeString {
			b.stringIndex(a.valueStr)
		}
	}
	b.stringIndex("application")
	return b.assemble(encodeAttrs(b, attrs))
}

func encodeAttrs(b *manifestBuilder, attrs []builderAttr) []byte {
	var buf bytes.Buffer
	for _, a := range attrs {
		nsIdx := uint32(stringRefNone)
		if a.nsStr != "" {
			nsIdx = b.stringIndex(a.nsStr)
		}
		nameIdx := b.stringIndex(a.nameStr)
		valueIdx := uint32(stringRefNone)
		data := a.data
		if a.dataType == attrTypeString {
			valueIdx = b.stringIndex(a.valueStr)
			data = valueIdx
		}
		buf.Write(le32(nsIdx))
		buf.Write(le32(nameIdx))
		buf.Write(le32(valueIdx))
		buf.Write(le16(8)) // typed value size
		buf.WriteByte(0)
		buf.WriteByte(a.dataType)
		buf.Write(le32(data))
	}
	return buf.Bytes()
}

func TestPatchInsertsDebuggableWithoutResourceMap(t *testing.T) {
	in := newManifest(true, false, builderAttr{
		nsStr: androidNamespaceString, nameStr: "label", dataType: attrTypeString, valueStr: "MyApp",
	})

	out, err := patch(in)
	if err != nil {
		t.Fatalf("patch: %v", err)
	}

	verifyPatched(t, out)
}

func TestPatchInsertsDebuggableWithResourceMap(t *testing.T) {
	b := &manifestBuilder{utf8: true, withResMap: true}
	b.stringIndex(androidNamespaceString) // no resource id of its own
	labelIdx := b.stringIndex("label")
	b.resourceIDs[labelIdx] = 0x01010001
	b.stringIndex("application")

	attrs := []builderAttr{{nsStr: androidNamespaceString, nameStr: "label", dataType: attrTypeString, valueStr: "MyApp"}}
	out, err := patch(b.assemble(encodeAttrs(b, attrs)))
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	verifyPatched(t, out)
}

func TestPatchIsIdempotentViaFastPath(t *testing.T) {
	in := newManifest(true, false)
	firstPass, err := patch(in)
	if err != nil {
		t.Fatalf("first patch: %v", err)
	}

	secondPass, err := patch(firstPass)
	if err != nil {
		t.Fatalf("second patch: %v", err)
	}

	if !bytes.Equal(firstPass, secondPass) {
		t.Fatalf("re-patching an already-patched manifest changed its bytes")
	}
}

func TestPatchUTF16StringPool(t *testing.T) {
	in := newManifest(false, false, builderAttr{
		nsStr: androidNamespaceString, nameStr: "label", dataType: attrTypeString, valueStr: "MyApp",
	})

	out, err := patch(in)
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	verifyPatched(t, out)
}

func TestPatchNoStringPoolIsFatal(t *testing.T) {
	var out bytes.Buffer
	out.Write(le16(chunkTypeXMLFile))
	out.Write(le16(commonHeaderSize))
	out.Write(le32(commonHeaderSize))

	if _, err := patch(out.Bytes()); err == nil {
		t.Fatalf("expected an error for a manifest with no string pool")
	}
}

type capturingEncoder struct{ tokens []xml.Token }

func (c *capturingEncoder) EncodeToken(t xml.Token) error {
	c.tokens = append(c.tokens, xml.CopyToken(t))
	return nil
}
func (c *capturingEncoder) Flush() error { return nil }

func TestDumpManifestEmitsApplicationElement(t *testing.T) {
	in := newManifest(true, false, builderAttr{
		nsStr: androidNamespaceString, nameStr: "label", dataType: attrTypeString, valueStr: "MyApp",
	})

	var enc capturingEncoder
	if err := DumpManifest(bytes.NewReader(in), &enc); err != nil {
		t.Fatalf("DumpManifest: %v", err)
	}

	var sawStart, sawEnd bool
	for _, tok := range enc.tokens {
		switch tt := tok.(type) {
		case xml.StartElement:
			if tt.Name.Local == "application" {
				sawStart = true
				if len(tt.Attr) != 1 || tt.Attr[0].Value != "MyApp" {
					t.Fatalf("unexpected attributes on <application>: %+v", tt.Attr)
				}
			}
		case xml.EndElement:
			if tt.Name.Local == "application" {
				sawEnd = true
			}
		}
	}
	if !sawStart || !sawEnd {
		t.Fatalf("expected a matched <application>...</application> pair, got %+v", enc.tokens)
	}
}

// TestPatchSortsDebuggableAmongExistingAttributes exercises the sorted
// splice in rewriteApplicationElement with more than one pre-existing
// attribute, resource ids straddling debuggableResID on both sides
// (0x01010001/0x01010020) and at its immediate boundary
// (0x0101000E/0x01010010).
func TestPatchSortsDebuggableAmongExistingAttributes(t *testing.T) {
	b := &manifestBuilder{utf8: true, withResMap: true}
	b.stringIndex(androidNamespaceString)
	aIdx := b.stringIndex("attrA")
	b.resourceIDs[aIdx] = 0x01010001
	bIdx := b.stringIndex("attrB")
	b.resourceIDs[bIdx] = 0x0101000E
	cIdx := b.stringIndex("attrC")
	b.resourceIDs[cIdx] = 0x01010010
	dIdx := b.stringIndex("attrD")
	b.resourceIDs[dIdx] = 0x01010020
	b.stringIndex("application")

	attrs := []builderAttr{
		{nsStr: androidNamespaceString, nameStr: "attrA", dataType: attrTypeIntDec, data: 1},
		{nsStr: androidNamespaceString, nameStr: "attrB", dataType: attrTypeIntDec, data: 2},
		{nsStr: androidNamespaceString, nameStr: "attrC", dataType: attrTypeIntDec, data: 3},
		{nsStr: androidNamespaceString, nameStr: "attrD", dataType: attrTypeIntDec, data: 4},
	}
	in := b.assemble(encodeAttrs(b, attrs))

	out, err := patch(in)
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	verifyPatched(t, out)

	m, pool, _, err := scanManifest(out)
	if err != nil {
		t.Fatalf("scanning patched output: %v", err)
	}
	_, newAttrs, err := decodeAttributes(out, m.all[m.applicationIdx])
	if err != nil {
		t.Fatalf("decoding attributes: %v", err)
	}

	want := []string{"attrA", "attrB", debuggableString, "attrC", "attrD"}
	if len(newAttrs) != len(want) {
		t.Fatalf("expected %d attributes, got %d", len(want), len(newAttrs))
	}
	for i, a := range newAttrs {
		name, ok, err := pool.readString(out, a.name)
		if err != nil {
			t.Fatalf("resolving attribute %d name: %v", i, err)
		}
		if !ok || name != want[i] {
			t.Fatalf("attribute %d: want %q, got %q", i, want[i], name)
		}
	}
}

// TestPatchInsertsFreshDebuggableStringEvenIfAlreadyPresent covers the case
// where "debuggable" is already a string in the pool but no attribute
// references it: patching must still insert a new pool entry rather than
// repoint an existing attribute at the pre-existing one.
func TestPatchInsertsFreshDebuggableStringEvenIfAlreadyPresent(t *testing.T) {
	b := &manifestBuilder{utf8: true, withResMap: false}
	b.stringIndex(androidNamespaceString)
	b.stringIndex(debuggableString)
	b.stringIndex("application")

	in := b.assemble(encodeAttrs(b, nil))

	out, err := patch(in)
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	verifyPatched(t, out)

	_, pool, _, err := scanManifest(out)
	if err != nil {
		t.Fatalf("scanning patched output: %v", err)
	}
	count := 0
	for i := uint32(0); i < pool.stringCount; i++ {
		s, ok, err := pool.readString(out, i)
		if err != nil {
			t.Fatalf("reading string %d: %v", i, err)
		}
		if ok && s == debuggableString {
			count++
		}
	}
	if count != 2 {
		t.Fatalf("expected two %q entries in the pool after patch, got %d", debuggableString, count)
	}
}

// TestPatchTreatsWrongResourceIDDebuggableAttributeAsAbsent covers an
// <application> attribute literally named "debuggable" whose name resolves
// to a resource id other than debuggableResID: findDebuggableAttribute must
// treat it as absent and the slow path must insert a second, correct one
// rather than editing the bogus attribute in place.
func TestPatchTreatsWrongResourceIDDebuggableAttributeAsAbsent(t *testing.T) {
	b := &manifestBuilder{utf8: true, withResMap: true}
	b.stringIndex(androidNamespaceString)
	bogusIdx := b.stringIndex(debuggableString)
	b.resourceIDs[bogusIdx] = 0x01010099 // a real-looking but wrong id
	b.stringIndex("application")

	attrs := []builderAttr{
		{nsStr: androidNamespaceString, nameStr: debuggableString, dataType: attrTypeIntBool, data: 0},
	}
	in := b.assemble(encodeAttrs(b, attrs))

	out, err := patch(in)
	if err != nil {
		t.Fatalf("patch: %v", err)
	}

	m, pool, resmap, err := scanManifest(out)
	if err != nil {
		t.Fatalf("scanning patched output: %v", err)
	}
	_, newAttrs, err := decodeAttributes(out, m.all[m.applicationIdx])
	if err != nil {
		t.Fatalf("decoding attributes: %v", err)
	}
	if len(newAttrs) != 2 {
		t.Fatalf("expected the bogus attribute to survive alongside a freshly inserted one, got %d attributes", len(newAttrs))
	}

	idx, found, err := findDebuggableAttribute(out, newAttrs, pool, resmap)
	if err != nil {
		t.Fatalf("findDebuggableAttribute: %v", err)
	}
	if !found {
		t.Fatalf("patched manifest has no attribute resolving to the debuggable resource id")
	}
	if newAttrs[idx].dataType != attrTypeIntBool || newAttrs[idx].data != 0xFFFFFFFF {
		t.Fatalf("debuggable attribute is not a true boolean: %+v", newAttrs[idx])
	}
}

// TestPatchToleratesTrailingRemnant covers scanChunks' tolerance for a
// trailing fragment shorter than a common header, which some manifests in
// the wild carry after their last real chunk.
func TestPatchToleratesTrailingRemnant(t *testing.T) {
	for n := 1; n <= 7; n++ {
		in := newManifest(true, false, builderAttr{
			nsStr: androidNamespaceString, nameStr: "label", dataType: attrTypeString, valueStr: "MyApp",
		})
		in = append(in, bytes.Repeat([]byte{0xAB}, n)...)

		out, err := patch(in)
		if err != nil {
			t.Fatalf("patch with %d trailing bytes: %v", n, err)
		}
		verifyPatched(t, out)
	}
}

func TestPatchRejectsPlainTextManifest(t *testing.T) {
	plain := []byte(`<?xml version="1.0" encoding="utf-8" standalone="no"?>`)
	if _, err := patch(plain); err != ErrPlainTextManifest {
		t.Fatalf("expected ErrPlainTextManifest, got %v", err)
	}

	plain = []byte(`<manifest xmlns:android="http://schemas.android.com/apk/res/android">`)
	if _, err := patch(plain); err != ErrPlainTextManifest {
		t.Fatalf("expected ErrPlainTextManifest, got %v", err)
	}
}

// verifyPatched decodes the output from scratch and checks it carries a
// debuggable attribute whose name resolves via the resource map to the
// well-known id, and that re-scanning it does not error.
func verifyPatched(t *testing.T, out []byte) {
	t.Helper()

	m, pool, resmap, err := scanManifest(out)
	if err != nil {
		t.Fatalf("scanning patched output: %v", err)
	}
	appChunk := m.all[m.applicationIdx]
	_, attrs, err := decodeAttributes(out, appChunk)
	if err != nil {
		t.Fatalf("decoding attributes: %v", err)
	}

	idx, found, err := findDebuggableAttribute(out, attrs, pool, resmap)
	if err != nil {
		t.Fatalf("findDebuggableAttribute: %v", err)
	}
	if !found {
		t.Fatalf("patched manifest has no debuggable attribute")
	}
	if attrs[idx].dataType != attrTypeIntBool || attrs[idx].data != 0xFFFFFFFF {
		t.Fatalf("debuggable attribute is not a true boolean: %+v", attrs[idx])
	}
}
