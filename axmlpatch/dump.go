package axmlpatch

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
)

// ManifestEncoder is anything that can receive a stream of xml.Tokens.
// xml.Encoder from encoding/xml satisfies it.
type ManifestEncoder interface {
	EncodeToken(t xml.Token) error
	Flush() error
}

// DumpManifest decodes an AXML document into a stream of xml.Tokens sent to
// enc, for inspection and debugging. It resolves every name and namespace
// through the string pool only; it does not resolve AttrTypeReference
// values against a resource table, since this module never parses
// resources.arsc, only the single well-known resource id inside a
// manifest's own resource map. Grounded on binxml.go's ParseXml, with the
// ResourceTable-backed value resolution and obfuscation workarounds
// dropped as out of scope.
func DumpManifest(r io.Reader, enc ManifestEncoder) error {
	buf, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	defer enc.Flush()

	fileHeader, err := readCommonHeader(buf, 0)
	if err != nil {
		return err
	}
	if fileHeader.headerSize != commonHeaderSize {
		return ErrMalformedHeader
	}

	chunks, err := scanChunks(buf, commonHeaderSize, len(buf))
	if err != nil {
		return err
	}

	var pool stringPool
	havePool := false
	for _, c := range chunks {
		if c.typ == chunkTypeStringPool {
			if havePool {
				return ErrMultipleStringPools
			}
			pool, err = decodeStringPool(buf, c)
			if err != nil {
				return err
			}
			havePool = true
		}
	}
	if !havePool {
		return ErrNoStringPool
	}

	for _, c := range chunks {
		switch c.typ {
		case chunkTypeXMLTagStart:
			if err := dumpTagStart(buf, c, pool, enc); err != nil {
				return fmt.Errorf("tag start at 0x%x: %w", c.startOffset, err)
			}
		case chunkTypeXMLTagEnd:
			if err := dumpTagEnd(buf, c, pool, enc); err != nil {
				return fmt.Errorf("tag end at 0x%x: %w", c.startOffset, err)
			}
		case chunkTypeXMLCData:
			if err := dumpCData(buf, c, pool, enc); err != nil {
				return fmt.Errorf("cdata at 0x%x: %w", c.startOffset, err)
			}
		}
	}

	return enc.Flush()
}

func dumpTagStart(buf []byte, c chunkRecord, pool stringPool, enc ManifestEncoder) error {
	nsRef := readU32(buf, c.dataStart())
	nameRef := readU32(buf, c.dataStart()+4)

	name, err := mustResolve(pool, buf, nameRef)
	if err != nil {
		return err
	}
	ns, _, err := pool.readString(buf, nsRef)
	if err != nil {
		return err
	}

	_, attrs, err := decodeAttributes(buf, c)
	if err != nil {
		return err
	}

	tok := xml.StartElement{Name: xml.Name{Local: name, Space: ns}}
	for _, a := range attrs {
		attrName, err := mustResolve(pool, buf, a.name)
		if err != nil {
			return err
		}
		attrNs, _, err := pool.readString(buf, a.ns)
		if err != nil {
			return err
		}
		value, err := dumpAttrValue(pool, buf, a)
		if err != nil {
			return err
		}
		tok.Attr = append(tok.Attr, xml.Attr{Name: xml.Name{Local: attrName, Space: attrNs}, Value: value})
	}

	return enc.EncodeToken(tok)
}

func dumpTagEnd(buf []byte, c chunkRecord, pool stringPool, enc ManifestEncoder) error {
	nsRef := readU32(buf, c.dataStart())
	nameRef := readU32(buf, c.dataStart()+4)

	name, err := mustResolve(pool, buf, nameRef)
	if err != nil {
		return err
	}
	ns, _, err := pool.readString(buf, nsRef)
	if err != nil {
		return err
	}

	return enc.EncodeToken(xml.EndElement{Name: xml.Name{Local: name, Space: ns}})
}

func dumpCData(buf []byte, c chunkRecord, pool stringPool, enc ManifestEncoder) error {
	dataRef := readU32(buf, c.dataStart())
	text, err := mustResolve(pool, buf, dataRef)
	if err != nil {
		return err
	}
	return enc.EncodeToken(xml.CharData(text))
}

func mustResolve(pool stringPool, buf []byte, idx uint32) (string, error) {
	s, ok, err := pool.readString(buf, idx)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: string index %d not resolvable", ErrMalformedString, idx)
	}
	return s, nil
}

func dumpAttrValue(pool stringPool, buf []byte, a attribute) (string, error) {
	switch a.dataType {
	case attrTypeString:
		return mustResolve(pool, buf, a.rawValue)
	case attrTypeIntBool:
		return strconv.FormatBool(a.data != 0), nil
	case attrTypeIntHex:
		return fmt.Sprintf("0x%x", a.data), nil
	case attrTypeIntDec:
		return strconv.FormatInt(int64(int32(a.data)), 10), nil
	case attrTypeReference:
		return fmt.Sprintf("@%x", a.data), nil
	default:
		return strconv.FormatInt(int64(int32(a.data)), 10), nil
	}
}
