// Package axmlpatch implements the chunk-level surgery needed to make an
// Android binary XML manifest carry android:debuggable="true" on its
// <application> element, without disturbing anything else in the file.
package axmlpatch

import "errors"

// Sentinel error kinds. Wrap these with fmt.Errorf("...: %w", Err...) so
// callers can still errors.Is against them while getting a message that
// names the offending chunk type or byte offset.
var (
	ErrMalformedHeader        = errors.New("axmlpatch: file header is not 8 bytes")
	ErrMalformedChunk         = errors.New("axmlpatch: malformed chunk header")
	ErrMalformedString        = errors.New("axmlpatch: malformed string pool entry")
	ErrMultipleStringPools    = errors.New("axmlpatch: more than one string pool chunk")
	ErrMultipleResourceMaps   = errors.New("axmlpatch: more than one resource map chunk")
	ErrNoStringPool           = errors.New("axmlpatch: no string pool chunk found")
	ErrNoApplication          = errors.New("axmlpatch: no <application> element found")
	ErrDuplicateApplication   = errors.New("axmlpatch: more than one <application> element found")
	ErrUnexpectedAttributeSize = errors.New("axmlpatch: attribute record is not 20 bytes")
	ErrNoAndroidNamespace     = errors.New("axmlpatch: android namespace string not found in pool")

	// ErrPlainTextManifest is returned when the input looks like a
	// plaintext XML manifest rather than the compiled binary form a real
	// APK carries. Some malformed or hand-crafted samples in the wild
	// ship one; Android itself would reject such an APK, but callers
	// benefit from a clear diagnosis rather than a confusing parse error.
	ErrPlainTextManifest = errors.New("axmlpatch: manifest is plaintext XML, binary form expected")
)
