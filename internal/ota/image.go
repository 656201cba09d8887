package ota

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/solatis/aadnode/internal/types"
)

// Application image layout: a 24 byte image header, then segments each
// prefixed by an 8 byte segment header. The first segment starts with the
// 256 byte application descriptor. After the last segment the image is zero
// padded so the XOR checksum byte ends a 16 byte block; an optional SHA-256
// of everything before it follows.
const (
	ImageMagic      = 0xE9
	DescriptorMagic = 0xABCD5432

	ImageHeaderSize   = 24
	SegmentHeaderSize = 8
	DescriptorSize    = 256
	DescriptorOffset  = ImageHeaderSize + SegmentHeaderSize
	// PrefixSize is how many leading bytes ParseDescriptor needs.
	PrefixSize = DescriptorOffset + DescriptorSize

	checksumSeed      = 0xEF
	hashAppendedIndex = 23
	maxSegments       = 16
)

// AppDescriptor is the metadata embedded in an application image.
type AppDescriptor struct {
	SecureVersion uint32
	Version       string
	ProjectName   string
	Time          string
	Date          string
	IDFVersion    string
	ELFSHA256     [32]byte
}

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// ParseDescriptor decodes the image and application descriptor headers from
// the first PrefixSize bytes of an image.
func ParseDescriptor(prefix []byte) (AppDescriptor, error) {
	var d AppDescriptor
	if len(prefix) < PrefixSize {
		return d, fmt.Errorf("%w: need %d bytes, have %d", types.ErrImageHeader, PrefixSize, len(prefix))
	}
	if prefix[0] != ImageMagic {
		return d, fmt.Errorf("%w: image magic 0x%02x", types.ErrImageHeader, prefix[0])
	}
	b := prefix[DescriptorOffset:PrefixSize]
	if magic := binary.LittleEndian.Uint32(b[0:4]); magic != DescriptorMagic {
		return d, fmt.Errorf("%w: descriptor magic 0x%08x", types.ErrImageHeader, magic)
	}
	d.SecureVersion = binary.LittleEndian.Uint32(b[4:8])
	// 8..16 reserved
	d.Version = cstring(b[16:48])
	d.ProjectName = cstring(b[48:80])
	d.Time = cstring(b[80:96])
	d.Date = cstring(b[96:112])
	d.IDFVersion = cstring(b[112:144])
	copy(d.ELFSHA256[:], b[144:176])
	return d, nil
}

// EncodeDescriptor is the inverse of ParseDescriptor for the descriptor part.
func EncodeDescriptor(d AppDescriptor) []byte {
	b := make([]byte, DescriptorSize)
	binary.LittleEndian.PutUint32(b[0:4], DescriptorMagic)
	binary.LittleEndian.PutUint32(b[4:8], d.SecureVersion)
	copy(b[16:48], d.Version)
	copy(b[48:80], d.ProjectName)
	copy(b[80:96], d.Time)
	copy(b[96:112], d.Date)
	copy(b[112:144], d.IDFVersion)
	copy(b[144:176], d.ELFSHA256[:])
	return b
}

// ValidateImage walks the segments of a complete image, checks the XOR
// checksum and, when the header says so, the appended SHA-256. The image must
// end exactly after the trailer.
func ValidateImage(r io.ReaderAt, size int64) (AppDescriptor, error) {
	prefix := make([]byte, PrefixSize)
	if _, err := r.ReadAt(prefix, 0); err != nil {
		return AppDescriptor{}, fmt.Errorf("%w: %v", types.ErrImageInvalid, err)
	}
	desc, err := ParseDescriptor(prefix)
	if err != nil {
		return desc, fmt.Errorf("%w: %v", types.ErrImageInvalid, err)
	}

	segments := int(prefix[1])
	if segments == 0 || segments > maxSegments {
		return desc, fmt.Errorf("%w: segment count %d", types.ErrImageInvalid, segments)
	}

	checksum := byte(checksumSeed)
	off := int64(ImageHeaderSize)
	hdr := make([]byte, SegmentHeaderSize)
	for i := 0; i < segments; i++ {
		if _, err := r.ReadAt(hdr, off); err != nil {
			return desc, fmt.Errorf("%w: segment %d header: %v", types.ErrImageInvalid, i, err)
		}
		n := int64(binary.LittleEndian.Uint32(hdr[4:8]))
		off += SegmentHeaderSize
		if off+n > size {
			return desc, fmt.Errorf("%w: segment %d overruns image", types.ErrImageInvalid, i)
		}
		data := make([]byte, n)
		if _, err := r.ReadAt(data, off); err != nil {
			return desc, fmt.Errorf("%w: segment %d: %v", types.ErrImageInvalid, i, err)
		}
		for _, c := range data {
			checksum ^= c
		}
		off += n
	}

	sumAt := off + 15 - off%16
	end := sumAt + 1
	hashed := prefix[hashAppendedIndex] == 1
	if hashed {
		end += sha256.Size
	}
	if end != size {
		return desc, fmt.Errorf("%w: image is %d bytes, layout needs %d", types.ErrImageInvalid, size, end)
	}

	var got [1]byte
	if _, err := r.ReadAt(got[:], sumAt); err != nil {
		return desc, fmt.Errorf("%w: checksum: %v", types.ErrImageInvalid, err)
	}
	if got[0] != checksum {
		return desc, fmt.Errorf("%w: checksum 0x%02x, computed 0x%02x", types.ErrImageInvalid, got[0], checksum)
	}

	if hashed {
		h := sha256.New()
		if _, err := io.Copy(h, io.NewSectionReader(r, 0, sumAt+1)); err != nil {
			return desc, fmt.Errorf("%w: hash: %v", types.ErrImageInvalid, err)
		}
		want := make([]byte, sha256.Size)
		if _, err := r.ReadAt(want, sumAt+1); err != nil {
			return desc, fmt.Errorf("%w: hash: %v", types.ErrImageInvalid, err)
		}
		if !bytes.Equal(h.Sum(nil), want) {
			return desc, fmt.Errorf("%w: SHA-256 mismatch", types.ErrImageInvalid)
		}
	}
	return desc, nil
}

// BuildImage assembles a single-segment image around desc and body, with the
// checksum and appended hash.
func BuildImage(desc AppDescriptor, body []byte) []byte {
	seg := append(EncodeDescriptor(desc), body...)

	var buf bytes.Buffer
	hdr := make([]byte, ImageHeaderSize)
	hdr[0] = ImageMagic
	hdr[1] = 1
	hdr[hashAppendedIndex] = 1
	buf.Write(hdr)

	sh := make([]byte, SegmentHeaderSize)
	binary.LittleEndian.PutUint32(sh[4:8], uint32(len(seg)))
	buf.Write(sh)
	buf.Write(seg)

	checksum := byte(checksumSeed)
	for _, c := range seg {
		checksum ^= c
	}
	for buf.Len()%16 != 15 {
		buf.WriteByte(0)
	}
	buf.WriteByte(checksum)

	sum := sha256.Sum256(buf.Bytes())
	buf.Write(sum[:])
	return buf.Bytes()
}
