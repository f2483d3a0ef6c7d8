package datetaken

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	maxHEIFMetaSize = 4 << 20
	maxHEIFExifSize = 4 << 20
)

var (
	errNoHEIFExif = errors.New("no EXIF item in HEIF container")
	errShortBox   = errors.New("truncated HEIF box")
)

type heifBox struct {
	typ  string
	data []byte
}

// heifExif returns the EXIF block stored as an item of a HEIF/HEIC file,
// positioned at its TIFF header so exif.Decode can read it.
func heifExif(r io.ReadSeeker) (io.Reader, error) {
	meta, err := readMetaBox(r)
	if err != nil {
		return nil, err
	}
	if len(meta) < 4 {
		return nil, errShortBox
	}
	children, err := childBoxes(meta[4:])
	if err != nil {
		return nil, err
	}

	var iinf, iloc []byte
	for _, b := range children {
		switch b.typ {
		case "iinf":
			iinf = b.data
		case "iloc":
			iloc = b.data
		}
	}
	if iinf == nil || iloc == nil {
		return nil, errNoHEIFExif
	}

	id, err := exifItemID(iinf)
	if err != nil {
		return nil, err
	}
	offset, length, err := itemLocation(iloc, id)
	if err != nil {
		return nil, err
	}
	if length < 4 || length > maxHEIFExifSize {
		return nil, fmt.Errorf("EXIF item length %d out of range", length)
	}

	if _, err := r.Seek(int64(offset), io.SeekStart); err != nil {
		return nil, err
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}

	// The item starts with the offset of the TIFF header past this field,
	// normally skipping an "Exif\0\0" prefix.
	skip := uint64(binary.BigEndian.Uint32(payload)) + 4
	if skip >= uint64(len(payload)) {
		return nil, errShortBox
	}
	return bytes.NewReader(payload[skip:]), nil
}

// readMetaBox scans the top-level boxes of r and returns the body of the
// meta box.
func readMetaBox(r io.ReadSeeker) ([]byte, error) {
	var hdr [16]byte
	for {
		if _, err := io.ReadFull(r, hdr[:8]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, errNoHEIFExif
			}
			return nil, err
		}
		size := uint64(binary.BigEndian.Uint32(hdr[:4]))
		typ := string(hdr[4:8])
		headerLen := uint64(8)
		if size == 1 {
			if _, err := io.ReadFull(r, hdr[8:16]); err != nil {
				return nil, err
			}
			size = binary.BigEndian.Uint64(hdr[8:16])
			headerLen = 16
		}

		if typ == "meta" {
			if size == 0 {
				data, err := io.ReadAll(io.LimitReader(r, maxHEIFMetaSize+1))
				if err != nil {
					return nil, err
				}
				if len(data) > maxHEIFMetaSize {
					return nil, fmt.Errorf("meta box larger than %d bytes", maxHEIFMetaSize)
				}
				return data, nil
			}
			if size < headerLen || size-headerLen > maxHEIFMetaSize {
				return nil, fmt.Errorf("meta box size %d out of range", size)
			}
			data := make([]byte, size-headerLen)
			if _, err := io.ReadFull(r, data); err != nil {
				return nil, err
			}
			return data, nil
		}

		// size 0 means the box runs to the end of the file
		if size == 0 {
			return nil, errNoHEIFExif
		}
		if size < headerLen || size-headerLen > 1<<62 {
			return nil, errShortBox
		}
		if _, err := r.Seek(int64(size-headerLen), io.SeekCurrent); err != nil {
			return nil, err
		}
	}
}

// childBoxes splits b into the boxes it contains.
func childBoxes(b []byte) ([]heifBox, error) {
	var out []heifBox
	for len(b) > 0 {
		if len(b) < 8 {
			return nil, errShortBox
		}
		size := uint64(binary.BigEndian.Uint32(b))
		typ := string(b[4:8])
		headerLen := uint64(8)
		switch size {
		case 0:
			size = uint64(len(b))
		case 1:
			if len(b) < 16 {
				return nil, errShortBox
			}
			size = binary.BigEndian.Uint64(b[8:])
			headerLen = 16
		}
		if size < headerLen || size > uint64(len(b)) {
			return nil, errShortBox
		}
		out = append(out, heifBox{typ: typ, data: b[headerLen:size]})
		b = b[size:]
	}
	return out, nil
}

// exifItemID finds the item of type "Exif" in an iinf box body.
func exifItemID(b []byte) (uint64, error) {
	if len(b) < 4 {
		return 0, errShortBox
	}
	countLen := 2
	if b[0] != 0 {
		countLen = 4
	}
	if len(b) < 4+countLen {
		return 0, errShortBox
	}
	entries, err := childBoxes(b[4+countLen:])
	if err != nil {
		return 0, err
	}

	for _, e := range entries {
		if e.typ != "infe" || len(e.data) < 4 {
			continue
		}
		r := &fieldReader{b: e.data[4:]}
		var id uint64
		switch e.data[0] {
		case 2:
			id = r.uint(2)
		case 3:
			id = r.uint(4)
		default:
			continue
		}
		r.uint(2) // item_protection_index
		itemType := r.uint(4)
		if r.err == nil && itemType == 0x45786966 { // "Exif"
			return id, nil
		}
	}
	return 0, errNoHEIFExif
}

// itemLocation returns the file offset and length of item id from an iloc
// box body. Only single-extent items stored in the file itself are
// supported.
func itemLocation(b []byte, id uint64) (offset, length uint64, err error) {
	if len(b) < 4 {
		return 0, 0, errShortBox
	}
	version := b[0]
	r := &fieldReader{b: b[4:]}

	sizes := r.uint(1)
	offsetSize, lengthSize := int(sizes>>4), int(sizes&0x0f)
	sizes = r.uint(1)
	baseOffsetSize, indexSize := int(sizes>>4), 0
	if version == 1 || version == 2 {
		indexSize = int(sizes & 0x0f)
	}

	idLen := 2
	if version == 2 {
		idLen = 4
	}
	count := r.uint(idLen)

	for i := uint64(0); i < count && r.err == nil; i++ {
		itemID := r.uint(idLen)
		method := uint64(0)
		if version == 1 || version == 2 {
			method = r.uint(2) & 0x0f
		}
		r.uint(2) // data_reference_index
		base := r.uint(baseOffsetSize)
		extents := r.uint(2)

		var first [2]uint64
		for j := uint64(0); j < extents && r.err == nil; j++ {
			r.uint(indexSize)
			off := r.uint(offsetSize)
			n := r.uint(lengthSize)
			if j == 0 {
				first = [2]uint64{off, n}
			}
		}

		if itemID != id {
			continue
		}
		switch {
		case r.err != nil:
			return 0, 0, r.err
		case method != 0:
			return 0, 0, fmt.Errorf("EXIF item uses construction method %d", method)
		case extents != 1:
			return 0, 0, fmt.Errorf("EXIF item has %d extents", extents)
		}
		return base + first[0], first[1], nil
	}

	if r.err != nil {
		return 0, 0, r.err
	}
	return 0, 0, errNoHEIFExif
}

// fieldReader reads big-endian integers of 0 to 8 bytes. The first short
// read sticks in err.
type fieldReader struct {
	b   []byte
	err error
}

func (r *fieldReader) uint(n int) uint64 {
	if r.err != nil {
		return 0
	}
	if n > 8 || len(r.b) < n {
		r.err = errShortBox
		return 0
	}
	var v uint64
	for _, c := range r.b[:n] {
		v = v<<8 | uint64(c)
	}
	r.b = r.b[n:]
	return v
}
