package datetaken

import (
	"bytes"
	"errors"
	"testing"
)

func TestItemLocation(t *testing.T) {
	tests := []struct {
		name       string
		body       []byte
		wantOffset uint64
		wantLength uint64
		wantErr    bool
	}{
		{
			name: "version 0",
			body: bytes.Join([][]byte{be32(0), {0x44, 0x00}, be16(1), be16(7), be16(0), be16(1), be32(100), be32(50)}, nil),
			wantOffset: 100, wantLength: 50,
		},
		{
			name: "version 1 with base offset",
			body: bytes.Join([][]byte{{1, 0, 0, 0}, {0x44, 0x40}, be16(1), be16(7), be16(0), be16(0), be32(1000), be16(1), be32(24), be32(50)}, nil),
			wantOffset: 1024, wantLength: 50,
		},
		{
			name: "version 2 skips other items",
			body: bytes.Join([][]byte{{2, 0, 0, 0}, {0x44, 0x00}, be32(2),
				be32(3), be16(0), be16(0), be16(1), be32(1), be32(1),
				be32(7), be16(0), be16(0), be16(1), be32(300), be32(40)}, nil),
			wantOffset: 300, wantLength: 40,
		},
		{
			name:    "idat construction",
			body:    bytes.Join([][]byte{{1, 0, 0, 0}, {0x44, 0x00}, be16(1), be16(7), be16(1), be16(0), be16(1), be32(0), be32(50)}, nil),
			wantErr: true,
		},
		{
			name:    "truncated",
			body:    bytes.Join([][]byte{be32(0), {0x44, 0x00}, be16(1), be16(7)}, nil),
			wantErr: true,
		},
		{
			name:    "item missing",
			body:    bytes.Join([][]byte{be32(0), {0x44, 0x00}, be16(1), be16(3), be16(0), be16(1), be32(100), be32(50)}, nil),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			offset, length, err := itemLocation(tt.body, 7)
			if (err != nil) != tt.wantErr {
				t.Fatalf("itemLocation() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && (offset != tt.wantOffset || length != tt.wantLength) {
				t.Errorf("itemLocation() = %d, %d, want %d, %d", offset, length, tt.wantOffset, tt.wantLength)
			}
		})
	}
}

func TestHEIFExifNoItem(t *testing.T) {
	data := heicWithEXIF(tiffWithDate("2018:07:04 12:34:56"), "hvc1")
	if _, err := heifExif(bytes.NewReader(data)); !errors.Is(err, errNoHEIFExif) {
		t.Errorf("heifExif() error = %v, want errNoHEIFExif", err)
	}
}

func TestChildBoxesRejectsOverrun(t *testing.T) {
	b := append(be32(64), []byte("iloc")...)
	if _, err := childBoxes(b); !errors.Is(err, errShortBox) {
		t.Errorf("childBoxes() error = %v, want errShortBox", err)
	}
}
