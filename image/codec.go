package image

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Blob format: "EMBR" magic, format version, then the descriptor encoded
// little-endian with 1-byte length-prefixed names. Bounded on decode.

const (
	blobMagic   = "EMBR"
	blobVersion = 1

	// MaxBlobBytes bounds decoding to avoid allocation bombs.
	MaxBlobBytes = 64 * 1024
)

// Encode renders the descriptor as a flash blob.
func Encode(img *Image) ([]byte, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}

	b := make([]byte, 0, 512)
	b = append(b, blobMagic...)
	b = append(b, blobVersion)
	b = le64(b, img.ImageId)
	b = le16(b, img.Supervisor)
	b = le32(b, img.FaultNotification)

	b = append(b, byte(len(img.Segments)))
	for _, s := range img.Segments {
		b = appendName(b, s.Name)
		b = append(b, byte(s.Kind))
		b = le32(b, s.Base)
		b = le32(b, s.Size)
	}

	b = append(b, byte(len(img.Tasks)))
	for _, t := range img.Tasks {
		b = appendName(b, t.Name)
		b = le32(b, t.Entry)
		b = le32(b, t.InitialStack)
		b = le32(b, t.StackBase)
		b = append(b, t.Priority, t.Flags)
		b = append(b, byte(len(t.Regions)))
		for _, r := range t.Regions {
			b = le32(b, r.Base)
			b = le32(b, r.Size)
			b = le32(b, r.Attributes)
		}
		b = append(b, byte(len(t.Irqs)))
		for _, q := range t.Irqs {
			b = le16(b, q.Irq)
			b = le32(b, q.Notification)
		}
	}
	return b, nil
}

// Decode parses a flash blob and validates the result.
func Decode(b []byte) (*Image, error) {
	if len(b) > MaxBlobBytes {
		return nil, errors.New("image: blob too large")
	}
	d := decoder{b: b}
	if string(d.bytes(4)) != blobMagic {
		return nil, errors.New("image: bad magic")
	}
	if v := d.u8(); v != blobVersion {
		return nil, fmt.Errorf("image: unsupported version %d", v)
	}

	var img Image
	img.ImageId = d.u64()
	img.Supervisor = d.u16()
	img.FaultNotification = d.u32()

	nseg := int(d.u8())
	if nseg > MaxSegments {
		return nil, errors.New("image: too many segments")
	}
	for i := 0; i < nseg; i++ {
		var s SegmentDesc
		s.Name = d.name()
		s.Kind = SegmentKind(d.u8())
		s.Base = d.u32()
		s.Size = d.u32()
		img.Segments = append(img.Segments, s)
	}

	ntask := int(d.u8())
	if ntask > MaxTasks {
		return nil, errors.New("image: too many tasks")
	}
	for i := 0; i < ntask; i++ {
		var t TaskDesc
		t.Name = d.name()
		t.Entry = d.u32()
		t.InitialStack = d.u32()
		t.StackBase = d.u32()
		t.Priority = d.u8()
		t.Flags = d.u8()
		nr := int(d.u8())
		if nr > MaxRegions {
			return nil, errors.New("image: too many regions")
		}
		for j := 0; j < nr; j++ {
			t.Regions = append(t.Regions, RegionDesc{
				Base:       d.u32(),
				Size:       d.u32(),
				Attributes: d.u32(),
			})
		}
		nq := int(d.u8())
		if nq > MaxIrqs {
			return nil, errors.New("image: too many irqs")
		}
		for j := 0; j < nq; j++ {
			t.Irqs = append(t.Irqs, IrqDesc{
				Irq:          d.u16(),
				Notification: d.u32(),
			})
		}
		img.Tasks = append(img.Tasks, t)
	}

	if d.failed {
		return nil, errors.New("image: truncated blob")
	}
	if err := img.Validate(); err != nil {
		return nil, err
	}
	return &img, nil
}

type decoder struct {
	b      []byte
	failed bool
}

func (d *decoder) bytes(n int) []byte {
	if d.failed || len(d.b) < n {
		d.failed = true
		return make([]byte, n)
	}
	out := d.b[:n]
	d.b = d.b[n:]
	return out
}

func (d *decoder) u8() byte    { return d.bytes(1)[0] }
func (d *decoder) u16() uint16 { return binary.LittleEndian.Uint16(d.bytes(2)) }
func (d *decoder) u32() uint32 { return binary.LittleEndian.Uint32(d.bytes(4)) }
func (d *decoder) u64() uint64 { return binary.LittleEndian.Uint64(d.bytes(8)) }

func (d *decoder) name() string {
	n := int(d.u8())
	if n > MaxNameLen {
		d.failed = true
		return ""
	}
	return string(d.bytes(n))
}

func appendName(b []byte, name string) []byte {
	b = append(b, byte(len(name)))
	return append(b, name...)
}

func le16(b []byte, v uint16) []byte {
	var s [2]byte
	binary.LittleEndian.PutUint16(s[:], v)
	return append(b, s[:]...)
}

func le32(b []byte, v uint32) []byte {
	var s [4]byte
	binary.LittleEndian.PutUint32(s[:], v)
	return append(b, s[:]...)
}

func le64(b []byte, v uint64) []byte {
	var s [8]byte
	binary.LittleEndian.PutUint64(s[:], v)
	return append(b, s[:]...)
}
