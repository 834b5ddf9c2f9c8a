package vsock

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	payloads := [][]byte{
		[]byte(`{}`),
		[]byte(`{"Request":{"id":"r1","method":"read_file"}}`),
		bytes.Repeat([]byte("x"), 1<<20),
	}
	for _, p := range payloads {
		var buf bytes.Buffer
		if err := WriteFrame(&buf, p); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
		got, err := ReadFrame(&buf)
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if !bytes.Equal(got, p) {
			t.Errorf("round trip mismatch: %d bytes in, %d out", len(p), len(got))
		}
	}
}

func TestReadFrameRejectsOversizedHeader(t *testing.T) {
	// A header declaring MaxFrameSize+1 bytes, followed by no payload at
	// all. The reader must reject on the header alone.
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], MaxFrameSize+1)

	r := &countingReader{r: bytes.NewReader(hdr[:])}
	_, err := ReadFrame(r)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("err = %v, want ErrFrameTooLarge", err)
	}
	if r.n > 4 {
		t.Errorf("read %d bytes, want at most the 4-byte header", r.n)
	}
}

func TestWriteFrameRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, make([]byte, MaxFrameSize+1))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("err = %v, want ErrFrameTooLarge", err)
	}
	if buf.Len() != 0 {
		t.Errorf("wrote %d bytes for rejected frame, want 0", buf.Len())
	}
}

func TestReadFrameExactBoundary(t *testing.T) {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], MaxFrameSize)
	payload := make([]byte, MaxFrameSize)
	r := io.MultiReader(bytes.NewReader(hdr[:]), bytes.NewReader(payload))

	got, err := ReadFrame(r)
	if err != nil {
		t.Fatalf("ReadFrame at boundary: %v", err)
	}
	if len(got) != MaxFrameSize {
		t.Errorf("len = %d, want %d", len(got), MaxFrameSize)
	}
}

type countingReader struct {
	r io.Reader
	n int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += n
	return n, err
}
