package deferlog

import (
	"bufio"
	"errors"
	"io"
	"os"
	"sync"
)

// Frame encoding on a byte stream (e.g. UART):
//
//	SEQ  seq number, 1-0xef
//	HDR  bit 7: continued, bits 4-6: length if < 7 (7 means a LEN byte
//	     follows), bits 0-3: level
//	LEN  optional, data length up to 255
//	DATA
//
// A record longer than 255 bytes is split into continued frames.
// There's no checksum, parity on the serial port covers bit errors.

// ErrBadFrame indicates an invalid frame header.
var ErrBadFrame = errors.New("bad frame")

const (
	frameContinued = 0x80
	frameMaxData   = 0xff
)

// FrameSeq is the frame sequence number.
type FrameSeq byte

// Next returns the sequence number after s, wrapping within 1-0xef.
func (s FrameSeq) Next() FrameSeq {
	n := byte(s) + 1
	if n == 0 || n >= 0xf0 {
		n = 1
	}
	return FrameSeq(n)
}

// Valid reports whether s is a usable sequence number.
func (s FrameSeq) Valid() bool {
	return s > 0 && s < 0xf0
}

// Frame is one chunk of a record.
type Frame struct {
	Seq       FrameSeq
	Level     Level
	Continued bool
	Data      []byte
}

// AppendTo appends the encoded frame to b.
func (f *Frame) AppendTo(b []byte) []byte {
	hdr := byte(f.Level) & 0x0f
	if f.Continued {
		hdr |= frameContinued
	}
	l := len(f.Data)
	if l > frameMaxData {
		l = frameMaxData
	}
	if l < 7 {
		b = append(b, byte(f.Seq), hdr|byte(l)<<4)
	} else {
		b = append(b, byte(f.Seq), hdr|0x70, byte(l))
	}
	return append(b, f.Data[:l]...)
}

// ReadFrame decodes one frame.
func ReadFrame(r io.ByteReader) (*Frame, error) {
	seq, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if !FrameSeq(seq).Valid() {
		return nil, ErrBadFrame
	}
	hdr, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	f := &Frame{
		Seq:       FrameSeq(seq),
		Level:     Level(hdr & 0x0f),
		Continued: hdr&frameContinued != 0,
	}
	l := int(hdr>>4) & 0x07
	if l == 7 {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		l = int(b)
	}
	f.Data = make([]byte, l)
	for i := range f.Data {
		if f.Data[i], err = r.ReadByte(); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// UARTTransport writes records as frames to a serial device.
type UARTTransport struct {
	// Path of the device, used if Writer is nil.
	Path   string
	Writer io.Writer

	lock sync.Mutex
	seq  FrameSeq
	buf  []byte
}

// Init implements Transport.
func (t *UARTTransport) Init() error {
	if t.Writer == nil {
		f, err := os.OpenFile(t.Path, os.O_WRONLY, 0)
		if err != nil {
			return err
		}
		t.Writer = f
	}
	return nil
}

// Write implements Transport.
func (t *UARTTransport) Write(records []Record) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.buf = t.buf[:0]
	for _, r := range records {
		data := []byte(r.String())
		for {
			f := Frame{Level: r.Level, Data: data}
			t.seq = t.seq.Next()
			f.Seq = t.seq
			if len(data) > frameMaxData {
				f.Continued, f.Data, data = true, data[:frameMaxData], data[frameMaxData:]
			} else {
				data = nil
			}
			t.buf = f.AppendTo(t.buf)
			if data == nil {
				break
			}
		}
	}
	_, err := t.Writer.Write(t.buf)
	return err
}

// ReadRecords decodes frames until EOF and joins continued frames, returning
// one line per record.
func ReadRecords(r io.Reader) ([]string, error) {
	br := bufio.NewReader(r)
	var lines []string
	var cur []byte
	for {
		f, err := ReadFrame(br)
		if err == io.EOF {
			return lines, nil
		}
		if err != nil {
			return lines, err
		}
		cur = append(cur, f.Data...)
		if !f.Continued {
			lines = append(lines, string(cur))
			cur = nil
		}
	}
}
