// Package hotlink implements the daemon's peer-to-peer fast path: a direct
// QUIC connection between two daemons for low-latency delivery of small
// request/response payloads, negotiated over the event bus and falling
// back to event-bus relay (or a local IPC/TCP bridge) when QUIC can't be
// established.
package hotlink

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	frameMagic   = "HLNK"
	frameVersion = 1
)

// frame is one hotlink payload: HLNK magic, version, path/etag lengths,
// payload length, monotonic seq, then path/etag/payload bytes.
type frame struct {
	path    string
	etag    string
	seq     uint64
	payload []byte
}

func encodeFrame(path, etag string, seq uint64, payload []byte) []byte {
	pathBytes := []byte(path)
	etagBytes := []byte(etag)
	headerLen := len(frameMagic) + 1 + 2 + 2 + 4 + 8
	total := headerLen + len(pathBytes) + len(etagBytes) + len(payload)

	buf := bytes.NewBuffer(make([]byte, 0, total))
	buf.WriteString(frameMagic)
	buf.WriteByte(byte(frameVersion))
	_ = binary.Write(buf, binary.BigEndian, uint16(len(pathBytes)))
	_ = binary.Write(buf, binary.BigEndian, uint16(len(etagBytes)))
	_ = binary.Write(buf, binary.BigEndian, uint32(len(payload)))
	_ = binary.Write(buf, binary.BigEndian, seq)
	buf.Write(pathBytes)
	buf.Write(etagBytes)
	buf.Write(payload)
	return buf.Bytes()
}

// decodeFrame resyncs on frameMagic before parsing, so a reader positioned
// mid-stream (or recovering from a short read) can find the next frame.
func decodeFrame(r *bufio.Reader) (*frame, error) {
	magic := []byte(frameMagic)
	window := make([]byte, 0, len(magic))

	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		window = append(window, b)
		if len(window) > len(magic) {
			window = window[1:]
		}
		if len(window) < len(magic) || !bytes.Equal(window, magic) {
			continue
		}

		header := make([]byte, 1+2+2+4+8)
		if _, err := io.ReadFull(r, header); err != nil {
			return nil, err
		}
		if header[0] != frameVersion {
			window = window[:0]
			continue
		}

		pathLen := binary.BigEndian.Uint16(header[1:3])
		etagLen := binary.BigEndian.Uint16(header[3:5])
		payloadLen := binary.BigEndian.Uint32(header[5:9])
		seq := binary.BigEndian.Uint64(header[9:17])

		f := &frame{seq: seq}
		if pathLen > 0 {
			p := make([]byte, pathLen)
			if _, err := io.ReadFull(r, p); err != nil {
				return nil, err
			}
			f.path = string(p)
		}
		if etagLen > 0 {
			e := make([]byte, etagLen)
			if _, err := io.ReadFull(r, e); err != nil {
				return nil, err
			}
			f.etag = string(e)
		}
		if payloadLen > 0 {
			f.payload = make([]byte, payloadLen)
			if _, err := io.ReadFull(r, f.payload); err != nil {
				return nil, err
			}
		}
		return f, nil
	}
}

func tooLong(s string) error {
	if len(s) > 0xffff {
		return fmt.Errorf("hotlink: field exceeds 64KiB: %d bytes", len(s))
	}
	return nil
}
