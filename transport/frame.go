package transport

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sync/atomic"
)

//	[4 len][1 flags][payload], flags bit 0 set when another frame follows
const frameHeaderLen = 5
const flagMore = 0x01

const MaxFrameSize = 256 * 1024 * 1024

//	FrameIDs allocates side-channel ids for one channel.
type FrameIDs struct {
	next atomic.Int32
}

func (ids *FrameIDs) Next() int32 {
	return ids.next.Add(1)
}

type binaryFrame struct {
	id   int32
	data []byte
}

//	Encode renders msg as the full wire form: the JSON header frame followed by
//	one frame per extracted buffer.
func Encode(msg Message, ids *FrameIDs) (wire []byte, err error) {
	var frames []binaryFrame
	header := extractBuffers(msg, ids, &frames)
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return
	}

	var buf bytes.Buffer
	appendFrame(&buf, headerJSON, len(frames) > 0)
	for i, frame := range frames {
		payload := make([]byte, 4+len(frame.data))
		binary.LittleEndian.PutUint32(payload[:4], uint32(frame.id))
		copy(payload[4:], frame.data)
		appendFrame(&buf, payload, i < len(frames)-1)
	}
	wire = buf.Bytes()
	return
}

func appendFrame(buf *bytes.Buffer, payload []byte, more bool) {
	var header [frameHeaderLen]byte
	binary.BigEndian.PutUint32(header[:4], uint32(len(payload)))
	if more {
		header[4] = flagMore
	}
	buf.Write(header[:])
	buf.Write(payload)
}

func WriteMessage(w io.Writer, msg Message, ids *FrameIDs) (err error) {
	wire, err := Encode(msg, ids)
	if err != nil {
		return
	}
	_, err = w.Write(wire)
	return
}

func readFrame(r io.Reader) (payload []byte, more bool, err error) {
	var header [frameHeaderLen]byte
	if _, err = io.ReadFull(r, header[:]); err != nil {
		return
	}
	length := binary.BigEndian.Uint32(header[:4])
	if length > MaxFrameSize {
		err = fmt.Errorf("frame of %d bytes exceeds limit", length)
		return
	}
	payload = make([]byte, length)
	if _, err = io.ReadFull(r, payload); err != nil {
		return
	}
	more = header[4]&flagMore != 0
	return
}

//	ReadMessage reads one header frame plus its side-channel frames and splices
//	the buffers back into the header.
func ReadMessage(r *bufio.Reader) (msg Message, err error) {
	headerJSON, more, err := readFrame(r)
	if err != nil {
		return
	}
	frames := map[int32][]byte{}
	for more {
		var payload []byte
		payload, more, err = readFrame(r)
		if err != nil {
			return
		}
		if len(payload) < 4 {
			err = fmt.Errorf("side-channel frame of %d bytes has no id", len(payload))
			return
		}
		frames[int32(binary.LittleEndian.Uint32(payload[:4]))] = payload[4:]
	}

	decoder := json.NewDecoder(bytes.NewReader(headerJSON))
	decoder.UseNumber()
	var header map[string]interface{}
	if err = decoder.Decode(&header); err != nil {
		return
	}
	spliced, err := spliceBuffers(header, frames)
	if err != nil {
		return
	}
	msg = Message(spliced.(map[string]interface{}))
	return
}
