package marshal

import (
	"encoding/binary"
	"math"

	"objbridge.dev/ob/common/util"
	"objbridge.dev/ob/transport"
)

//	arrayTypeOf reports the array tag a local slice packs as.
func arrayTypeOf(v interface{}) (t ArrayType, ok bool) {
	switch v.(type) {
	case []byte, []int8:
		return ArrayTypeForTag(TAG_BYTE_ARRAY)
	case []int16, []uint16:
		return ArrayTypeForTag(TAG_SHORT_ARRAY)
	case []int32, []uint32:
		return ArrayTypeForTag(TAG_INT_ARRAY)
	case []float32:
		return ArrayTypeForTag(TAG_FLOAT_ARRAY)
	case []float64:
		return ArrayTypeForTag(TAG_DOUBLE_ARRAY)
	}
	return
}

//	EncodeArray packs a supported slice into a side-channel buffer.
func EncodeArray(v interface{}) (buf transport.Buffer, ok bool) {
	t, ok := arrayTypeOf(v)
	if !ok {
		return
	}
	buf.Width = t.Width
	switch a := v.(type) {
	case []byte:
		buf.Data = append([]byte(nil), a...)
	case []int8:
		buf.Data = make([]byte, len(a))
		for i, x := range a {
			buf.Data[i] = byte(x)
		}
	case []int16:
		buf.Data = make([]byte, 2*len(a))
		for i, x := range a {
			binary.LittleEndian.PutUint16(buf.Data[2*i:], uint16(x))
		}
	case []uint16:
		buf.Data = make([]byte, 2*len(a))
		for i, x := range a {
			binary.LittleEndian.PutUint16(buf.Data[2*i:], x)
		}
	case []int32:
		buf.Data = make([]byte, 4*len(a))
		for i, x := range a {
			binary.LittleEndian.PutUint32(buf.Data[4*i:], uint32(x))
		}
	case []uint32:
		buf.Data = make([]byte, 4*len(a))
		for i, x := range a {
			binary.LittleEndian.PutUint32(buf.Data[4*i:], x)
		}
	case []float32:
		buf.Data = make([]byte, 4*len(a))
		for i, x := range a {
			binary.LittleEndian.PutUint32(buf.Data[4*i:], math.Float32bits(x))
		}
	case []float64:
		buf.Data = make([]byte, 8*len(a))
		for i, x := range a {
			binary.LittleEndian.PutUint64(buf.Data[8*i:], math.Float64bits(x))
		}
	}
	return
}

//	DecodeArray rebuilds a typed slice from raw little-endian bytes. count
//	is the declared element count, or -1 when the envelope carries none.
//	byte[] decodes to []byte, short[] to []int16, int[] to []int32,
//	float[] to []float32 and double[] to []float64.
func DecodeArray(t ArrayType, data []byte, count int) (v interface{}, err error) {
	if len(data)%t.Width != 0 || (count >= 0 && len(data) != count*t.Width) {
		err = &util.MalformedArrayError{Tag: t.Tag, Bytes: len(data), Width: t.Width, Count: count}
		return
	}
	n := len(data) / t.Width
	switch t.Tag {
	case TAG_BYTE_ARRAY:
		v = append([]byte{}, data...)
	case TAG_SHORT_ARRAY:
		a := make([]int16, n)
		for i := range a {
			a[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
		}
		v = a
	case TAG_INT_ARRAY:
		a := make([]int32, n)
		for i := range a {
			a[i] = int32(binary.LittleEndian.Uint32(data[4*i:]))
		}
		v = a
	case TAG_FLOAT_ARRAY:
		a := make([]float32, n)
		for i := range a {
			a[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
		}
		v = a
	case TAG_DOUBLE_ARRAY:
		a := make([]float64, n)
		for i := range a {
			a[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[8*i:]))
		}
		v = a
	}
	return
}
