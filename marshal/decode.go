package marshal

import (
	"encoding/json"
	"fmt"

	"objbridge.dev/ob/common/util"
	"objbridge.dev/ob/protocol"
	"objbridge.dev/ob/transport"
)

//	JSON_OBJECT_CLASS is the only structured-object class the bridge decodes.
const JSON_OBJECT_CLASS = "JSONObject"

//	Decoder turns response envelopes into local values. Wrap builds the local
//	stand-in for an unserialized-object envelope.
type Decoder struct {
	Wrap func(d protocol.ClassDescriptor) (interface{}, error)
}

//	Decode dispatches on the envelope type. returnType is the declared return
//	tag of the call, or "" when unknown, and only guides primitive conversion.
func (dec Decoder) Decode(envelope map[string]interface{}, returnType string) (v interface{}, err error) {
	kind, _ := envelope["type"].(string)
	switch kind {
	case protocol.TYPE_EXCEPTION:
		err = &util.RemoteError{Message: fmt.Sprint(envelope["value"])}
	case protocol.TYPE_NULL, protocol.TYPE_SUCCESS:
	case protocol.TYPE_PRIMITIVE:
		v, err = convertPrimitive(envelope["value"], returnType)
	case protocol.TYPE_STRING:
		v = envelope["value"]
	case protocol.TYPE_LIST:
		v, err = dec.decodeList(envelope["value"])
	case protocol.TYPE_OBJECT:
		v, err = decodeObject(envelope)
	case protocol.TYPE_UNSERIALIZED_OBJECT:
		var d protocol.ClassDescriptor
		if d, err = protocol.ParseClassDescriptor(envelope); err != nil {
			err = util.NewProtoError(err)
			return
		}
		if dec.Wrap == nil {
			err = fmt.Errorf("no proxy factory for returned %s", d.Class)
			return
		}
		v, err = dec.Wrap(d)
	default:
		arrayType, isArray := ArrayTypeForEnvelope(kind)
		if !isArray {
			err = util.NewProtoError(fmt.Errorf("unknown response type %q", kind))
			return
		}
		v, err = decodeArrayEnvelope(arrayType, envelope)
	}
	return
}

func (dec Decoder) decodeList(raw interface{}) (v interface{}, err error) {
	if raw == nil {
		return []interface{}{}, nil
	}
	items, ok := raw.([]interface{})
	if !ok {
		err = util.NewProtoError(fmt.Errorf("list value is %T", raw))
		return
	}
	decoded := make([]interface{}, len(items))
	for i, item := range items {
		element, isEnvelope := item.(map[string]interface{})
		if !isEnvelope {
			err = util.NewProtoError(fmt.Errorf("list element %d is %T, not an envelope", i, item))
			return
		}
		if decoded[i], err = dec.Decode(element, ""); err != nil {
			return
		}
	}
	v = decoded
	return
}

func decodeObject(envelope map[string]interface{}) (v interface{}, err error) {
	class, _ := envelope["class"].(string)
	if class != JSON_OBJECT_CLASS {
		err = &util.UnknownReturnClassError{Class: class}
		return
	}
	text, ok := envelope["value"].(string)
	if !ok {
		err = util.NewProtoError(fmt.Errorf("%s value is %T, not a string", JSON_OBJECT_CLASS, envelope["value"]))
		return
	}
	err = json.Unmarshal([]byte(text), &v)
	return
}

func decodeArrayEnvelope(t ArrayType, envelope map[string]interface{}) (v interface{}, err error) {
	buf, ok := envelope["value"].(transport.Buffer)
	if !ok {
		err = util.NewProtoError(fmt.Errorf("%s value is %T, not a side-channel buffer", t.Envelope, envelope["value"]))
		return
	}
	if buf.Width != t.Width {
		err = &util.MalformedArrayError{Tag: t.Tag, Bytes: len(buf.Data), Width: buf.Width, Count: -1}
		return
	}
	count := -1
	if raw, present := envelope["length"]; present && raw != nil {
		var n int64
		if n, err = protocol.Int64(raw); err != nil {
			err = util.NewProtoError(err)
			return
		}
		count = int(n)
	}
	return DecodeArray(t, buf.Data, count)
}

//	convertPrimitive maps a JSON number onto the Go type of the declared
//	return tag. Without a tag, integral numbers become int64 and the rest float64.
func convertPrimitive(raw interface{}, returnType string) (v interface{}, err error) {
	number, isNumber := raw.(json.Number)
	if !isNumber {
		return raw, nil
	}
	scalar, known := scalarTypes[returnType]
	if !known || (scalar.kind != kindInt && scalar.kind != kindFloat && scalar.kind != kindChar) {
		if n, intErr := number.Int64(); intErr == nil {
			return n, nil
		}
		return number.Float64()
	}
	if scalar.kind == kindFloat {
		var f float64
		if f, err = number.Float64(); err != nil {
			return
		}
		if scalar.bits == 32 {
			return float32(f), nil
		}
		return f, nil
	}
	n, err := number.Int64()
	if err != nil {
		return
	}
	switch {
	case scalar.kind == kindChar:
		v = rune(n)
	case scalar.bits == 8:
		v = int8(n)
	case scalar.bits == 16:
		v = int16(n)
	case scalar.bits == 32:
		v = int32(n)
	default:
		v = n
	}
	return
}
