package marshal

import (
	"fmt"

	"objbridge.dev/ob/protocol"
	"objbridge.dev/ob/transport"
)

//	Package converts args into their wire form for the resolved descriptor d.
//	The deserialization types follow the parameter tags, except that an array
//	passed to a java.lang.Object parameter carries its concrete array tag.
func Package(d protocol.MethodDescriptor, args []interface{}) (call protocol.Call, err error) {
	if len(args) != len(d.ArgumentTypes) {
		err = fmt.Errorf("%s takes %d arguments, got %d", d.Name, len(d.ArgumentTypes), len(args))
		return
	}
	call.ArgumentTypes = append([]string{}, d.ArgumentTypes...)
	call.DeserializationTypes = make([]string, len(args))
	call.Arguments = make([]interface{}, len(args))
	for i, tag := range d.ArgumentTypes {
		call.DeserializationTypes[i] = tag
		if arrayType, isArray := arrayTypeOf(args[i]); isArray {
			call.DeserializationTypes[i] = arrayType.Tag
		}
		if call.Arguments[i], err = packageArg(tag, args[i]); err != nil {
			return
		}
	}
	return
}

func packageArg(tag string, arg interface{}) (packaged interface{}, err error) {
	if arg = nilPointer(arg); arg == nil {
		return
	}
	if _, isRemote := arg.(Remote); isRemote {
		return PackageValue(arg), nil
	}
	if _, isArray := arrayTypeOf(arg); isArray {
		return PackageValue(arg), nil
	}
	scalar, known := scalarTypes[tag]
	if !known {
		return PackageValue(arg), nil
	}
	switch scalar.kind {
	case kindInt, kindChar:
		packaged, err = toInt64(arg)
	case kindFloat:
		var f float64
		if f, err = toFloat64(arg); err == nil && scalar.bits == 32 {
			f = float64(float32(f))
		}
		packaged = f
	default:
		packaged = PackageValue(arg)
	}
	return
}

//	PackageValue converts a value with no declared parameter tag: remote
//	objects become a handle record, slices become side-channel buffers.
func PackageValue(v interface{}) interface{} {
	if v = nilPointer(v); v == nil {
		return nil
	}
	if remote, ok := v.(Remote); ok {
		return map[string]interface{}{"hash-code": int64(remote.Handle())}
	}
	if buf, ok := EncodeArray(v); ok {
		return buf
	}
	if list, ok := v.([]interface{}); ok {
		packaged := make([]interface{}, len(list))
		for i, item := range list {
			packaged[i] = PackageValue(item)
		}
		return packaged
	}
	return transport.Normalize(v)
}

func toInt64(v interface{}) (n int64, err error) {
	switch x := transport.Normalize(v).(type) {
	case int64:
		n = x
	default:
		err = fmt.Errorf("cannot pass %T as an integer", v)
	}
	return
}

func toFloat64(v interface{}) (f float64, err error) {
	switch x := transport.Normalize(v).(type) {
	case float64:
		f = x
	case int64:
		f = float64(x)
	default:
		err = fmt.Errorf("cannot pass %T as a floating point number", v)
	}
	return
}
