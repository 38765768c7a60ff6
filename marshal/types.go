package marshal

import (
	"reflect"

	"objbridge.dev/ob/protocol"
	"objbridge.dev/ob/transport"
)

//	Remote type tags understood by the bridge
const (
	TAG_BOOLEAN = "boolean"
	TAG_BYTE    = "byte"
	TAG_SHORT   = "short"
	TAG_INT     = "int"
	TAG_LONG    = "long"
	TAG_FLOAT   = "float"
	TAG_DOUBLE  = "double"
	TAG_CHAR    = "char"
	TAG_VOID    = "void"

	TAG_STRING    = "java.lang.String"
	TAG_OBJECT    = "java.lang.Object"
	TAG_BOOLEAN_B = "java.lang.Boolean"
	TAG_BYTE_B    = "java.lang.Byte"
	TAG_SHORT_B   = "java.lang.Short"
	TAG_INT_B     = "java.lang.Integer"
	TAG_LONG_B    = "java.lang.Long"
	TAG_FLOAT_B   = "java.lang.Float"
	TAG_DOUBLE_B  = "java.lang.Double"
	TAG_CHAR_B    = "java.lang.Character"

	TAG_BYTE_ARRAY   = "byte[]"
	TAG_SHORT_ARRAY  = "short[]"
	TAG_INT_ARRAY    = "int[]"
	TAG_FLOAT_ARRAY  = "float[]"
	TAG_DOUBLE_ARRAY = "double[]"
)

//	Remote is a value standing in for a live remote object. Proxy objects
//	implement it; marshal never depends on their concrete type.
type Remote interface {
	Handle() protocol.Handle
	Interfaces() []string
}

//	nilPointer turns a nil pointer held in an interface, such as a nil
//	*proxy.Object, into a plain nil so it is passed as null.
func nilPointer(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Ptr && rv.IsNil() {
		return nil
	}
	return v
}

type kind int

const (
	kindBool kind = iota
	kindInt
	kindFloat
	kindChar
	kindString
	kindAny
	kindVoid
)

type scalarType struct {
	kind     kind
	nullable bool
	//	local types that auto-cast into the tag
	accepts func(v interface{}) bool
	//	bit size of the remote integer or float; integral arguments are
	//	range checked against it, float returns narrowed to it
	bits int
}

func acceptsBool(v interface{}) bool {
	_, ok := v.(bool)
	return ok
}

func acceptsString(v interface{}) bool {
	_, ok := v.(string)
	return ok
}

func acceptsAny(v interface{}) bool {
	return true
}

func acceptsNothing(v interface{}) bool {
	return false
}

//	acceptsIntegers admits untyped int plus each fixed-width integer type
//	that fits a signed integer of the given size, provided the value itself
//	is in range.
func acceptsIntegers(bits int) func(v interface{}) bool {
	return func(v interface{}) bool {
		switch v.(type) {
		case int, int8, uint8:
		case int16:
			if bits < 16 {
				return false
			}
		case uint16, int32:
			if bits < 32 {
				return false
			}
		case uint32, int64, uint, uint64:
			if bits < 64 {
				return false
			}
		default:
			return false
		}
		return fitsSigned(v, bits)
	}
}

func fitsSigned(v interface{}, bits int) bool {
	n, ok := transport.Normalize(v).(int64)
	if !ok {
		//	uint64 beyond MaxInt64
		return false
	}
	if bits >= 64 {
		return true
	}
	limit := int64(1) << (bits - 1)
	return n >= -limit && n < limit
}

func acceptsFloats(double bool) func(v interface{}) bool {
	return func(v interface{}) bool {
		switch v.(type) {
		case float32, float64:
			return true
		case int, int32, int64:
			return double
		}
		return false
	}
}

func acceptsChar(v interface{}) bool {
	switch c := v.(type) {
	case uint16:
		return true
	case rune:
		return c >= 0 && c <= 0xffff
	case int:
		return c >= 0 && c <= 0xffff
	}
	return false
}

var scalarTypes = map[string]scalarType{
	TAG_BOOLEAN: {kind: kindBool, accepts: acceptsBool},
	TAG_BYTE:    {kind: kindInt, accepts: acceptsIntegers(8), bits: 8},
	TAG_SHORT:   {kind: kindInt, accepts: acceptsIntegers(16), bits: 16},
	TAG_INT:     {kind: kindInt, accepts: acceptsIntegers(32), bits: 32},
	TAG_LONG:    {kind: kindInt, accepts: acceptsIntegers(64), bits: 64},
	TAG_FLOAT:   {kind: kindFloat, accepts: acceptsFloats(false), bits: 32},
	TAG_DOUBLE:  {kind: kindFloat, accepts: acceptsFloats(true), bits: 64},
	TAG_CHAR:    {kind: kindChar, accepts: acceptsChar},
	TAG_VOID:    {kind: kindVoid, accepts: acceptsNothing},

	TAG_STRING:    {kind: kindString, nullable: true, accepts: acceptsString},
	TAG_OBJECT:    {kind: kindAny, nullable: true, accepts: acceptsAny},
	TAG_BOOLEAN_B: {kind: kindBool, nullable: true, accepts: acceptsBool},
	TAG_BYTE_B:    {kind: kindInt, nullable: true, accepts: acceptsIntegers(8), bits: 8},
	TAG_SHORT_B:   {kind: kindInt, nullable: true, accepts: acceptsIntegers(16), bits: 16},
	TAG_INT_B:     {kind: kindInt, nullable: true, accepts: acceptsIntegers(32), bits: 32},
	TAG_LONG_B:    {kind: kindInt, nullable: true, accepts: acceptsIntegers(64), bits: 64},
	TAG_FLOAT_B:   {kind: kindFloat, nullable: true, accepts: acceptsFloats(false), bits: 32},
	TAG_DOUBLE_B:  {kind: kindFloat, nullable: true, accepts: acceptsFloats(true), bits: 64},
	TAG_CHAR_B:    {kind: kindChar, nullable: true, accepts: acceptsChar},
}

//	ArrayType pairs an array tag with its response envelope and element width.
//	Elements are little-endian, row-major.
type ArrayType struct {
	Tag      string
	Envelope string
	Width    int
}

var arrayTypes = []ArrayType{
	{TAG_BYTE_ARRAY, protocol.TYPE_BYTE_ARRAY, 1},
	{TAG_SHORT_ARRAY, protocol.TYPE_SHORT_ARRAY, 2},
	{TAG_INT_ARRAY, protocol.TYPE_INT_ARRAY, 4},
	{TAG_FLOAT_ARRAY, protocol.TYPE_FLOAT_ARRAY, 4},
	{TAG_DOUBLE_ARRAY, protocol.TYPE_DOUBLE_ARRAY, 8},
}

func ArrayTypeForTag(tag string) (t ArrayType, ok bool) {
	for _, candidate := range arrayTypes {
		if candidate.Tag == tag {
			return candidate, true
		}
	}
	return
}

func ArrayTypeForEnvelope(envelope string) (t ArrayType, ok bool) {
	for _, candidate := range arrayTypes {
		if candidate.Envelope == envelope {
			return candidate, true
		}
	}
	return
}

//	IsNullable reports whether tag names a reference type that accepts null.
//	Unknown class names are references.
func IsNullable(tag string) bool {
	if scalar, ok := scalarTypes[tag]; ok {
		return scalar.nullable
	}
	return true
}

//	IsKnown reports whether tag is part of the fixed vocabulary.
func IsKnown(tag string) bool {
	if _, ok := scalarTypes[tag]; ok {
		return true
	}
	_, ok := ArrayTypeForTag(tag)
	return ok
}
