package marshal

import (
	"fmt"

	"objbridge.dev/ob/common/util"
	"objbridge.dev/ob/protocol"
)

//	Resolve picks the first candidate, in declaration order, whose parameters
//	accept args. Candidates are never scored against each other: with an
//	ambiguous overload set the earlier descriptor wins even when a later one
//	is more specific.
func Resolve(name string, candidates []protocol.MethodDescriptor, args []interface{}) (chosen protocol.MethodDescriptor, err error) {
	for _, candidate := range candidates {
		if Accepts(candidate, args) {
			chosen = candidate
			return
		}
	}
	signatures := make([]string, len(candidates))
	for i, candidate := range candidates {
		signatures[i] = candidate.Signature()
	}
	err = &util.NoMatchingOverloadError{Name: name, Candidates: signatures, ArgTypes: TypeNames(args)}
	return
}

func Accepts(d protocol.MethodDescriptor, args []interface{}) bool {
	if len(d.ArgumentTypes) != len(args) {
		return false
	}
	for i, tag := range d.ArgumentTypes {
		if !acceptsArg(tag, args[i]) {
			return false
		}
	}
	return true
}

func acceptsArg(tag string, arg interface{}) bool {
	arg = nilPointer(arg)
	if remote, ok := arg.(Remote); ok {
		for _, iface := range remote.Interfaces() {
			if iface == tag {
				return true
			}
		}
		return false
	}
	if arrayType, isArray := arrayTypeOf(arg); isArray {
		return tag == TAG_OBJECT || tag == arrayType.Tag
	}
	if arg == nil {
		return IsNullable(tag)
	}
	scalar, known := scalarTypes[tag]
	if !known {
		return false
	}
	return scalar.accepts(arg)
}

func TypeNames(args []interface{}) (names []string) {
	names = make([]string, len(args))
	for i, arg := range args {
		switch nilPointer(arg).(type) {
		case nil:
			names[i] = "nil"
		case Remote:
			names[i] = fmt.Sprintf("%v", arg)
		default:
			names[i] = fmt.Sprintf("%T", arg)
		}
	}
	return
}
