package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"objbridge.dev/ob/transport"
)

const (
	CMD_CONNECT          = "connect"
	CMD_GET_CONSTRUCTORS = "get-constructors"
	CMD_CONSTRUCTOR      = "constructor"
	CMD_GET_FIELD        = "get-field"
	CMD_SET_FIELD        = "set-field"
	CMD_RUN_METHOD       = "run-method"
	CMD_DESTRUCTOR       = "destructor"
)

//	Response envelope discriminants
const (
	TYPE_EXCEPTION           = "exception"
	TYPE_NULL                = "null"
	TYPE_PRIMITIVE           = "primitive"
	TYPE_STRING              = "string"
	TYPE_LIST                = "list"
	TYPE_OBJECT              = "object"
	TYPE_UNSERIALIZED_OBJECT = "unserialized-object"
	TYPE_SUCCESS             = "success"
	TYPE_BYTE_ARRAY          = "byte-array"
	TYPE_SHORT_ARRAY         = "short-array"
	TYPE_INT_ARRAY           = "int-array"
	TYPE_FLOAT_ARRAY         = "float-array"
	TYPE_DOUBLE_ARRAY        = "double-array"
)

//	Handle is the server-assigned identity of one remote object.
type Handle int64

func (h Handle) String() string {
	return strconv.FormatInt(int64(h), 10)
}

type MethodDescriptor struct {
	Name          string
	ArgumentTypes []string
	ReturnType    string
}

func (d MethodDescriptor) Signature() string {
	return fmt.Sprintf("%s(%s) %s", d.Name, strings.Join(d.ArgumentTypes, ", "), d.ReturnType)
}

func (d MethodDescriptor) Message() map[string]interface{} {
	arguments := make([]interface{}, len(d.ArgumentTypes))
	for i, t := range d.ArgumentTypes {
		arguments[i] = t
	}
	return map[string]interface{}{
		"name":        d.Name,
		"arguments":   arguments,
		"return-type": d.ReturnType,
	}
}

//	ClassDescriptor describes one live remote object: its class, handle and API.
type ClassDescriptor struct {
	Class      string
	Handle     Handle
	Interfaces []string
	Fields     []string
	API        []MethodDescriptor
	Port       *int
}

//	Call is the packaged form of one argument tuple after overload resolution.
type Call struct {
	ArgumentTypes        []string
	DeserializationTypes []string
	Arguments            []interface{}
}

func (c Call) apply(m transport.Message) transport.Message {
	m["argument-types"] = stringsToList(c.ArgumentTypes)
	m["argument-deserialization-types"] = stringsToList(c.DeserializationTypes)
	arguments := c.Arguments
	if arguments == nil {
		arguments = []interface{}{}
	}
	m["arguments"] = arguments
	return m
}

func stringsToList(s []string) []interface{} {
	list := make([]interface{}, len(s))
	for i, v := range s {
		list[i] = v
	}
	return list
}

func ConnectRequest() transport.Message {
	return transport.Message{"command": CMD_CONNECT}
}

func GetConstructorsRequest(classpath string) transport.Message {
	return transport.Message{"command": CMD_GET_CONSTRUCTORS, "classpath": classpath}
}

func ConstructorRequest(classpath string, call Call, newPort bool) transport.Message {
	m := call.apply(transport.Message{"command": CMD_CONSTRUCTOR, "classpath": classpath})
	if newPort {
		m["new-port"] = true
	}
	return m
}

func GetFieldRequest(h Handle, name string) transport.Message {
	return transport.Message{"command": CMD_GET_FIELD, "hash-code": int64(h), "name": name}
}

func SetFieldRequest(h Handle, name string, value interface{}) transport.Message {
	return transport.Message{"command": CMD_SET_FIELD, "hash-code": int64(h), "name": name, "value": value}
}

func RunMethodRequest(h Handle, name string, call Call) transport.Message {
	return call.apply(transport.Message{"command": CMD_RUN_METHOD, "hash-code": int64(h), "name": name})
}

func DestructorRequest(h Handle) transport.Message {
	return transport.Message{"command": CMD_DESTRUCTOR, "hash-code": int64(h)}
}

func ParseConnectReply(m transport.Message) (version *string, api []MethodDescriptor, err error) {
	if raw, ok := m["version"]; ok && raw != nil {
		s, isString := raw.(string)
		if !isString {
			err = fmt.Errorf("connect reply version is %T, not a string", raw)
			return
		}
		version = &s
	}
	api, err = ParseMethodDescriptors(m["api"])
	return
}

func ParseMethodDescriptors(v interface{}) (descriptors []MethodDescriptor, err error) {
	if v == nil {
		return
	}
	list, ok := v.([]interface{})
	if !ok {
		err = fmt.Errorf("api is %T, not a list", v)
		return
	}
	for i, item := range list {
		entry, ok := item.(map[string]interface{})
		if !ok {
			err = fmt.Errorf("api entry %d is %T, not an object", i, item)
			return
		}
		var d MethodDescriptor
		if d.Name, err = stringField(entry, "name"); err != nil {
			return
		}
		if d.ArgumentTypes, err = StringList(entry["arguments"]); err != nil {
			return
		}
		if rt, present := entry["return-type"]; present && rt != nil {
			if d.ReturnType, err = stringField(entry, "return-type"); err != nil {
				return
			}
		}
		descriptors = append(descriptors, d)
	}
	return
}

//	ParseClassDescriptor reads a constructor reply or an unserialized-object envelope.
func ParseClassDescriptor(m map[string]interface{}) (d ClassDescriptor, err error) {
	if d.Class, err = stringField(m, "class"); err != nil {
		return
	}
	if d.Handle, err = ParseHandle(m["hash-code"]); err != nil {
		return
	}
	if d.Interfaces, err = StringList(m["interfaces"]); err != nil {
		return
	}
	if d.Fields, err = StringList(m["fields"]); err != nil {
		return
	}
	if d.API, err = ParseMethodDescriptors(m["api"]); err != nil {
		return
	}
	if raw, ok := m["port"]; ok && raw != nil {
		var port int64
		if port, err = Int64(raw); err != nil {
			return
		}
		p := int(port)
		d.Port = &p
	}
	return
}

func ParseHandle(v interface{}) (h Handle, err error) {
	if s, ok := v.(string); ok {
		var parsed int64
		parsed, err = strconv.ParseInt(s, 10, 64)
		h = Handle(parsed)
		return
	}
	n, err := Int64(v)
	h = Handle(n)
	return
}

func Int64(v interface{}) (n int64, err error) {
	switch value := v.(type) {
	case json.Number:
		n, err = value.Int64()
	case int64:
		n = value
	case int:
		n = int64(value)
	case float64:
		n = int64(value)
	default:
		err = fmt.Errorf("expected an integer, got %T", v)
	}
	return
}

func StringList(v interface{}) (s []string, err error) {
	if v == nil {
		return
	}
	list, ok := v.([]interface{})
	if !ok {
		err = fmt.Errorf("expected a list of strings, got %T", v)
		return
	}
	for _, item := range list {
		str, ok := item.(string)
		if !ok {
			err = fmt.Errorf("expected a string, got %T", item)
			return
		}
		s = append(s, str)
	}
	return
}

func stringField(m map[string]interface{}, key string) (s string, err error) {
	s, ok := m[key].(string)
	if !ok {
		err = fmt.Errorf("field %q is %T, not a string", key, m[key])
	}
	return
}
