package transport

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
)

var placeholderPattern = regexp.MustCompile(`^@(-?\d+)_(\d+)$`)

func Placeholder(id int32, width int) string {
	return fmt.Sprintf("@%d_%d", id, width)
}

//	extractBuffers copies v, replacing every Buffer with its placeholder string
//	and coercing fixed-width numbers to what the JSON encoder represents natively.
func extractBuffers(v interface{}, ids *FrameIDs, frames *[]binaryFrame) interface{} {
	switch value := v.(type) {
	case Message:
		return extractBuffers(map[string]interface{}(value), ids, frames)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(value))
		for k, field := range value {
			out[k] = extractBuffers(field, ids, frames)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(value))
		for i, item := range value {
			out[i] = extractBuffers(item, ids, frames)
		}
		return out
	case Buffer:
		id := ids.Next()
		*frames = append(*frames, binaryFrame{id: id, data: value.Data})
		return Placeholder(id, value.Width)
	case *Buffer:
		if value == nil {
			return nil
		}
		return extractBuffers(*value, ids, frames)
	}
	return Normalize(v)
}

//	Normalize coerces fixed-width numeric types to int64 or float64.
func Normalize(v interface{}) interface{} {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case uint:
		return normalizeUnsigned(uint64(n))
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		return normalizeUnsigned(n)
	case float32:
		return float64(n)
	}
	return v
}

func normalizeUnsigned(n uint64) interface{} {
	if n > math.MaxInt64 {
		return float64(n)
	}
	return int64(n)
}

func spliceBuffers(v interface{}, frames map[int32][]byte) (out interface{}, err error) {
	switch value := v.(type) {
	case map[string]interface{}:
		for k, field := range value {
			if value[k], err = spliceBuffers(field, frames); err != nil {
				return
			}
		}
		out = value
	case []interface{}:
		for i, item := range value {
			if value[i], err = spliceBuffers(item, frames); err != nil {
				return
			}
		}
		out = value
	case string:
		out, err = spliceString(value, frames)
	default:
		out = v
	}
	return
}

func spliceString(s string, frames map[int32][]byte) (out interface{}, err error) {
	match := placeholderPattern.FindStringSubmatch(s)
	if match == nil {
		return s, nil
	}
	id, err := strconv.ParseInt(match[1], 10, 32)
	if err != nil {
		return
	}
	width, err := strconv.Atoi(match[2])
	if err != nil {
		return
	}
	data, ok := frames[int32(id)]
	if !ok {
		err = fmt.Errorf("placeholder %s has no side-channel frame", s)
		return
	}
	out = Buffer{Data: data, Width: width}
	return
}
