package rtmp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// AMF0 marker bytes, per the Action Message Format spec subset the
// connect/publish control sequence needs: number, boolean, string, object,
// null, and ECMA array (used for the connect command object's nested
// properties in some servers, accepted on decode for leniency).
const (
	amf0Number      = 0x00
	amf0Boolean     = 0x01
	amf0String      = 0x02
	amf0Object      = 0x03
	amf0Null        = 0x05
	amf0ECMAArray   = 0x08
	amf0ObjectEnd   = 0x09
)

// amfObject is an AMF0 "object" value: an ordered set of name/value pairs
// terminated by the object-end marker. Order is preserved because some
// RTMP servers are strict about `app` preceding other connect properties.
type amfObject struct {
	keys   []string
	values map[string]interface{}
}

func newAMFObject() *amfObject {
	return &amfObject{values: make(map[string]interface{})}
}

func (o *amfObject) set(key string, val interface{}) *amfObject {
	if _, exists := o.values[key]; !exists {
		o.keys = append(o.keys, key)
	}
	o.values[key] = val
	return o
}

// encodeAMF0 serializes a sequence of AMF0 values back to back, the way an
// RTMP command message packs [name, transactionID, commandObject, ...args]
// into one message payload.
func encodeAMF0(values ...interface{}) ([]byte, error) {
	var buf bytes.Buffer
	for i, v := range values {
		if err := encodeAMF0Value(&buf, v); err != nil {
			return nil, fmt.Errorf("rtmp: amf0 encode value %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

func encodeAMF0Value(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case nil:
		buf.WriteByte(amf0Null)
	case float64:
		buf.WriteByte(amf0Number)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], math.Float64bits(val))
		buf.Write(b[:])
	case int:
		return encodeAMF0Value(buf, float64(val))
	case bool:
		buf.WriteByte(amf0Boolean)
		if val {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case string:
		buf.WriteByte(amf0String)
		writeAMF0UTF8(buf, val)
	case *amfObject:
		if val == nil {
			buf.WriteByte(amf0Null)
			return nil
		}
		buf.WriteByte(amf0Object)
		for _, k := range val.keys {
			writeAMF0UTF8(buf, k)
			if err := encodeAMF0Value(buf, val.values[k]); err != nil {
				return err
			}
		}
		writeAMF0UTF8(buf, "")
		buf.WriteByte(amf0ObjectEnd)
	case map[string]interface{}:
		buf.WriteByte(amf0Object)
		for k, v := range val {
			writeAMF0UTF8(buf, k)
			if err := encodeAMF0Value(buf, v); err != nil {
				return err
			}
		}
		writeAMF0UTF8(buf, "")
		buf.WriteByte(amf0ObjectEnd)
	default:
		return fmt.Errorf("rtmp: amf0 encode: unsupported type %T", v)
	}
	return nil
}

func writeAMF0UTF8(buf *bytes.Buffer, s string) {
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(s)))
	buf.Write(l[:])
	buf.WriteString(s)
}

// decodeAMF0 parses every AMF0 value out of a command message payload.
func decodeAMF0(payload []byte) ([]interface{}, error) {
	r := bytes.NewReader(payload)
	var values []interface{}
	for {
		v, err := decodeAMF0Value(r)
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("rtmp: amf0 decode: %w", err)
		}
		values = append(values, v)
	}
	return values, nil
}

func decodeAMF0Value(r *bytes.Reader) (interface{}, error) {
	marker, err := r.ReadByte()
	if err != nil {
		return nil, err // propagate io.EOF for the top-level sequence loop
	}

	switch marker {
	case amf0Number:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, fmt.Errorf("rtmp: amf0 decode number: %w", err)
		}
		return math.Float64frombits(binary.BigEndian.Uint64(b[:])), nil

	case amf0Boolean:
		b, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("rtmp: amf0 decode boolean: %w", err)
		}
		return b != 0, nil

	case amf0String:
		return readAMF0UTF8(r)

	case amf0Null:
		return nil, nil

	case amf0Object, amf0ECMAArray:
		if marker == amf0ECMAArray {
			var b [4]byte
			if _, err := io.ReadFull(r, b[:]); err != nil {
				return nil, fmt.Errorf("rtmp: amf0 decode ecma array count: %w", err)
			}
		}
		obj := make(map[string]interface{})
		for {
			key, err := readAMF0UTF8(r)
			if err != nil {
				return nil, fmt.Errorf("rtmp: amf0 decode object key: %w", err)
			}
			if key == "" {
				end, err := r.ReadByte()
				if err != nil {
					return nil, fmt.Errorf("rtmp: amf0 decode object terminator: %w", err)
				}
				if end != amf0ObjectEnd {
					return nil, fmt.Errorf("rtmp: amf0 decode object: expected end marker, got 0x%02x", end)
				}
				break
			}
			val, err := decodeAMF0Value(r)
			if err != nil {
				return nil, fmt.Errorf("rtmp: amf0 decode object value for %q: %w", key, err)
			}
			obj[key] = val
		}
		return obj, nil

	default:
		return nil, fmt.Errorf("rtmp: amf0 decode: unsupported marker 0x%02x", marker)
	}
}

func readAMF0UTF8(r *bytes.Reader) (string, error) {
	var l [2]byte
	if _, err := io.ReadFull(r, l[:]); err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint16(l[:])
	if n == 0 {
		return "", nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

// asString, asNumber and asObject pull typed values out of a decoded command's
// argument slice without the call sites scattering type assertions.
func asString(v interface{}) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asNumber(v interface{}) (float64, bool) {
	n, ok := v.(float64)
	return n, ok
}

func asObject(v interface{}) (map[string]interface{}, bool) {
	o, ok := v.(map[string]interface{})
	return o, ok
}
