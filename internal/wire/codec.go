package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Param is one wire parameter: a typed, labeled byte value. Label may be nil
// for parameters that carry protocol material (key components) rather than
// a stored Value — only stored Values are required to carry a non-empty
// label (spec invariant 1).
type Param struct {
	Type  ValueType
	Label []byte
	Value []byte
}

// StringParam builds an unlabeled string parameter, used for key components
// (layer/group/name) in request frames.
func StringParam(s string) Param {
	return Param{Type: TypeString, Value: []byte(s)}
}

// AsString returns the parameter's value interpreted as a string.
func (p Param) AsString() string {
	return string(p.Value)
}

// ValueParam builds a labeled parameter carrying a full stored Value.
func ValueParam(v Value) (Param, error) {
	p := Param{Type: v.Type, Label: v.Label}
	switch v.Type {
	case TypeString:
		p.Value = []byte(v.Str)
	case TypeInt32:
		p.Value = make([]byte, 4)
		binary.LittleEndian.PutUint32(p.Value, uint32(v.I32))
	case TypeUint32:
		p.Value = make([]byte, 4)
		binary.LittleEndian.PutUint32(p.Value, v.U32)
	case TypeInt64:
		p.Value = make([]byte, 8)
		binary.LittleEndian.PutUint64(p.Value, uint64(v.I64))
	case TypeUint64:
		p.Value = make([]byte, 8)
		binary.LittleEndian.PutUint64(p.Value, v.U64)
	case TypeFloat:
		p.Value = make([]byte, 4)
		binary.LittleEndian.PutUint32(p.Value, math.Float32bits(v.F32))
	case TypeDouble:
		p.Value = make([]byte, 8)
		binary.LittleEndian.PutUint64(p.Value, math.Float64bits(v.F64))
	case TypeBool:
		p.Value = []byte{0}
		if v.Bool {
			p.Value[0] = 1
		}
	default:
		return Param{}, fmt.Errorf("wire: invalid value type %d", v.Type)
	}
	return p, nil
}

// ToValue decodes the parameter back into a typed Value.
func (p Param) ToValue() (Value, error) {
	v := Value{Type: p.Type, Label: p.Label}
	switch p.Type {
	case TypeString:
		v.Str = string(p.Value)
	case TypeInt32:
		if len(p.Value) != 4 {
			return Value{}, fmt.Errorf("wire: int32 value must be 4 bytes, got %d", len(p.Value))
		}
		v.I32 = int32(binary.LittleEndian.Uint32(p.Value))
	case TypeUint32:
		if len(p.Value) != 4 {
			return Value{}, fmt.Errorf("wire: uint32 value must be 4 bytes, got %d", len(p.Value))
		}
		v.U32 = binary.LittleEndian.Uint32(p.Value)
	case TypeInt64:
		if len(p.Value) != 8 {
			return Value{}, fmt.Errorf("wire: int64 value must be 8 bytes, got %d", len(p.Value))
		}
		v.I64 = int64(binary.LittleEndian.Uint64(p.Value))
	case TypeUint64:
		if len(p.Value) != 8 {
			return Value{}, fmt.Errorf("wire: uint64 value must be 8 bytes, got %d", len(p.Value))
		}
		v.U64 = binary.LittleEndian.Uint64(p.Value)
	case TypeFloat:
		if len(p.Value) != 4 {
			return Value{}, fmt.Errorf("wire: float value must be 4 bytes, got %d", len(p.Value))
		}
		v.F32 = math.Float32frombits(binary.LittleEndian.Uint32(p.Value))
	case TypeDouble:
		if len(p.Value) != 8 {
			return Value{}, fmt.Errorf("wire: double value must be 8 bytes, got %d", len(p.Value))
		}
		v.F64 = math.Float64frombits(binary.LittleEndian.Uint64(p.Value))
	case TypeBool:
		if len(p.Value) != 1 {
			return Value{}, fmt.Errorf("wire: bool value must be 1 byte, got %d", len(p.Value))
		}
		v.Bool = p.Value[0] != 0
	default:
		return Value{}, fmt.Errorf("wire: invalid value type %d", p.Type)
	}
	return v, nil
}

// PeekSize inspects the first bytes of a stream buffer and returns the
// frame's declared total length once the 8-byte magic+total_len prefix has
// arrived. ok is false if more bytes are needed; err is non-nil if the magic
// doesn't match or the declared length exceeds MaxFrameSize.
func PeekSize(buf []byte) (total uint32, ok bool, err error) {
	if len(buf) < 8 {
		return 0, false, nil
	}
	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != Magic {
		return 0, false, fmt.Errorf("wire: bad magic %#x", magic)
	}
	total = binary.LittleEndian.Uint32(buf[4:8])
	if total > MaxFrameSize {
		return 0, false, fmt.Errorf("wire: frame length %d exceeds cap %d", total, MaxFrameSize)
	}
	if total < HeaderSize {
		return 0, false, fmt.Errorf("wire: frame length %d shorter than header", total)
	}
	return total, true, nil
}

// Encode serializes a frame. It fails if params is too long, any param is
// malformed, or the result would exceed MaxFrameSize.
func Encode(msgType MsgType, msgid uint64, params []Param) ([]byte, error) {
	if len(params) > MaxParams {
		return nil, fmt.Errorf("wire: %d params exceeds cap %d", len(params), MaxParams)
	}

	size := HeaderSize
	for i, p := range params {
		if !p.Type.Valid() {
			return nil, fmt.Errorf("wire: param %d has invalid type %d", i, p.Type)
		}
		size += ParamHeaderSize + len(p.Label) + len(p.Value)
	}
	if size > MaxFrameSize {
		return nil, fmt.Errorf("wire: encoded frame size %d exceeds cap %d", size, MaxFrameSize)
	}

	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:4], Magic)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(size))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(msgType))
	binary.LittleEndian.PutUint64(buf[12:20], msgid)
	binary.LittleEndian.PutUint32(buf[20:24], uint32(len(params)))

	off := HeaderSize
	for _, p := range params {
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(p.Type))
		binary.LittleEndian.PutUint32(buf[off+4:off+8], uint32(len(p.Label)))
		binary.LittleEndian.PutUint32(buf[off+8:off+12], uint32(len(p.Value)))
		off += ParamHeaderSize
		off += copy(buf[off:], p.Label)
		off += copy(buf[off:], p.Value)
	}
	return buf, nil
}

// Decode parses a complete frame (exactly total_len bytes, as sized by a
// prior PeekSize) into its message type, correlation id, and parameters.
func Decode(buf []byte) (msgType MsgType, msgid uint64, params []Param, err error) {
	if len(buf) < HeaderSize {
		return 0, 0, nil, fmt.Errorf("wire: frame shorter than header (%d bytes)", len(buf))
	}
	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != Magic {
		return 0, 0, nil, fmt.Errorf("wire: bad magic %#x", magic)
	}
	total := binary.LittleEndian.Uint32(buf[4:8])
	if total > MaxFrameSize {
		return 0, 0, nil, fmt.Errorf("wire: frame length %d exceeds cap %d", total, MaxFrameSize)
	}
	if int(total) != len(buf) {
		return 0, 0, nil, fmt.Errorf("wire: declared length %d does not match buffer %d", total, len(buf))
	}

	mt := MsgType(binary.LittleEndian.Uint32(buf[8:12]))
	if !IsClientRequest(mt) && !IsServerReply(mt) {
		return 0, 0, nil, fmt.Errorf("wire: unknown msg_type %d", mt)
	}

	id := binary.LittleEndian.Uint64(buf[12:20])
	count := binary.LittleEndian.Uint32(buf[20:24])
	if count > MaxParams {
		return 0, 0, nil, fmt.Errorf("wire: param_count %d exceeds cap %d", count, MaxParams)
	}

	off := HeaderSize
	out := make([]Param, 0, count)
	for i := uint32(0); i < count; i++ {
		if off+ParamHeaderSize > len(buf) {
			return 0, 0, nil, fmt.Errorf("wire: truncated parameter header at index %d", i)
		}
		typ := ValueType(binary.LittleEndian.Uint32(buf[off : off+4]))
		labelLen := binary.LittleEndian.Uint32(buf[off+4 : off+8])
		valueLen := binary.LittleEndian.Uint32(buf[off+8 : off+12])
		off += ParamHeaderSize

		if !typ.Valid() {
			return 0, 0, nil, fmt.Errorf("wire: param %d has invalid type %d", i, typ)
		}
		// Guard against overflow before the bounds check below wraps around.
		if labelLen > MaxFrameSize || valueLen > MaxFrameSize {
			return 0, 0, nil, fmt.Errorf("wire: param %d declares an oversized field", i)
		}
		end := off + int(labelLen) + int(valueLen)
		if end > len(buf) {
			return 0, 0, nil, fmt.Errorf("wire: truncated parameter body at index %d", i)
		}

		label := buf[off : off+int(labelLen)]
		value := buf[off+int(labelLen) : end]
		off = end

		out = append(out, Param{Type: typ, Label: label, Value: value})
	}

	if off != len(buf) {
		return 0, 0, nil, fmt.Errorf("wire: %d trailing bytes after last parameter", len(buf)-off)
	}

	return mt, id, out, nil
}
