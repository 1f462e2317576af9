// Package wire defines the Buxton frame format: message types, status codes,
// the typed Value union, and the Param type that rides inside a frame.
package wire

import "fmt"

// Magic is the fixed frame prefix from spec §4.1.
const Magic uint32 = 0x672

// MaxFrameSize is the total-length cap from spec §4.1/§6.
const MaxFrameSize = 4096

// MaxParams is the per-frame parameter count cap from spec §4.1/§6.
const MaxParams = 16

// HeaderSize is magic + total_len + msg_type + msgid + param_count.
const HeaderSize = 4 + 4 + 4 + 8 + 4

// ParamHeaderSize is type:u32 + label_len:u32 + value_len:u32, the fixed
// portion of every encoded parameter (spec §4.1). A parameter carrying a
// labeled value additionally carries >=2 label bytes (invariant 1) and
// >=1 value byte.
const ParamHeaderSize = 4 + 4 + 4

// MsgType identifies the frame's message.
type MsgType uint32

const (
	MsgSet MsgType = iota + 1
	MsgGet
	MsgUnset
	MsgList
	MsgCreateGroup
	MsgRemoveGroup
	MsgSetLabel
	MsgNotify
	MsgUnnotify

	MsgStatus
	MsgChanged
)

func (t MsgType) String() string {
	switch t {
	case MsgSet:
		return "SET"
	case MsgGet:
		return "GET"
	case MsgUnset:
		return "UNSET"
	case MsgList:
		return "LIST"
	case MsgCreateGroup:
		return "CREATE-GROUP"
	case MsgRemoveGroup:
		return "REMOVE-GROUP"
	case MsgSetLabel:
		return "SET-LABEL"
	case MsgNotify:
		return "NOTIFY"
	case MsgUnnotify:
		return "UNNOTIFY"
	case MsgStatus:
		return "STATUS"
	case MsgChanged:
		return "CHANGED"
	default:
		return fmt.Sprintf("MsgType(%d)", uint32(t))
	}
}

// IsClientRequest reports whether t is legal on the client->server direction.
func IsClientRequest(t MsgType) bool {
	switch t {
	case MsgSet, MsgGet, MsgUnset, MsgList, MsgCreateGroup, MsgRemoveGroup,
		MsgSetLabel, MsgNotify, MsgUnnotify:
		return true
	default:
		return false
	}
}

// IsServerReply reports whether t is legal on the server->client direction.
func IsServerReply(t MsgType) bool {
	switch t {
	case MsgStatus, MsgChanged:
		return true
	default:
		return false
	}
}

// Status is a Buxton status code, returned as parameter 0 of every STATUS frame.
type Status int32

const (
	StatusOK Status = iota
	StatusFailed
	StatusBadArgs
	StatusServerDown
	StatusSocketWrite
	StatusSocketRead
	StatusOOM
	StatusMutexLock
	StatusCallback
	StatusMessageCorrupt
	StatusExceededMaxParams
	StatusInvalidType
	StatusInvalidControlField
	StatusNotFound

	// POSIX-flavored statuses, kept distinct per spec §4.3/§7.
	StatusEPerm
	StatusEExist
	StatusENoent
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusFailed:
		return "FAILED"
	case StatusBadArgs:
		return "BAD_ARGS"
	case StatusServerDown:
		return "SERVER_DOWN"
	case StatusSocketWrite:
		return "SOCKET_WRITE"
	case StatusSocketRead:
		return "SOCKET_READ"
	case StatusOOM:
		return "OOM"
	case StatusMutexLock:
		return "MUTEX_LOCK"
	case StatusCallback:
		return "CALLBACK"
	case StatusMessageCorrupt:
		return "MESSAGE_CORRUPT"
	case StatusExceededMaxParams:
		return "EXCEEDED_MAX_PARAMS"
	case StatusInvalidType:
		return "INVALID_TYPE"
	case StatusInvalidControlField:
		return "INVALID_CONTROL_FIELD"
	case StatusNotFound:
		return "NOT_FOUND"
	case StatusEPerm:
		return "EPERM"
	case StatusEExist:
		return "EEXIST"
	case StatusENoent:
		return "ENOENT"
	default:
		return fmt.Sprintf("Status(%d)", int32(s))
	}
}

// ValueType tags the union carried by a Value.
type ValueType uint32

const (
	TypeString ValueType = iota + 1
	TypeInt32
	TypeUint32
	TypeInt64
	TypeUint64
	TypeFloat
	TypeDouble
	TypeBool
)

func (t ValueType) Valid() bool {
	return t >= TypeString && t <= TypeBool
}

// Value is the tagged union from spec §3: every stored or wire-carried value
// is one of these underlying representations, plus a mandatory label.
type Value struct {
	Type   ValueType
	Label  []byte
	Str    string
	I32    int32
	U32    uint32
	I64    int64
	U64    uint64
	F32    float32
	F64    float64
	Bool   bool
}

// MinLabelLen is the minimum label length from spec invariant 1.
const MinLabelLen = 2

// ValidLabel reports whether label satisfies spec invariant 1.
func ValidLabel(label []byte) bool {
	return len(label) >= MinLabelLen
}

// DefaultLabel is the label a direct client or a brand-new group/value
// adopts when the caller supplies none (spec §4.3 set/create-group rules).
const DefaultLabel = "_"

// GroupValue is the sentinel payload stored for a group record (spec §3).
const GroupValue = "BUXTON_GROUP_VALUE"
