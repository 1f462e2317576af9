// Package dispatch translates a decoded request frame (spec §4.1) into a
// resolver call and back into the STATUS/CHANGED reply frames the event
// loop writes to the client and to every notified subscriber (spec §4.5
// "decode; dispatch to the resolver; encode status").
//
// Request parameter layout (not fixed by spec.md beyond the STATUS/CHANGED
// reply shapes; this is the convention this repository publishes and keeps
// fixed, same spirit as the §6 ADD UNSET-payload decision):
//
//	GET          layer, group, [name]
//	SET          layer, group, name, value
//	UNSET        layer, group, name
//	LIST         layer, group
//	CREATE-GROUP layer, group, [label]
//	REMOVE-GROUP layer, group
//	SET-LABEL    layer, group, [name], label
//	NOTIFY       group, name
//	UNNOTIFY     msgid_to_remove (uint64)
//
// An empty layer parameter on GET means "cross-layer resolution" (spec
// §4.3 "get"); every other request requires an explicit layer.
package dispatch

import (
	"buxton/internal/layer"
	"buxton/internal/notify"
	"buxton/internal/resolver"
	"buxton/internal/wire"
)

// Reply is what the event loop needs to finish handling one request: the
// STATUS frame to send back to the requester, plus any CHANGED frames the
// mutation fanned out to other clients.
type Reply struct {
	StatusParams []wire.Param
	Status       wire.Status
	Deliveries   []notify.Delivery
}

func statusOnly(s wire.Status) Reply {
	return Reply{Status: s, StatusParams: []wire.Param{statusParam(s)}}
}

func statusParam(s wire.Status) wire.Param {
	return wire.Param{Type: wire.TypeInt32, Value: int32ToBytes(int32(s))}
}

func int32ToBytes(v int32) []byte {
	p, err := wire.ValueParam(wire.Value{Type: wire.TypeInt32, I32: v})
	if err != nil {
		// wire.TypeInt32 is always encodable; this cannot happen.
		panic(err)
	}
	return p.Value
}

// Handle dispatches one decoded client request. clientID identifies the
// requesting peer for NOTIFY/UNNOTIFY bookkeeping (spec §3 "Subscription").
func Handle(res *resolver.Resolver, caller resolver.Caller, clientID, msgid uint64, msgType wire.MsgType, params []wire.Param) Reply {
	switch msgType {
	case wire.MsgGet:
		return handleGet(res, caller, params)
	case wire.MsgSet:
		return handleSet(res, caller, params)
	case wire.MsgUnset:
		return handleUnset(res, caller, params)
	case wire.MsgList:
		return handleList(res, caller, params)
	case wire.MsgCreateGroup:
		return handleCreateGroup(res, caller, params)
	case wire.MsgRemoveGroup:
		return handleRemoveGroup(res, caller, params)
	case wire.MsgSetLabel:
		return handleSetLabel(res, caller, params)
	case wire.MsgNotify:
		return handleNotify(res, clientID, msgid, params)
	case wire.MsgUnnotify:
		return handleUnnotify(res, clientID, params)
	default:
		return statusOnly(wire.StatusInvalidControlField)
	}
}

func handleGet(res *resolver.Resolver, caller resolver.Caller, params []wire.Param) Reply {
	if len(params) < 2 {
		return statusOnly(wire.StatusBadArgs)
	}
	layerName := params[0].AsString()
	group := params[1].AsString()

	var key layer.Key
	switch {
	case len(params) >= 3:
		key = layer.ValueKey(layerName, group, params[2].AsString())
	default:
		key = layer.GroupKey(layerName, group)
	}
	if layerName == "" {
		key.HasLayer = false
	}

	result := res.Get(caller, key)
	return replyWithValue(result)
}

func handleSet(res *resolver.Resolver, caller resolver.Caller, params []wire.Param) Reply {
	if len(params) < 4 {
		return statusOnly(wire.StatusBadArgs)
	}
	key := layer.ValueKey(params[0].AsString(), params[1].AsString(), params[2].AsString())
	value, err := params[3].ToValue()
	if err != nil {
		return statusOnly(wire.StatusInvalidType)
	}
	result := res.Set(caller, key, value)
	return Reply{Status: result.Status, StatusParams: []wire.Param{statusParam(result.Status)}, Deliveries: result.Deliveries}
}

func handleUnset(res *resolver.Resolver, caller resolver.Caller, params []wire.Param) Reply {
	if len(params) < 3 {
		return statusOnly(wire.StatusBadArgs)
	}
	key := layer.ValueKey(params[0].AsString(), params[1].AsString(), params[2].AsString())
	result := res.Unset(caller, key)
	return Reply{Status: result.Status, StatusParams: []wire.Param{statusParam(result.Status)}, Deliveries: result.Deliveries}
}

func handleList(res *resolver.Resolver, caller resolver.Caller, params []wire.Param) Reply {
	if len(params) < 2 {
		return statusOnly(wire.StatusBadArgs)
	}
	result := res.List(caller, params[0].AsString(), params[1].AsString())
	if result.Status != wire.StatusOK {
		return statusOnly(result.Status)
	}
	out := []wire.Param{statusParam(result.Status)}
	for _, name := range result.Names {
		out = append(out, wire.StringParam(name))
	}
	return Reply{Status: result.Status, StatusParams: out}
}

func handleCreateGroup(res *resolver.Resolver, caller resolver.Caller, params []wire.Param) Reply {
	if len(params) < 2 {
		return statusOnly(wire.StatusBadArgs)
	}
	label := ""
	if len(params) >= 3 {
		label = params[2].AsString()
	}
	key := layer.GroupKey(params[0].AsString(), params[1].AsString())
	result := res.CreateGroup(caller, key, label)
	return Reply{Status: result.Status, StatusParams: []wire.Param{statusParam(result.Status)}, Deliveries: result.Deliveries}
}

func handleRemoveGroup(res *resolver.Resolver, caller resolver.Caller, params []wire.Param) Reply {
	if len(params) < 2 {
		return statusOnly(wire.StatusBadArgs)
	}
	key := layer.GroupKey(params[0].AsString(), params[1].AsString())
	result := res.RemoveGroup(caller, key)
	return Reply{Status: result.Status, StatusParams: []wire.Param{statusParam(result.Status)}, Deliveries: result.Deliveries}
}

func handleSetLabel(res *resolver.Resolver, caller resolver.Caller, params []wire.Param) Reply {
	if len(params) < 3 {
		return statusOnly(wire.StatusBadArgs)
	}
	layerName, group := params[0].AsString(), params[1].AsString()
	var key layer.Key
	var label string
	if len(params) >= 4 {
		key = layer.ValueKey(layerName, group, params[2].AsString())
		label = params[3].AsString()
	} else {
		key = layer.GroupKey(layerName, group)
		label = params[2].AsString()
	}
	result := res.SetLabel(caller, key, label)
	return Reply{Status: result.Status, StatusParams: []wire.Param{statusParam(result.Status)}, Deliveries: result.Deliveries}
}

func handleNotify(res *resolver.Resolver, clientID, msgid uint64, params []wire.Param) Reply {
	if len(params) < 2 {
		return statusOnly(wire.StatusBadArgs)
	}
	group, name := params[0].AsString(), params[1].AsString()
	res.Notify(group, name, notify.Subscription{ClientID: clientID, Msgid: msgid})
	return statusOnly(wire.StatusOK)
}

func handleUnnotify(res *resolver.Resolver, clientID uint64, params []wire.Param) Reply {
	if len(params) < 1 {
		return statusOnly(wire.StatusBadArgs)
	}
	v, err := params[0].ToValue()
	if err != nil || v.Type != wire.TypeUint64 {
		return statusOnly(wire.StatusBadArgs)
	}
	removedMsgid := v.U64
	if !res.Unnotify(clientID, removedMsgid) {
		return statusOnly(wire.StatusNotFound)
	}
	removed, err := wire.ValueParam(wire.Value{Type: wire.TypeUint64, U64: removedMsgid})
	if err != nil {
		return statusOnly(wire.StatusFailed)
	}
	return Reply{
		Status:       wire.StatusOK,
		StatusParams: []wire.Param{statusParam(wire.StatusOK), removed},
	}
}

func replyWithValue(result resolver.Result) Reply {
	if result.Status != wire.StatusOK {
		return statusOnly(result.Status)
	}
	out := []wire.Param{statusParam(result.Status)}
	if result.HasValue {
		value := result.Value
		value.Label = []byte(result.Label)
		p, err := wire.ValueParam(value)
		if err != nil {
			return statusOnly(wire.StatusInvalidType)
		}
		out = append(out, p)
	}
	return Reply{Status: result.Status, StatusParams: out}
}

// ChangedFrame builds the CHANGED frame params for one delivery (spec §4.6,
// §6 "CHANGED frame"): the key name, then the new value unless this
// delivery is an UNSET (the §6 ADD open-question resolution: the value
// parameter is omitted for unsets).
func ChangedFrame(d notify.Delivery) ([]wire.Param, error) {
	params := []wire.Param{wire.StringParam(d.Change.Name)}
	if d.Change.Unset {
		return params, nil
	}
	value := d.Change.Value
	value.Label = []byte(d.Change.Label)
	p, err := wire.ValueParam(value)
	if err != nil {
		return nil, err
	}
	return append(params, p), nil
}
