// Package events is the message substrate shared by all aadnode modules:
// event envelopes, state tables, bounded mailboxes and the router that
// delivers envelopes between module goroutines.
package events

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Event is the envelope passed between modules. A non-empty payload is always
// an owned copy; the dispatch loop clears it once the handler returns.
type Event struct {
	Src  ModuleID
	Dst  ModuleID
	ID   MsgID
	Seq  uint32
	data []byte
}

var seq atomic.Uint32

// PrepareNoData builds a payload-less envelope. Panics if dst is not a module.
func PrepareNoData(id MsgID, src, dst ModuleID) Event {
	if !dst.Valid() {
		panic(fmt.Sprintf("events: destination %s out of range for %s", dst, id))
	}
	return Event{Src: src, Dst: dst, ID: id, Seq: seq.Add(1)}
}

// PrepareWithData builds an envelope carrying a copy of data.
// Panics if dst is not a module or data is empty.
func PrepareWithData(id MsgID, src, dst ModuleID, data []byte) Event {
	if len(data) == 0 {
		panic(fmt.Sprintf("events: empty payload for %s", id))
	}
	ev := PrepareNoData(id, src, dst)
	ev.data = bytes.Clone(data)
	return ev
}

// PrepareWithValue encodes a fixed-size value (bool, sized integers, or structs
// of them) little-endian as the payload. Panics on values encoding/binary cannot size.
func PrepareWithValue(id MsgID, src, dst ModuleID, v any) Event {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
		panic(fmt.Sprintf("events: cannot encode %T for %s: %v", v, id, err))
	}
	return PrepareWithData(id, src, dst, buf.Bytes())
}

// DataSize returns the payload length.
func (e *Event) DataSize() int {
	return len(e.data)
}

// GetData copies the payload into out. It succeeds only when len(out) equals the
// payload length and the payload is non-empty.
func (e *Event) GetData(out []byte) bool {
	if len(e.data) == 0 || len(out) != len(e.data) {
		return false
	}
	copy(out, e.data)
	return true
}

// Data returns a copy of the payload.
func (e *Event) Data() []byte {
	return bytes.Clone(e.data)
}

// Value decodes a payload written by PrepareWithValue into ptr. Same exact-size
// contract as GetData.
func (e *Event) Value(ptr any) bool {
	size := binary.Size(ptr)
	if size <= 0 || size != len(e.data) {
		return false
	}
	return binary.Read(bytes.NewReader(e.data), binary.LittleEndian, ptr) == nil
}

// Delete releases the payload. Calling it again is a no-op.
func Delete(e *Event) {
	if e == nil {
		return
	}
	e.data = nil
}

// Handler binds a message id to its callback in a state table.
type Handler struct {
	ID MsgID
	Fn func(*Event)
}

// On is shorthand for a state table entry.
func On(id MsgID, fn func(*Event)) Handler {
	return Handler{ID: id, Fn: fn}
}

// SearchAndExecute runs the first handler whose id matches ev.ID. A matching
// entry with a nil callback is a programming error and panics. Returns false and
// logs when no entry matches.
func SearchAndExecute(ev *Event, handlers []Handler) bool {
	for i := range handlers {
		if handlers[i].ID != ev.ID {
			continue
		}
		if handlers[i].Fn == nil {
			panic(fmt.Sprintf("events: nil handler for %s in %s", ev.ID, ev.Dst))
		}
		handlers[i].Fn(ev)
		return true
	}
	log.Debug().
		Str("module", ev.Dst.String()).
		Str("msg", ev.ID.String()).
		Str("src", ev.Src.String()).
		Msg("Unhandled event")
	return false
}
