package mqttapp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/solatis/aadnode/internal/command"
	"github.com/solatis/aadnode/internal/types"
)

// TopicType is the first segment after the command prefix.
type TopicType int

const (
	TopicSet TopicType = iota
	TopicCfg
	TopicCtl
	TopicUnknown
)

var topicTypePrefixes = [...]string{
	TopicSet: "set/",
	TopicCfg: "cfg/",
	TopicCtl: "ctl/",
}

func (t TopicType) String() string {
	if t >= 0 && int(t) < len(topicTypePrefixes) {
		return strings.TrimSuffix(topicTypePrefixes[t], "/")
	}
	return "unknown"
}

func topicTypeOf(topic string) TopicType {
	for i, p := range topicTypePrefixes {
		if strings.HasPrefix(topic, p) {
			return TopicType(i)
		}
	}
	return TopicUnknown
}

type topicEntry struct {
	typ    TopicType
	name   string
	method command.Method
}

// Topics routes "<type>/<name>" topics to command methods. The message
// payload is the method's data object.
type Topics struct {
	entries []topicEntry
}

// NewTopics returns an empty registry limited to types.MaxTopics entries.
func NewTopics() *Topics {
	return &Topics{}
}

// Register binds name under typ to m.
func (t *Topics) Register(typ TopicType, name string, m command.Method) error {
	if typ < 0 || typ >= TopicUnknown || name == "" {
		return fmt.Errorf("invalid topic %s/%s", typ, name)
	}
	for _, e := range t.entries {
		if e.typ == typ && e.name == name {
			return fmt.Errorf("%w: %s/%s", types.ErrDuplicateMethod, typ, name)
		}
	}
	if len(t.entries) >= types.MaxTopics {
		return fmt.Errorf("%w: cannot add %s/%s", types.ErrRegistryFull, typ, name)
	}
	t.entries = append(t.entries, topicEntry{typ: typ, name: name, method: m})
	return nil
}

// Names lists registered topics as "<type>/<name>".
func (t *Topics) Names() []string {
	out := make([]string, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.typ.String() + "/" + e.name
	}
	return out
}

// Handle runs the method bound to topic, which excludes the command prefix.
// An empty payload runs the method without data.
func (t *Topics) Handle(topic string, payload []byte) (TopicType, string, command.Response) {
	typ := topicTypeOf(topic)
	if typ == TopicUnknown {
		return typ, "", result(command.UnknownMQTTTopicType, nil)
	}
	name := strings.TrimPrefix(topic, topicTypePrefixes[typ])

	var m *command.Method
	for i := range t.entries {
		if t.entries[i].typ == typ && t.entries[i].name == name {
			m = &t.entries[i].method
			break
		}
	}
	if m == nil {
		return typ, name, result(command.ErrorParsing, nil)
	}

	call := &command.Call{}
	var data *json.RawMessage
	if len(bytes.TrimSpace(payload)) > 0 {
		raw := json.RawMessage(payload)
		data = &raw
	}
	if err := command.Run(m, call, data); err != nil {
		return typ, name, result(command.ErrorParsing, nil)
	}
	code, msg := command.Finish(m, call)
	return typ, name, result(code, msg)
}

func result(code command.ErrorCode, msg json.RawMessage) command.Response {
	return command.Response{Error: code, ErrorStr: code.String(), Msg: msg}
}
