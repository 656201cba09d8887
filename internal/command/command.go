// Package command parses JSON command documents and dispatches their fields
// to typed callbacks of registered methods.
//
// A command is {"method": name, "i": iterator, "data": {...}}. For the matched
// method the parser calls Init, then one callback per field of data in
// document order, then Response to obtain the result code and reply body.
package command

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/solatis/aadnode/internal/jsonpath"
	"github.com/solatis/aadnode/internal/types"
)

// Call is the per-command state shared by a method's callbacks.
type Call struct {
	// Iterator echoes the request's "i" so clients can match responses.
	Iterator uint32
	// Code and Message collect the outcome; Fail sets both.
	Code    ErrorCode
	Message string
	// Scratch holds method-specific state between Init and Response.
	Scratch any
}

// Fail records a failure message for the response.
func (c *Call) Fail(msg string) {
	c.Code = Fail
	c.Message = msg
}

// Failed reports whether a callback has recorded a failure.
func (c *Call) Failed() bool {
	return c.Code == Fail
}

// Field binds typed callbacks to one key of the data object. Callbacks left nil
// ignore values of that kind.
type Field struct {
	Name   string
	Bool   func(c *Call, v bool)
	Int    func(c *Call, v int64)
	Double func(c *Call, v float64)
	String func(c *Call, v string)
	Null   func(c *Call)
}

// Method is one registered command.
type Method struct {
	Name   string
	Fields []Field
	// Init runs before any field callback.
	Init func(c *Call)
	// Response returns the result code and the raw JSON reply body. A nil body
	// omits "msg". When Response is nil the command answers OK_NO_ACK.
	Response func(c *Call) (ErrorCode, json.RawMessage)
}

// Response is the reply envelope sent back to the client.
type Response struct {
	Error    ErrorCode       `json:"error"`
	ErrorStr string          `json:"error_str"`
	Msg      json.RawMessage `json:"msg,omitempty"`
	I        uint32          `json:"i"`
}

// Marshal encodes the reply envelope.
func (r Response) Marshal() []byte {
	out, err := json.Marshal(r)
	if err != nil {
		// Msg is the only field that can fail and it comes from handlers.
		out, _ = json.Marshal(Response{Error: r.Error, ErrorStr: r.ErrorStr, I: r.I})
	}
	return out
}

// Quote returns s as a JSON string body.
func Quote(s string) json.RawMessage {
	out, _ := json.Marshal(s)
	return out
}

// Registry holds up to a fixed number of methods.
type Registry struct {
	methods []Method
	limit   int
}

// NewRegistry returns a registry limited to types.MaxMethods methods.
func NewRegistry() *Registry {
	return &Registry{limit: types.MaxMethods}
}

// Register adds a method.
func (r *Registry) Register(m Method) error {
	if m.Name == "" {
		return fmt.Errorf("method without a name")
	}
	if r.Lookup(m.Name) != nil {
		return fmt.Errorf("%w: %s", types.ErrDuplicateMethod, m.Name)
	}
	if len(r.methods) >= r.limit {
		return fmt.Errorf("%w: cannot add %s", types.ErrRegistryFull, m.Name)
	}
	r.methods = append(r.methods, m)
	return nil
}

// Lookup returns the method with the given name or nil.
func (r *Registry) Lookup(name string) *Method {
	for i := range r.methods {
		if r.methods[i].Name == name {
			return &r.methods[i]
		}
	}
	return nil
}

// Names lists registered methods in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.methods))
	for i, m := range r.methods {
		names[i] = m.Name
	}
	return names
}

type envelope struct {
	Method *string          `json:"method"`
	I      uint32           `json:"i"`
	Data   *json.RawMessage `json:"data"`
}

// Parse runs one command document and returns its reply.
func (r *Registry) Parse(doc []byte) Response {
	var env envelope
	if err := json.Unmarshal(doc, &env); err != nil || env.Method == nil {
		log.Debug().Err(err).Msg("Invalid command")
		return reply(ErrorParsing, nil, env.I)
	}

	m := r.Lookup(*env.Method)
	if m == nil {
		log.Debug().Str("method", *env.Method).Msg("Unknown method")
		return reply(ErrorParsing, nil, env.I)
	}

	call := &Call{Iterator: env.I}
	if err := Run(m, call, env.Data); err != nil {
		log.Debug().Err(err).Str("method", m.Name).Msg("Invalid command data")
		return reply(ErrorParsing, nil, env.I)
	}
	code, msg := Finish(m, call)
	return reply(code, msg, env.I)
}

// Run calls Init and the field callbacks of m for data. data may be nil or JSON
// null when the command has no parameters; anything else must be an object.
func Run(m *Method, call *Call, data *json.RawMessage) error {
	var fields []field
	if data != nil && !bytes.Equal(bytes.TrimSpace(*data), []byte("null")) {
		var err error
		if fields, err = orderedFields(*data); err != nil {
			return err
		}
	}

	if m.Init != nil {
		m.Init(call)
	}
	for _, f := range fields {
		dispatchField(m, call, f)
	}
	return nil
}

// Finish returns the method's result, OK_NO_ACK when it has no Response.
func Finish(m *Method, call *Call) (ErrorCode, json.RawMessage) {
	if m.Response == nil {
		return OKNoAck, Quote(OKNoAck.String())
	}
	return m.Response(call)
}

func reply(code ErrorCode, msg json.RawMessage, i uint32) Response {
	return Response{Error: code, ErrorStr: code.String(), Msg: msg, I: i}
}

type field struct {
	name  string
	value any
}

// orderedFields decodes the members of a JSON object preserving document order.
func orderedFields(data []byte) ([]field, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("%w: data must be an object", types.ErrUnexpectedType)
	}

	var fields []field
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("%w: object key", types.ErrUnexpectedType)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
		fields = append(fields, field{name: name, value: v})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("trailing data after object")
	}
	return fields, nil
}

func dispatchField(m *Method, call *Call, f field) {
	for i := range m.Fields {
		def := &m.Fields[i]
		if def.Name != f.name {
			continue
		}
		switch jsonpath.KindOf(f.value) {
		case jsonpath.KindBool:
			if def.Bool != nil {
				def.Bool(call, f.value.(bool))
			}
		case jsonpath.KindInt:
			n, _ := jsonpath.AsInt(f.value)
			switch {
			case def.Int != nil:
				def.Int(call, n)
			case def.Double != nil:
				def.Double(call, float64(n))
			}
		case jsonpath.KindDouble:
			if def.Double != nil {
				def.Double(call, f.value.(float64))
			}
		case jsonpath.KindString:
			if def.String != nil {
				def.String(call, f.value.(string))
			}
		case jsonpath.KindNull:
			if def.Null != nil {
				def.Null(call)
			}
		default:
			log.Debug().Str("method", m.Name).Str("field", f.name).Msg("Nested values are not supported")
		}
		return
	}
	log.Debug().Str("method", m.Name).Str("field", f.name).Msg("Unknown field")
}
