package tasks

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
)

// Groups of the built-in payload families.
const (
	GroupNegotiation = "negotiation"
	GroupTransfer    = "transfer"
)

// ErrUnknownPayload is returned when a wire type has no registered variant.
var ErrUnknownPayload = errors.New("unknown payload type")

// Payload is a process step. Name is stable and used for routing; Group is a
// coarse classification shared by every step of a process family.
type Payload interface {
	Name() string
	Group() string
	Ref() ProcessRef
}

// NegotiationPayload is implemented by every contract negotiation step.
type NegotiationPayload interface {
	Payload
	isNegotiation()
}

// TransferPayload is implemented by every transfer process step.
type TransferPayload interface {
	Payload
	isTransfer()
}

// ProcessRef identifies the process a step belongs to and the state the
// process was in when the step was produced. ProcessID and ProcessState
// together form the correlation key consumers validate against.
type ProcessRef struct {
	ProcessID    string `json:"processId"`
	ProcessState string `json:"processState"`
	ProcessType  string `json:"processType"`
}

// NewProcessRef returns a reference with all required fields present.
func NewProcessRef(processID, processState, processType string) (ProcessRef, error) {
	ref := ProcessRef{ProcessID: processID, ProcessState: processState, ProcessType: processType}
	if err := ref.Validate(); err != nil {
		return ProcessRef{}, err
	}
	return ref, nil
}

// Validate checks that every field is set.
func (r ProcessRef) Validate() error {
	var missing []string
	if strings.TrimSpace(r.ProcessID) == "" {
		missing = append(missing, "processId")
	}
	if strings.TrimSpace(r.ProcessState) == "" {
		missing = append(missing, "processState")
	}
	if strings.TrimSpace(r.ProcessType) == "" {
		missing = append(missing, "processType")
	}
	if len(missing) > 0 {
		return fmt.Errorf("process reference is missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// Ref returns the reference itself so variants embedding it satisfy Payload.
func (r ProcessRef) Ref() ProcessRef { return r }

type negotiationStep struct{}

func (negotiationStep) Group() string  { return GroupNegotiation }
func (negotiationStep) isNegotiation() {}

type transferStep struct{}

func (transferStep) Group() string { return GroupTransfer }
func (transferStep) isTransfer()   {}

type payloadCodec struct {
	decode func(data []byte) (Payload, error)
}

var registry = struct {
	sync.RWMutex
	byWire map[string]payloadCodec
	byType map[reflect.Type]string
}{
	byWire: make(map[string]payloadCodec),
	byType: make(map[reflect.Type]string),
}

// RegisterPayload makes the variant T known to the codec under wireType.
// It panics if the wire type or the Go type is registered twice.
func RegisterPayload[T Payload](wireType string) {
	typ := reflect.TypeOf((*T)(nil)).Elem()

	registry.Lock()
	defer registry.Unlock()
	if _, dup := registry.byWire[wireType]; dup {
		panic("tasks: RegisterPayload called twice for " + wireType)
	}
	if _, dup := registry.byType[typ]; dup {
		panic("tasks: RegisterPayload called twice for " + typ.String())
	}
	registry.byWire[wireType] = payloadCodec{
		decode: func(data []byte) (Payload, error) {
			var v T
			if err := json.Unmarshal(data, &v); err != nil {
				return nil, err
			}
			return v, nil
		},
	}
	registry.byType[typ] = wireType
}

// WireType returns the type discriminator registered for the payload.
func WireType(p Payload) (string, bool) {
	if p == nil {
		return "", false
	}
	registry.RLock()
	defer registry.RUnlock()
	name, ok := registry.byType[reflect.TypeOf(p)]
	return name, ok
}

// WireTypes lists the registered discriminators in lexical order.
func WireTypes() []string {
	registry.RLock()
	names := make([]string, 0, len(registry.byWire))
	for name := range registry.byWire {
		names = append(names, name)
	}
	registry.RUnlock()
	sort.Strings(names)
	return names
}

// EncodePayload serializes a payload and returns its discriminator.
func EncodePayload(p Payload) (string, []byte, error) {
	wireType, ok := WireType(p)
	if !ok {
		return "", nil, fmt.Errorf("%w: %T", ErrUnknownPayload, p)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", nil, fmt.Errorf("marshal payload %s: %w", wireType, err)
	}
	return wireType, data, nil
}

// DecodePayload rebuilds the payload registered under wireType.
func DecodePayload(wireType string, data []byte) (Payload, error) {
	registry.RLock()
	codec, ok := registry.byWire[wireType]
	registry.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPayload, wireType)
	}
	p, err := codec.decode(data)
	if err != nil {
		return nil, fmt.Errorf("unmarshal payload %s: %w", wireType, err)
	}
	return p, nil
}

// NewPayload builds the variant registered under wireType for the reference.
func NewPayload(wireType string, ref ProcessRef) (Payload, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(ref)
	if err != nil {
		return nil, err
	}
	return DecodePayload(wireType, data)
}

// taskJSON is the wire and storage layout of a Task. The payload
// discriminator sits next to the payload rather than inside it.
type taskJSON struct {
	ID         string          `json:"id"`
	At         int64           `json:"at"`
	RetryCount int             `json:"retryCount"`
	Name       string          `json:"name"`
	Group      string          `json:"group"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
}

// MarshalJSON implements json.Marshaler.
func (t Task) MarshalJSON() ([]byte, error) {
	wireType, data, err := EncodePayload(t.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(taskJSON{
		ID:         t.ID,
		At:         t.At,
		RetryCount: t.RetryCount,
		Name:       t.Name,
		Group:      t.Group,
		Type:       wireType,
		Payload:    data,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Task) UnmarshalJSON(b []byte) error {
	var raw taskJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.Type == "" {
		return fmt.Errorf("%w: missing payload type", ErrUnknownPayload)
	}
	p, err := DecodePayload(raw.Type, raw.Payload)
	if err != nil {
		return err
	}
	*t = Task{
		ID:         raw.ID,
		At:         raw.At,
		RetryCount: raw.RetryCount,
		Name:       raw.Name,
		Group:      raw.Group,
		Payload:    p,
	}
	return nil
}
