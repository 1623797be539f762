package pipeline

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/askiada/go-orchestrator/pkg/checkpoint/codec"
)

// Context is the data carrier shared by every operation of a run.
//
// Values are kept in insertion order. Once locked, a Context stays locked: non-required
// operations are skipped from then on. All methods are safe for concurrent use, which is
// what allows the children of a parallel group to record values and messages at the same time.
type Context struct {
	mu       sync.RWMutex
	keys     []string
	values   map[string]any
	locked   bool
	messages []Message
	pause    *string
	// runs holds the state composite operations keep between their execution and their rollback.
	// It is never part of a snapshot.
	runs map[any]any
}

// NewContext creates an empty context.
func NewContext() *Context {
	return &Context{
		values: make(map[string]any),
	}
}

// Set stores v under key. An existing key keeps its position.
func (c *Context) Set(key string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.values[key]; !ok {
		c.keys = append(c.keys, key)
	}
	c.values[key] = v
}

// Get returns the value stored under key.
func (c *Context) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	if raw, isRaw := v.(*rawValue); isRaw {
		var decoded any
		if err := raw.codec.Unmarshal(raw.data, &decoded); err != nil {
			return nil, false
		}

		return decoded, true
	}

	return v, ok
}

func (c *Context) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.values[key]

	return ok
}

func (c *Context) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.values[key]; !ok {
		return
	}
	delete(c.values, key)
	for i, k := range c.keys {
		if k == key {
			c.keys = append(c.keys[:i], c.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (c *Context) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return append([]string(nil), c.keys...)
}

func (c *Context) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.keys)
}

// Lock marks the context as locked. It can not be unlocked.
func (c *Context) Lock() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.locked = true
}

func (c *Context) IsLocked() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.locked
}

func (c *Context) setRunState(owner, state any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runs == nil {
		c.runs = make(map[any]any)
	}
	c.runs[owner] = state
}

// takeRunState returns and forgets the state owner recorded in the context.
func (c *Context) takeRunState(owner any) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := c.runs[owner]
	delete(c.runs, owner)

	return state
}

// AddMessage appends messages to the context.
func (c *Context) AddMessage(msgs ...Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msgs...)
}

func (c *Context) Info(text string) {
	c.AddMessage(Message{Severity: SeverityInfo, Text: text})
}

func (c *Context) Warn(text string) {
	c.AddMessage(Message{Severity: SeverityWarning, Text: text})
}

func (c *Context) Error(err error) {
	c.AddMessage(ErrorMessage(err))
}

// Messages returns a copy of the accumulated messages.
func (c *Context) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return append([]Message(nil), c.messages...)
}

// HasErrors reports whether an error severity message has been recorded.
func (c *Context) HasErrors() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return hasErrors(c.messages)
}

// RequestPause asks the running sequence to pause once the current step is finished.
func (c *Context) RequestPause(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pause = &reason
}

// PauseRequested returns the pause reason, if a pause has been requested.
func (c *Context) PauseRequested() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.pause == nil {
		return "", false
	}

	return *c.pause, true
}

func (c *Context) clearPause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pause = nil
}

// Value returns the value stored under key as a T.
// Values restored from a checkpoint are decoded into T on first access.
func Value[T any](c *Context, key string) (T, bool) {
	var zero T
	c.mu.RLock()
	v, ok := c.values[key]
	c.mu.RUnlock()
	if !ok {
		return zero, false
	}

	raw, isRaw := v.(*rawValue)
	if !isRaw {
		typed, ok := v.(T)
		return typed, ok
	}

	var decoded T
	if err := raw.codec.Unmarshal(raw.data, &decoded); err != nil {
		return zero, false
	}
	c.mu.Lock()
	if c.values[key] == v {
		c.values[key] = decoded
	}
	c.mu.Unlock()

	return decoded, true
}

// rawValue is a value restored from a checkpoint and not yet decoded.
type rawValue struct {
	codec codec.Codec
	data  []byte
}

type entry struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

type snapshot struct {
	Entries  []entry   `json:"entries" yaml:"entries"`
	Locked   bool      `json:"locked" yaml:"locked"`
	Messages []Message `json:"messages,omitempty" yaml:"messages,omitempty"`
}

// Snapshot encodes the context with cdc. Entries keep their order.
func (c *Context) Snapshot(cdc codec.Codec) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := snapshot{
		Entries:  make([]entry, 0, len(c.keys)),
		Locked:   c.locked,
		Messages: c.messages,
	}
	for _, key := range c.keys {
		v := c.values[key]
		if raw, ok := v.(*rawValue); ok && raw.codec.Name() == cdc.Name() {
			snap.Entries = append(snap.Entries, entry{Key: key, Value: string(raw.data)})
			continue
		}
		if raw, ok := v.(*rawValue); ok {
			return nil, errors.Wrapf(ErrCodecMismatch, "key %s encoded with %s", key, raw.codec.Name())
		}
		data, err := cdc.Marshal(v)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to encode key %s", key)
		}
		snap.Entries = append(snap.Entries, entry{Key: key, Value: string(data)})
	}

	data, err := cdc.Marshal(snap)
	if err != nil {
		return nil, errors.Wrap(err, "unable to encode context")
	}

	return data, nil
}

// Restore rebuilds a context from a snapshot encoded with cdc.
func Restore(cdc codec.Codec, data []byte) (*Context, error) {
	var snap snapshot
	if err := cdc.Unmarshal(data, &snap); err != nil {
		return nil, errors.Wrap(err, "unable to decode context")
	}

	c := NewContext()
	for _, e := range snap.Entries {
		c.keys = append(c.keys, e.Key)
		c.values[e.Key] = &rawValue{codec: cdc, data: []byte(e.Value)}
	}
	c.locked = snap.Locked
	c.messages = snap.Messages

	return c, nil
}
