package sandbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dop251/goja"
)

// ErrClosed is returned when launching on a closed instance
var ErrClosed = errors.New("sandbox instance is closed")

// Config controls an isolated execution context
type Config struct {
	Timeout       time.Duration // wall-clock bound per launch
	EnableConsole bool
	MessageBuffer int // capacity of the outbound message channel
}

// DefaultConfig returns the standard per-artifact configuration
func DefaultConfig() Config {
	return Config{
		Timeout:       5 * time.Second,
		EnableConsole: true,
		MessageBuffer: 16,
	}
}

// LogEntry is captured console output
type LogEntry struct {
	Level   string
	Message string
	Time    time.Time
}

// Instance is one isolated execution context. Each artifact gets its own
// instance and its own message channel; no instance can observe another.
// The VM runs on a separate goroutine and the host communicates only
// through messages.
type Instance struct {
	config Config

	mu       sync.Mutex
	vm       *goja.Runtime
	closed   bool
	running  bool
	messages chan Message
	console  []LogEntry
}

// NewInstance creates an idle instance
func NewInstance(config Config) *Instance {
	if config.MessageBuffer <= 0 {
		config.MessageBuffer = 16
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	return &Instance{
		config:   config,
		messages: make(chan Message, config.MessageBuffer),
	}
}

// Messages is the unordered, untrusted channel the host observes. The
// channel survives relaunches and closes only when the instance closes.
func (i *Instance) Messages() <-chan Message {
	return i.messages
}

// Launch executes a document's scripts on a fresh VM. It returns once
// evaluation finishes or the timeout interrupts it; messages posted by the
// guest arrive on Messages concurrently. A guest exception is converted to
// an error message on the channel rather than a Go error: failures inside
// the sandbox belong to the message protocol, not the host call path.
func (i *Instance) Launch(ctx context.Context, doc Document) error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return ErrClosed
	}
	vm := goja.New()
	vm.SetMaxCallStackSize(1024)
	i.vm = vm
	i.running = true
	i.console = nil
	i.mu.Unlock()

	if err := i.setupGlobals(vm, doc.Origin); err != nil {
		return err
	}

	done := make(chan struct{})
	timer := time.NewTimer(i.config.Timeout)
	defer timer.Stop()
	go func() {
		select {
		case <-timer.C:
			vm.Interrupt("execution timeout exceeded")
		case <-ctx.Done():
			vm.Interrupt("context cancelled")
		case <-done:
		}
	}()

	var guestErr error
	for _, script := range doc.Scripts {
		if _, err := vm.RunString(script); err != nil {
			guestErr = err
			break
		}
	}
	close(done)

	i.mu.Lock()
	i.running = false
	closed := i.closed
	i.mu.Unlock()

	if guestErr != nil && !closed {
		i.post(Message{
			Type:   TypeError,
			Origin: doc.Origin,
			Text:   Truncate(guestErr.Error()),
		})
	}
	return nil
}

// setupGlobals wires the reporting surface and strips everything else.
// The guest can reach the host only through parent.postMessage.
func (i *Instance) setupGlobals(vm *goja.Runtime, origin string) error {
	vm.Set("require", goja.Undefined())
	vm.Set("process", goja.Undefined())
	vm.Set("module", goja.Undefined())
	vm.Set("exports", goja.Undefined())
	vm.Set("setTimeout", func(call goja.FunctionCall) goja.Value { return goja.Undefined() })
	vm.Set("setInterval", func(call goja.FunctionCall) goja.Value { return goja.Undefined() })

	parent := vm.NewObject()
	if err := parent.Set("postMessage", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return goja.Undefined()
		}
		i.post(exportMessage(call.Arguments[0], origin))
		return goja.Undefined()
	}); err != nil {
		return err
	}
	if err := vm.Set("parent", parent); err != nil {
		return err
	}

	if i.config.EnableConsole {
		console := vm.NewObject()
		for _, level := range []string{"log", "warn", "error", "info"} {
			console.Set(level, i.makeConsoleFunc(level))
		}
		vm.Set("console", console)
	}
	return nil
}

// exportMessage normalizes a guest postMessage payload into a Message
func exportMessage(val goja.Value, origin string) Message {
	m := Message{Origin: origin}
	obj, ok := val.Export().(map[string]interface{})
	if !ok {
		return m
	}
	if t, ok := obj["type"].(string); ok {
		m.Type = Type(t)
	}
	if text, ok := obj["message"].(string); ok {
		m.Text = Truncate(text)
	}
	if text, ok := obj["error"].(string); ok && m.Text == "" {
		m.Text = Truncate(text)
	}
	if success, ok := obj["success"].(bool); ok {
		m.Success = success
	}
	return m
}

// post delivers without blocking the VM goroutine; when the host falls
// behind the oldest unread message is dropped, which the unordered
// at-most-once channel contract already permits.
func (i *Instance) post(m Message) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return
	}
	select {
	case i.messages <- m:
	default:
		select {
		case <-i.messages:
		default:
		}
		select {
		case i.messages <- m:
		default:
		}
	}
}

func (i *Instance) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		var msg string
		for n, arg := range call.Arguments {
			if n > 0 {
				msg += " "
			}
			msg += arg.String()
		}
		i.mu.Lock()
		i.console = append(i.console, LogEntry{Level: level, Message: msg, Time: time.Now()})
		i.mu.Unlock()
		return goja.Undefined()
	}
}

// Console returns captured console output for the last launch
func (i *Instance) Console() []LogEntry {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]LogEntry(nil), i.console...)
}

// Close tears the instance down. Any in-flight VM is interrupted and the
// message channel is closed.
func (i *Instance) Close() error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return nil
	}
	i.closed = true
	vm := i.vm
	running := i.running
	close(i.messages)
	i.mu.Unlock()

	if running && vm != nil {
		vm.Interrupt("instance closed")
	}
	return nil
}
