// Package scenario defines the message-hop scenarios hop-sim replays.
//
// A scenario is a tree of steps. A step with a Destination is delivered as a
// message: its parent sends it through a producer and the step runs inside
// the consumer that receives it. Any other step is a plain child span.
package scenario

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// ErrInvalidScenario is returned by Validate.
var ErrInvalidScenario = errors.New("invalid scenario")

// Scenario is a named trace shape.
type Scenario struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Baggage     map[string]string `yaml:"baggage,omitempty"`
	Root        Step              `yaml:"root"`
}

// Step is one unit of simulated work.
type Step struct {
	Name        string            `yaml:"name"`
	Service     string            `yaml:"service"`
	Kind        SpanKind          `yaml:"kind,omitempty"`
	Destination string            `yaml:"destination,omitempty"`
	Duration    Duration          `yaml:"duration"`
	Attributes  map[string]string `yaml:"attributes,omitempty"`
	Baggage     map[string]string `yaml:"baggage,omitempty"`
	Children    []Step            `yaml:"children,omitempty"`
	Logs        []LogTemplate     `yaml:"logs,omitempty"`

	ErrorRate   float64 `yaml:"errorRate,omitempty"` // 0.0-1.0
	ErrorStatus string  `yaml:"errorStatus,omitempty"`

	// MaxAttempts is how many deliveries a failing hop gets before the
	// message is dropped. Only used when Destination is set.
	MaxAttempts int `yaml:"maxAttempts,omitempty"`
}

// IsHop reports whether the step is delivered as a message.
func (s *Step) IsHop() bool {
	return s.Destination != ""
}

// Attempts returns MaxAttempts, at least 1.
func (s *Step) Attempts() int {
	return max(s.MaxAttempts, 1)
}

// LogTemplate is a log record emitted while a step runs.
type LogTemplate struct {
	Level      string            `yaml:"level"` // DEBUG, INFO, WARN, ERROR
	Message    string            `yaml:"message"`
	Attributes map[string]string `yaml:"attributes,omitempty"`
}

// SpanKind is the span kind of a non-hop step.
type SpanKind string

const (
	SpanKindServer   SpanKind = "SERVER"
	SpanKindClient   SpanKind = "CLIENT"
	SpanKindInternal SpanKind = "INTERNAL"
)

// Duration is a time.Duration read from YAML strings such as "15ms".
type Duration time.Duration

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)

	return nil
}

// AsDuration converts d to a time.Duration.
func (d Duration) AsDuration() time.Duration {
	return time.Duration(d)
}

// Validate checks that every step is named, error rates are within
// [0, 1] and span kinds are known.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidScenario)
	}

	var err error
	s.Walk(func(step *Step, _ int) {
		if err != nil {
			return
		}
		switch {
		case step.Name == "":
			err = fmt.Errorf("%w: step without name", ErrInvalidScenario)
		case step.ErrorRate < 0 || step.ErrorRate > 1:
			err = fmt.Errorf("%w: step %q: errorRate %v out of range", ErrInvalidScenario, step.Name, step.ErrorRate)
		case step.Kind != "" && !slices.Contains([]SpanKind{SpanKindServer, SpanKindClient, SpanKindInternal}, step.Kind):
			err = fmt.Errorf("%w: step %q: unknown kind %q", ErrInvalidScenario, step.Name, step.Kind)
		}
	})

	return err
}

// Walk calls fn for every step, depth first, with its depth below the root.
func (s *Scenario) Walk(fn func(step *Step, depth int)) {
	walk(&s.Root, 0, fn)
}

func walk(step *Step, depth int, fn func(*Step, int)) {
	fn(step, depth)
	for i := range step.Children {
		walk(&step.Children[i], depth+1, fn)
	}
}

// Services returns the distinct services in walk order.
func (s *Scenario) Services() []string {
	var services []string
	s.Walk(func(step *Step, _ int) {
		if step.Service != "" && !slices.Contains(services, step.Service) {
			services = append(services, step.Service)
		}
	})

	return services
}

// Stats counts the steps and message hops of the scenario.
func (s *Scenario) Stats() (steps, hops int) {
	s.Walk(func(step *Step, _ int) {
		steps++
		if step.IsHop() {
			hops++
		}
	})

	return steps, hops
}

// Registry holds the embedded scenarios by name.
var Registry = map[string]*Scenario{}

func init() {
	Register(PaymentScenario())
	Register(EdgeIoTScenario())
	Register(EcommerceScenario())
	Register(HelloScenario())
}

// Register adds a scenario to the registry.
func Register(s *Scenario) {
	Registry[s.Name] = s
}

// Get retrieves a scenario by name.
func Get(name string) (*Scenario, bool) {
	s, ok := Registry[name]
	return s, ok
}

// List returns the registered scenario names, sorted.
func List() []string {
	names := make([]string, 0, len(Registry))
	for name := range Registry {
		names = append(names, name)
	}
	slices.Sort(names)

	return names
}
