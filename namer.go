package hoptrace

// SpanNamer defines how operation names are transformed into span names.
type SpanNamer interface {
	Name(operation string) string
}

// NamerFunc adapts a function to SpanNamer.
type NamerFunc func(operation string) string

// Name calls f(operation).
func (f NamerFunc) Name(operation string) string { return f(operation) }

// DefaultNamer returns operation names unchanged, as the OpenTelemetry
// semantic conventions recommend.
type DefaultNamer struct{}

// Name returns the operation name as is.
func (DefaultNamer) Name(operation string) string {
	return operation
}

// NameHTTP returns a span name for an HTTP request: "METHOD /route".
// Example: "POST /send"
func NameHTTP(method, route string) string {
	return method + " " + route
}

// NameRPC returns a span name for an RPC call: "Service/Method".
// Example: "Greeter/SayHello"
func NameRPC(service, method string) string {
	return service + "/" + method
}

// NameMessaging returns a span name for a messaging operation:
// "operation destination".
// Example: "send orders", "process orders"
func NameMessaging(operation, destination string) string {
	if destination == "" {
		return operation
	}

	return operation + " " + destination
}
