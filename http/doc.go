// Package http carries hoptrace contexts over HTTP.
//
// Incoming requests are traced with [Handler] or [Middleware], which read
// the traceparent and baggage headers and start a server span. Outgoing
// requests are traced with [Transport] or [NewClient], which start a client
// span and write its context into the request headers.
//
// # HTTP Server
//
//	mux := http.NewServeMux()
//	mux.Handle("POST /send", hoptracehttp.Handler(sendHandler, "POST /send", tracer, prop))
//
// # HTTP Client
//
//	client := hoptracehttp.NewClient(tracer, prop,
//	    hoptracehttp.WithTimeout(30*time.Second),
//	)
//	resp, err := client.Do(req.WithContext(ctx))
//
// Request duration and size metrics are recorded through otelhttp with the
// MeterProvider given by [WithMeterProvider].
package http
