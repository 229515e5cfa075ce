package messaging

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys following OTel messaging semantic conventions.
const (
	AttrMessagingSystem          = "messaging.system"
	AttrMessagingOperationName   = "messaging.operation.name"
	AttrMessagingOperationType   = "messaging.operation.type"
	AttrMessagingDestinationName = "messaging.destination.name"
	AttrMessagingConsumerGroup   = "messaging.consumer.group.name"
	AttrMessagingMessageID       = "messaging.message.id"
	AttrMessagingMessageBodySize = "messaging.message.body.size"
	AttrMessagingDeliveryAttempt = "messaging.delivery.attempt"
	AttrMessagingMessageBody     = "messaging.message.body"
)

// BaggageAttributePrefix prefixes baggage members copied onto consumer spans.
const BaggageAttributePrefix = "baggage."

const (
	opSend    = "send"
	opProcess = "process"
)

// sendAttributes returns attributes for a producer span.
func sendAttributes(system string, env *Envelope) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 6)

	attrs = append(attrs,
		attribute.String(AttrMessagingSystem, system),
		attribute.String(AttrMessagingOperationName, opSend),
		attribute.String(AttrMessagingOperationType, opSend),
		attribute.String(AttrMessagingDestinationName, env.Destination),
	)

	if env.ID != "" {
		attrs = append(attrs, attribute.String(AttrMessagingMessageID, env.ID))
	}

	if n := len(env.Payload); n > 0 {
		attrs = append(attrs, attribute.Int(AttrMessagingMessageBodySize, n))
	}

	return attrs
}

// processAttributes returns attributes for a consumer span.
func processAttributes(system, group string, d *Delivery) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 8)

	attrs = append(attrs,
		attribute.String(AttrMessagingSystem, system),
		attribute.String(AttrMessagingOperationName, opProcess),
		attribute.String(AttrMessagingOperationType, opProcess),
	)

	if d.Envelope.Destination != "" {
		attrs = append(attrs, attribute.String(AttrMessagingDestinationName, d.Envelope.Destination))
	}

	if group != "" {
		attrs = append(attrs, attribute.String(AttrMessagingConsumerGroup, group))
	}

	if d.Envelope.ID != "" {
		attrs = append(attrs, attribute.String(AttrMessagingMessageID, d.Envelope.ID))
	}

	if n := len(d.Envelope.Payload); n > 0 {
		attrs = append(attrs, attribute.Int(AttrMessagingMessageBodySize, n))
	}

	if d.Attempt > 0 {
		attrs = append(attrs, attribute.Int(AttrMessagingDeliveryAttempt, d.Attempt))
	}

	return attrs
}

// eventAttributes returns the attributes of the "message sent" and "message
// processed" events. The body is included, cut to bodyLimit bytes, only when
// bodyLimit is positive.
func eventAttributes(env *Envelope, bodyLimit int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(AttrMessagingMessageID, env.ID)}
	if bodyLimit <= 0 {
		return attrs
	}

	body := env.Payload
	if len(body) > bodyLimit {
		body = body[:bodyLimit]
	}

	return append(attrs, attribute.String(AttrMessagingMessageBody, string(body)))
}
