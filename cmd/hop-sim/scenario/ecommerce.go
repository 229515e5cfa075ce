package scenario

// EcommerceScenario returns the order flow: the order service persists an
// order and publishes it, inventory reserves stock and in turn publishes a
// shipment request.
func EcommerceScenario() *Scenario {
	return &Scenario{
		Name:        "ecommerce",
		Description: "Order creation fanning out to inventory and shipping over the broker",
		Root: Step{
			Name:     "POST /orders",
			Service:  "order-service",
			Kind:     SpanKindServer,
			Duration: Duration(30_000_000), // 30ms
			Attributes: map[string]string{
				"http.request.method":       "POST",
				"http.route":                "/orders",
				"http.response.status_code": "201",
			},
			Baggage: map[string]string{"order.id": "ord-1042"},
			Children: []Step{
				{
					Name:     "INSERT order",
					Service:  "order-service",
					Kind:     SpanKindClient,
					Duration: Duration(12_000_000), // 12ms
					Attributes: map[string]string{
						"db.system":     "postgresql",
						"db.namespace":  "orders",
						"db.query.text": "INSERT INTO orders (...) VALUES (...)",
					},
				},
				{
					Name:        "ReserveStock",
					Service:     "inventory-service",
					Destination: "order.created",
					Duration:    Duration(20_000_000), // 20ms
					ErrorRate:   0.02,
					ErrorStatus: "insufficient stock",
					MaxAttempts: 2,
					Children: []Step{
						{
							Name:        "ScheduleShipment",
							Service:     "shipping-service",
							Destination: "stock.reserved",
							Duration:    Duration(15_000_000), // 15ms
							Logs: []LogTemplate{
								{Level: "INFO", Message: "Shipment scheduled"},
							},
						},
					},
				},
			},
		},
	}
}

// HelloScenario returns the minimal sender/receiver exchange: an HTTP send
// request whose message is consumed by a single receiver.
func HelloScenario() *Scenario {
	return &Scenario{
		Name:        "hello",
		Description: "One message from the sender service to the receiver service",
		Root: Step{
			Name:     "POST /send",
			Service:  "sender",
			Kind:     SpanKindServer,
			Duration: Duration(2_000_000), // 2ms
			Attributes: map[string]string{
				"http.request.method":       "POST",
				"http.route":                "/send",
				"http.response.status_code": "202",
			},
			Baggage: map[string]string{"Sent by": "AsyncApp.Sender"},
			Children: []Step{
				{
					Name:        "ReceiveMessage",
					Service:     "receiver",
					Destination: "hello",
					Duration:    Duration(1_000_000), // 1ms
					Logs: []LogTemplate{
						{Level: "INFO", Message: "Message received"},
					},
				},
			},
		},
	}
}
