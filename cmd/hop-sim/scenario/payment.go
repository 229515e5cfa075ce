package scenario

// PaymentScenario returns the checkout flow: the gateway accepts a payment,
// the payment service settles it and hands it to fraud review and
// notification over the broker.
func PaymentScenario() *Scenario {
	return &Scenario{
		Name:        "payment",
		Description: "Checkout with asynchronous fraud review and customer notification",
		Baggage:     map[string]string{"tenant": "acme"},
		Root: Step{
			Name:     "POST /api/v1/checkout",
			Service:  "payment-gateway",
			Kind:     SpanKindServer,
			Duration: Duration(40_000_000), // 40ms
			Attributes: map[string]string{
				"http.request.method":       "POST",
				"http.route":                "/api/v1/checkout",
				"http.response.status_code": "202",
			},
			Baggage: map[string]string{"checkout.channel": "web"},
			Children: []Step{
				{
					Name:        "SettlePayment",
					Service:     "payment-service",
					Destination: "payments.requested",
					Duration:    Duration(60_000_000), // 60ms
					Attributes: map[string]string{
						"payment.amount":   "99.99",
						"payment.currency": "USD",
					},
					Logs: []LogTemplate{
						{Level: "INFO", Message: "Settling payment"},
					},
					Children: []Step{
						{
							Name:     "POST /v2/charges",
							Service:  "payment-service",
							Kind:     SpanKindClient,
							Duration: Duration(35_000_000), // 35ms
							Attributes: map[string]string{
								"http.request.method":       "POST",
								"url.full":                  "https://api.example-psp.com/v2/charges",
								"http.response.status_code": "200",
							},
							ErrorRate:   0.05,
							ErrorStatus: "payment declined",
						},
						{
							Name:        "ReviewTransaction",
							Service:     "fraud-detection",
							Destination: "payments.review",
							Duration:    Duration(25_000_000), // 25ms
							ErrorRate:   0.1,
							ErrorStatus: "model unavailable",
							MaxAttempts: 3,
							Logs: []LogTemplate{
								{
									Level:      "DEBUG",
									Message:    "Fraud score computed",
									Attributes: map[string]string{"fraud.score": "0.12"},
								},
							},
						},
						{
							Name:        "SendReceipt",
							Service:     "notification-service",
							Destination: "notifications.email",
							Duration:    Duration(10_000_000), // 10ms
							Logs: []LogTemplate{
								{Level: "INFO", Message: "Receipt email queued"},
							},
						},
					},
				},
			},
		},
	}
}
