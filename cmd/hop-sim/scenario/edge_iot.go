package scenario

// EdgeIoTScenario returns a telemetry pipeline: an edge gateway batches
// sensor readings, the ingest service stores them and raises alerts through
// a second hop.
func EdgeIoTScenario() *Scenario {
	return &Scenario{
		Name:        "edge-iot",
		Description: "Sensor readings relayed through ingest and alerting hops",
		Baggage:     map[string]string{"site": "fab-7"},
		Root: Step{
			Name:     "CollectReadings",
			Service:  "edge-gateway",
			Kind:     SpanKindInternal,
			Duration: Duration(5_000_000), // 5ms
			Attributes: map[string]string{
				"device.id":     "sensor-0042",
				"reading.count": "64",
			},
			Baggage: map[string]string{"device.id": "sensor-0042"},
			Children: []Step{
				{
					Name:        "IngestReadings",
					Service:     "ingest-service",
					Destination: "telemetry.raw",
					Duration:    Duration(8_000_000), // 8ms
					Children: []Step{
						{
							Name:     "HSET device:state",
							Service:  "ingest-service",
							Kind:     SpanKindClient,
							Duration: Duration(1_000_000), // 1ms
							Attributes: map[string]string{
								"db.system":     "redis",
								"db.query.text": "HSET device:state:sensor-0042 ...",
							},
						},
						{
							Name:     "INSERT readings",
							Service:  "ingest-service",
							Kind:     SpanKindClient,
							Duration: Duration(4_000_000), // 4ms
							Attributes: map[string]string{
								"db.system":    "postgresql",
								"db.namespace": "timeseries",
							},
						},
						{
							Name:        "EvaluateThresholds",
							Service:     "alert-service",
							Destination: "telemetry.alerts",
							Duration:    Duration(3_000_000), // 3ms
							ErrorRate:   0.01,
							ErrorStatus: "threshold rules not loaded",
							Logs: []LogTemplate{
								{
									Level:      "WARN",
									Message:    "Temperature above threshold",
									Attributes: map[string]string{"temperature.celsius": "81.5"},
								},
							},
						},
					},
				},
			},
		},
	}
}
