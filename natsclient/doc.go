// Package natsclient manages the NATS connection used for the canonical
// measurement stream and the configuration cache KV bucket.
//
// The Client wraps nats.Conn with a circuit breaker: repeated connection
// failures open the circuit and further attempts fail fast with ErrCircuitOpen
// until the backoff expires. Connection state is mirrored into the core
// Prometheus metrics when a metrics registry is supplied.
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//		natsclient.WithName("phasorstreams"),
//		natsclient.WithLogger(logger),
//	)
//	if err := client.Connect(ctx); err != nil { ... }
//	defer client.Close(context.Background())
//
//	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "PHASOR_CONFIG"})
//
// TestClient starts a NATS server container through testcontainers-go for
// integration tests (build tag "integration").
package natsclient
