// Package paybridge provides a webhook ingestion and delivery engine for
// payment and KYC providers.
//
// PayBridge receives provider webhooks (Paystack, Flutterwave, Stripe, Mono),
// verifies their signatures, normalizes them to canonical event types, and
// records each exactly once in an idempotent event ledger. Processed events
// fan out as signed HTTP deliveries to registered subscriptions, with fixed
// backoff retries, a dead letter queue, per-subscription health tracking, and
// hourly delivery metrics.
//
// Key features:
//   - Provider adapters with HMAC signature verification and payload
//     normalization
//   - Exactly-once ingestion keyed by (provider, provider_event_id)
//   - Signed outbound deliveries (HMAC-SHA256 over "{timestamp}.{body}")
//   - Fixed retry schedule (1m, 10m, 1h, 6h, 24h) with dead lettering
//   - Subscription health states, 410 Gone auto-disable, manual replay
//   - Composable store pattern with Bun (Postgres, SQLite), Redis and
//     in-memory backends
//
// Quick start:
//
//	bridge, err := paybridge.New(
//	    paybridge.WithStore(memoryStore),
//	    paybridge.WithProviders(provider.DefaultRegistry(secrets)),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	bridge.Start(ctx)
//	defer bridge.Stop(ctx)
//
//	evt, err := bridge.Ingest(ctx, provider.Paystack, body, signature)
package paybridge
