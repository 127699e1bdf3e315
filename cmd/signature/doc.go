// Package main hosts the email signature service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server serves the browser form (GET/POST /), a multipart JSON endpoint
//     (POST /v1/signatures), downloads of rendered documents (GET /download/{filename}), health probes and
//     Prometheus metrics. Multipart temp files are removed before each handler returns.
//   - Pipeline: internal/signature.Service runs validate → normalize → publish → render → persist for one
//     submission. Each stage fails closed; nothing is uploaded unless the fields and the image are both valid.
//   - Headshots: internal/headshot decodes PNG/JPEG/GIF, centre-crops to the configured square, flattens alpha onto
//     the background colour and re-encodes as JPEG. internal/publish stores the result under a content-addressed key
//     (<prefix>/<name-slug>-<sha256[:16]>.jpg) with bounded, jittered retries for transient store failures.
//   - Storage: GCS (default), S3 or S3-compatible endpoints, a local directory served under /media/, or memory.
//     Bucket and credentials are read once at startup; public read access is a deploy-time bucket setting.
//   - Documents: rendered HTML is written atomically to documents.dir as signature_<name>.html; the last writer wins.
//   - Notifications: when pubsub.project_id and pubsub.topic_name are set, a JSON event is published per rendered
//     signature. Failures are logged and never fail the request.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging with a
//     request ID per request; Prometheus metrics are exported via the metrics middleware and /metrics handler;
//     OpenTelemetry propagates trace context into logs and Pub/Sub attributes.
//
// Quick checklist:
//   - Configure env vars: SIGNATURE_SERVER_PORT or PORT, SIGNATURE_STORAGE_BACKEND, SIGNATURE_STORAGE_BUCKET,
//     SIGNATURE_STORAGE_PUBLIC_BASE_URL, SIGNATURE_S3_REGION (s3 only), SIGNATURE_DOCUMENTS_DIR,
//     SIGNATURE_PUBSUB_PROJECT_ID and SIGNATURE_PUBSUB_TOPIC_NAME.
//   - Run locally: SIGNATURE_STORAGE_BACKEND=local go run ./cmd/signature (or pass -config config.yaml).
//   - Cloud Run: the container listens on PORT, keeps no state beyond the documents directory, and shuts down
//     cleanly on SIGTERM.
package main
