package config

// engineConfigSchema validates the engine-level JSON configuration:
// worker pool size, retention, memory cap, checkpoint interval, log level,
// and the optional NATS ingestion subscriptions.
const engineConfigSchema = `{
  "type": "object",
  "description": "Configuration for the historical time-series storage engine.",
  "properties": {
    "num-workers": {
      "description": "Number of concurrent workers decoding NATS ingestion messages; values above 1 enable the worker pool",
      "type": "integer"
    },
    "shard-width-ms": {
      "description": "Width of a newly allocated shard's time window, in milliseconds",
      "type": "integer"
    },
    "keep-open-levels": {
      "description": "Detail levels (inclusive, 0-based) whose shard descriptors stay pooled between calls",
      "type": "integer"
    },
    "checkpoints": {
      "description": "Configuration for checkpointing in-flight aggregation buffers",
      "type": "object",
      "properties": {
        "directory": {
          "description": "Path in which checkpoint files are placed",
          "type": "string"
        },
        "interval": {
          "description": "Checkpoint interval; loaded into the config but not read by any component (checkpoints are written at shutdown only)",
          "type": "string"
        }
      },
      "required": ["interval", "directory"]
    },
    "retention": {
      "description": "Retention setting; loaded into the config but not read by any component, so it does not set any stream's proposedDataAge",
      "type": "string"
    },
    "memory-cap-mb": {
      "description": "Memory cap in MB; loaded into the config but not read by any component (the keepOpen pool is bounded by an entry count)",
      "type": "integer"
    },
    "log-level": {
      "type": "string",
      "enum": ["debug", "info", "warn", "err"]
    },
    "nats-subscriptions": {
      "description": "Subjects to subscribe to for line-protocol-encoded ingestion",
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "subscribe-to": {"type": "string"},
          "config-id-tag": {"type": "string"}
        },
        "required": ["subscribe-to"]
      }
    }
  },
  "required": ["checkpoints", "retention", "memory-cap-mb"]
}`
