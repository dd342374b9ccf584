package db

const schemaSQL = `
-- ===========================================================================
-- REGISTRY (devices and screens)
-- ===========================================================================

CREATE TABLE IF NOT EXISTS devices (
  device_id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  screen_id TEXT,
  provisioning_token TEXT,
  status TEXT NOT NULL DEFAULT 'offline',
  last_seen TEXT,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_devices_owner ON devices(owner_id);
CREATE INDEX IF NOT EXISTS idx_devices_screen ON devices(screen_id) WHERE screen_id IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS idx_devices_provisioning_token ON devices(provisioning_token) WHERE provisioning_token IS NOT NULL;

CREATE TABLE IF NOT EXISTS screens (
  screen_id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  display_name TEXT NOT NULL,
  active INTEGER NOT NULL DEFAULT 1,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_screens_owner ON screens(owner_id);

-- ===========================================================================
-- COMMAND QUEUE (append/ack, never deleted)
-- ===========================================================================

CREATE TABLE IF NOT EXISTS device_commands (
  command_id TEXT PRIMARY KEY,
  device_id TEXT,
  screen_id TEXT,
  command TEXT NOT NULL,
  payload TEXT NOT NULL DEFAULT '{}',
  status TEXT NOT NULL DEFAULT 'pending',
  created_at TEXT NOT NULL,
  acknowledged_at TEXT,
  CHECK ((device_id IS NULL) != (screen_id IS NULL))
);

CREATE INDEX IF NOT EXISTS idx_commands_device_pending ON device_commands(device_id, status, created_at) WHERE device_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_commands_screen_pending ON device_commands(screen_id, status, created_at) WHERE screen_id IS NOT NULL;

-- ===========================================================================
-- LAYERED DEVICE SETTINGS (device row shadows screen row)
-- ===========================================================================

CREATE TABLE IF NOT EXISTS device_settings (
  device_id TEXT NOT NULL DEFAULT '',
  screen_id TEXT NOT NULL DEFAULT '',
  settings TEXT NOT NULL DEFAULT '{}',
  updated_at TEXT NOT NULL,
  PRIMARY KEY (device_id, screen_id)
);

-- ===========================================================================
-- HEARTBEATS (one row per screen)
-- ===========================================================================

CREATE TABLE IF NOT EXISTS heartbeats (
  screen_id TEXT PRIMARY KEY,
  status TEXT NOT NULL DEFAULT 'online',
  last_heartbeat TEXT,
  current_content TEXT,
  signal_strength INTEGER,
  updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_heartbeats_status ON heartbeats(status);

-- ===========================================================================
-- ALERTS (raised by the sweep and by playback telemetry)
-- ===========================================================================

CREATE TABLE IF NOT EXISTS alerts (
  alert_id TEXT PRIMARY KEY,
  type TEXT NOT NULL,
  severity TEXT NOT NULL DEFAULT 'medium',
  owner_id TEXT NOT NULL,
  screen_id TEXT,
  device_id TEXT,
  message TEXT NOT NULL,
  payload TEXT NOT NULL DEFAULT '{}',
  created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_owner ON alerts(owner_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_alerts_type ON alerts(type);

-- ===========================================================================
-- BOOKINGS (fed by the upstream scheduling system)
-- ===========================================================================

CREATE TABLE IF NOT EXISTS bookings (
  booking_id TEXT PRIMARY KEY,
  screen_id TEXT NOT NULL,
  content_url TEXT NOT NULL,
  scheduled_start TEXT NOT NULL,
  scheduled_end TEXT NOT NULL,
  payment_status TEXT NOT NULL DEFAULT 'pending',
  status TEXT NOT NULL DEFAULT 'scheduled',
  updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_bookings_screen_window ON bookings(screen_id, scheduled_start, scheduled_end);
CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status);

-- ===========================================================================
-- PLAYBACK TELEMETRY (append-only)
-- ===========================================================================

CREATE TABLE IF NOT EXISTS telemetry_events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  metric_name TEXT NOT NULL,
  value REAL NOT NULL,
  id_value TEXT NOT NULL,
  path TEXT NOT NULL DEFAULT '',
  recorded_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_telemetry_metric ON telemetry_events(metric_name, recorded_at);
CREATE INDEX IF NOT EXISTS idx_telemetry_session ON telemetry_events(id_value, metric_name, recorded_at);
`
