package database

// Forwarding state queries
const (
	SelectConfigQuery = `SELECT data FROM forwarding_config WHERE id = 1`

	UpsertConfigQuery = `
		INSERT INTO forwarding_config (id, data) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data
	`

	SelectStatsQuery = `
		SELECT total_forwarded, today_forwarded, last_forwarded_at, error_count, day
		FROM forwarding_stats
		WHERE id = 1
	`

	UpsertStatsQuery = `
		INSERT INTO forwarding_stats (
			id, total_forwarded, today_forwarded, last_forwarded_at, error_count, day
		) VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			total_forwarded = excluded.total_forwarded,
			today_forwarded = excluded.today_forwarded,
			last_forwarded_at = excluded.last_forwarded_at,
			error_count = excluded.error_count,
			day = excluded.day
	`
)

// Delivery log queries
const (
	InsertDeliveryQuery = `
		INSERT INTO delivery_log (
			message_id, external_id, channel, destination, destination_hash,
			text, success, error, delivered_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	SelectRecentDeliveriesQuery = `
		SELECT id, message_id, external_id, channel, destination, text,
			   success, error, delivered_at
		FROM delivery_log
		ORDER BY id DESC
		LIMIT ?
	`

	SelectDeliveriesByDestinationQuery = `
		SELECT id, message_id, external_id, channel, destination, text,
			   success, error, delivered_at
		FROM delivery_log
		WHERE destination_hash = ?
		ORDER BY id DESC
		LIMIT ?
	`

	CleanupDeliveriesQuery = `
		DELETE FROM delivery_log
		WHERE created_at < datetime('now', '-' || ? || ' days')
	`
)
