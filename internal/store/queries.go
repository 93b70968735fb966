package store

const (
	upsertRecord = `
		INSERT INTO records (
			collection,
			id,
			payload,
			locally_modified,
			version,
			created_at,
			updated_at,
			deleted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET
			payload          = excluded.payload,
			locally_modified = excluded.locally_modified,
			version          = excluded.version,
			updated_at       = excluded.updated_at,
			deleted_at       = excluded.deleted_at;`

	getRecord = `
		SELECT
			collection,
			id,
			payload,
			locally_modified,
			version,
			created_at,
			updated_at,
			deleted_at
		FROM records
		WHERE collection = ? AND id = ?;`

	purgeRecord = `
		DELETE FROM records
		WHERE collection = ? AND id = ?;`

	purgeStaleRecords = `
		DELETE FROM records
		WHERE collection = ?
		  AND locally_modified = 0
		  AND updated_at < ?;`

	insertOperation = `
		INSERT INTO operations (
			id,
			kind,
			collection,
			record_id,
			payload,
			priority,
			base_version,
			enqueued_at,
			retry_count,
			max_retries,
			last_error,
			status,
			origin_device_id,
			origin_user_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`

	// Only the earliest pending operation of each record is eligible, so
	// same-record FIFO order survives priority batching. Records parked
	// behind an unresolved conflict are skipped.
	dequeueOperations = `
		SELECT
			seq,
			id,
			kind,
			collection,
			record_id,
			payload,
			priority,
			base_version,
			enqueued_at,
			retry_count,
			max_retries,
			last_error,
			status,
			origin_device_id,
			origin_user_id
		FROM operations o
		WHERE o.status = 'pending'
		  AND o.collection = ?
		  AND o.seq = (
			SELECT MIN(o2.seq) FROM operations o2
			WHERE o2.status = 'pending'
			  AND o2.collection = o.collection
			  AND o2.record_id = o.record_id
		  )
		  AND NOT EXISTS (
			SELECT 1 FROM conflicts c
			WHERE c.resolved = 0
			  AND c.collection = o.collection
			  AND c.record_id = o.record_id
		  )
		ORDER BY o.priority, o.enqueued_at, o.seq
		LIMIT ?;`

	getOperation = `
		SELECT
			seq,
			id,
			kind,
			collection,
			record_id,
			payload,
			priority,
			base_version,
			enqueued_at,
			retry_count,
			max_retries,
			last_error,
			status,
			origin_device_id,
			origin_user_id
		FROM operations
		WHERE id = ?;`

	deleteOperation = `
		DELETE FROM operations
		WHERE id = ?;`

	failOperation = `
		UPDATE operations SET
			retry_count = ?,
			last_error  = ?,
			status      = ?
		WHERE id = ?;`

	updateOperationPayload = `
		UPDATE operations SET
			payload      = ?,
			base_version = ?
		WHERE id = ? AND status = 'pending';`

	updateOperationBaseVersion = `
		UPDATE operations SET
			base_version = ?
		WHERE id = ? AND status = 'pending';`

	deleteOperationsForRecord = `
		DELETE FROM operations
		WHERE collection = ? AND record_id = ? AND status = 'pending';`

	listPendingForRecord = `
		SELECT
			seq,
			id,
			kind,
			collection,
			record_id,
			payload,
			priority,
			base_version,
			enqueued_at,
			retry_count,
			max_retries,
			last_error,
			status,
			origin_device_id,
			origin_user_id
		FROM operations
		WHERE status = 'pending' AND collection = ? AND record_id = ?
		ORDER BY seq;`

	reactivateAbandonedOperations = `
		UPDATE operations SET
			status      = 'pending',
			retry_count = 0
		WHERE status = 'abandoned';`

	countPendingOperations = `
		SELECT COUNT(*) FROM operations
		WHERE status = 'pending';`

	insertConflict = `
		INSERT INTO conflicts (
			id,
			collection,
			record_id,
			local_payload,
			server_payload,
			local_version,
			server_version,
			detected_at,
			resolved,
			strategy,
			resolution,
			resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`

	getConflict = `
		SELECT
			id,
			collection,
			record_id,
			local_payload,
			server_payload,
			local_version,
			server_version,
			detected_at,
			resolved,
			strategy,
			resolution,
			resolved_at
		FROM conflicts
		WHERE id = ?;`

	resolveConflict = `
		UPDATE conflicts SET
			resolved    = 1,
			strategy    = ?,
			resolution  = ?,
			resolved_at = ?
		WHERE id = ? AND resolved = 0;`

	countUnresolvedConflicts = `
		SELECT COUNT(*) FROM conflicts
		WHERE resolved = 0;`

	getCursor = `
		SELECT collection, last_synced_at, updated_at
		FROM sync_meta
		WHERE collection = ?;`

	setCursor = `
		INSERT INTO sync_meta (collection, last_synced_at, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (collection) DO UPDATE SET
			last_synced_at = excluded.last_synced_at,
			updated_at     = excluded.updated_at;`
)
