package postgres

const (
	insertMessageQuery = `
		INSERT INTO consultation_messages (id, consultation_id, sender_id, sender_role, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`

	historyQuery = `
		SELECT id::text, consultation_id, sender_id, sender_role, content, created_at
		FROM consultation_messages
		WHERE consultation_id = $1
		  AND (
		    $2::timestamptz IS NULL
		    OR created_at < $2
		    OR (created_at = $2 AND id < $3::uuid)
		  )
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`

	participatesQuery = `
		SELECT EXISTS (
			SELECT 1 FROM consultation_messages
			WHERE consultation_id = $1 AND sender_id = $2
		)
	`
)
