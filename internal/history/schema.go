package history

// SchemaSQL creates the transition table. It is idempotent.
const SchemaSQL = `
CREATE TABLE IF NOT EXISTS live_stream_transitions (
	id          BIGSERIAL PRIMARY KEY,
	podcast_id  TEXT        NOT NULL,
	stream_id   TEXT        NOT NULL,
	from_status TEXT        NOT NULL DEFAULT '',
	to_status   TEXT        NOT NULL,
	reason      TEXT        NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS live_stream_transitions_podcast_idx
	ON live_stream_transitions (podcast_id, occurred_at DESC);
`
