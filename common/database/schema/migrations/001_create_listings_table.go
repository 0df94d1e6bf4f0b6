package migrations

import "jobwatch/common/database/schema"

var CreateListingsTable = schema.Migration{
	Version:     1,
	Description: "Create listings table",
	Up: `
		CREATE TABLE IF NOT EXISTS listings (
			key UUID,
			search_term String,
			title String,
			company String,
			location String,
			date_posted String,
			job_url String,
			job_type String,
			is_remote Bool,
			site String,
			extra Map(String, String),
			found_at DateTime,
			archived_at DateTime
		) ENGINE = ReplacingMergeTree(archived_at)
		PARTITION BY toYYYYMM(found_at)
		ORDER BY (key)
		SETTINGS index_granularity = 8192
	`,
	Down: `DROP TABLE IF EXISTS listings`,
}

// All lists every migration in version order.
var All = []schema.Migration{
	CreateListingsTable,
}
