package postgres

import "github.com/polyindex/polyindex/polyindex/storage"

var SQLTemplates = storage.SQL{
	PrimaryKeyColumn: `"id" BIGSERIAL PRIMARY KEY`,
	AddColumn:        "ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s",
	Upsert: `INSERT INTO %s(%s) VALUES(%s)
	        ON CONFLICT(id) DO UPDATE
	          SET %s
	        RETURNING id`,
}
