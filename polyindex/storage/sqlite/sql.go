package sqlite

import "github.com/polyindex/polyindex/polyindex/storage"

var SQLTemplates = storage.SQL{
	PrimaryKeyColumn: `"id" INTEGER PRIMARY KEY AUTOINCREMENT`,
	AddColumn:        "ALTER TABLE %s ADD COLUMN %s",
	Upsert: `INSERT INTO %s(%s) VALUES(%s)
		ON CONFLICT(id) DO UPDATE SET %s
		RETURNING id`,
}
