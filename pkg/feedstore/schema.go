package feedstore

import "fmt"

func keyspaceCQL(keyspace string, replication int) string {
	if replication < 1 {
		replication = 1
	}
	return fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s
		WITH replication = {'class': 'SimpleStrategy', 'replication_factor': %d}`, keyspace, replication)
}

// contentColumns is shared by the three content-shaped tables.
const contentColumns = `
		content_id text,
		author_id text,
		author_name text,
		author_pic_url text,
		kind text,
		body text,
		media_urls list<text>,
		tags list<text>,
		likes_count int,
		comments_count int,
		created_at timestamp`

var tableCQL = []string{
	`CREATE TABLE IF NOT EXISTS content_by_id (` + contentColumns + `,
		PRIMARY KEY (content_id)
	)`,
	`CREATE TABLE IF NOT EXISTS content_by_author (` + contentColumns + `,
		PRIMARY KEY (author_id, created_at, content_id)
	) WITH CLUSTERING ORDER BY (created_at DESC, content_id ASC)`,
	`CREATE TABLE IF NOT EXISTS feed_by_user (
		user_id text,` + contentColumns + `,
		PRIMARY KEY (user_id, created_at, content_id)
	) WITH CLUSTERING ORDER BY (created_at DESC, content_id ASC)`,
	`CREATE TABLE IF NOT EXISTS likes_by_content (
		content_id text,
		user_id text,
		created_at timestamp,
		PRIMARY KEY (content_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS comments_by_content (
		content_id text,
		created_at timestamp,
		comment_id text,
		author_id text,
		body text,
		PRIMARY KEY (content_id, created_at, comment_id)
	) WITH CLUSTERING ORDER BY (created_at ASC, comment_id ASC)`,
}
