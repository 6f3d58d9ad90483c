package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/thetombrider/chatbotcollectibus-sub002/internal/storage/models"
	"github.com/thetombrider/chatbotcollectibus-sub002/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Ping() error {
	return c.db.Ping()
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		title TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);
	CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at);

	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		folder TEXT,
		filename TEXT NOT NULL,
		title TEXT,
		file_type TEXT,
		chunk_count INTEGER DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_folder ON documents(folder);
	CREATE INDEX IF NOT EXISTS idx_documents_type ON documents(file_type);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	logger.Info("Database schema initialized")
	return nil
}

func (c *Client) EnsureConversation(conv *models.Conversation) error {
	_, err := c.db.Exec(
		`INSERT INTO conversations (id, user_id, title, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
		conv.ID, conv.UserID, conv.Title, conv.CreatedAt.Unix(), conv.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert conversation: %w", err)
	}
	return nil
}

func (c *Client) InsertMessage(msg *models.Message) error {
	_, err := c.db.Exec(
		`INSERT INTO messages (id, conversation_id, role, content, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// GetRecentMessages returns the last limit messages of a conversation in
// chronological order.
func (c *Client) GetRecentMessages(conversationID string, limit int) ([]models.Message, error) {
	rows, err := c.db.Query(
		`SELECT id, conversation_id, role, content, created_at
		 FROM messages WHERE conversation_id = ?
		 ORDER BY created_at DESC LIMIT ?`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.CreatedAt = time.Unix(createdAt, 0)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	// reverse into chronological order
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	return msgs, nil
}

func (c *Client) UpsertDocument(doc *models.DocumentMeta) error {
	_, err := c.db.Exec(
		`INSERT INTO documents (id, folder, filename, title, file_type, chunk_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			folder = excluded.folder,
			filename = excluded.filename,
			title = excluded.title,
			file_type = excluded.file_type,
			chunk_count = excluded.chunk_count`,
		doc.ID, doc.Folder, doc.Filename, doc.Title, doc.FileType, doc.ChunkCount, doc.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}
	return nil
}

func (c *Client) CountDocuments() (int, error) {
	var count int
	err := c.db.QueryRow(`SELECT COUNT(*) FROM documents`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return count, nil
}

func (c *Client) ListFolders() ([]string, error) {
	rows, err := c.db.Query(
		`SELECT DISTINCT folder FROM documents WHERE folder IS NOT NULL AND folder != '' ORDER BY folder`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	defer rows.Close()

	var folders []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, fmt.Errorf("failed to scan folder: %w", err)
		}
		folders = append(folders, f)
	}
	return folders, rows.Err()
}

func (c *Client) ListDocuments(folder string, limit int) ([]models.DocumentMeta, error) {
	query := `SELECT id, folder, filename, title, file_type, chunk_count, created_at FROM documents`
	args := []interface{}{}
	if folder != "" {
		query += ` WHERE folder = ?`
		args = append(args, folder)
	}
	query += ` ORDER BY filename LIMIT ?`
	args = append(args, limit)

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []models.DocumentMeta
	for rows.Next() {
		var d models.DocumentMeta
		var createdAt int64
		if err := rows.Scan(&d.ID, &d.Folder, &d.Filename, &d.Title, &d.FileType, &d.ChunkCount, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		d.CreatedAt = time.Unix(createdAt, 0)
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (c *Client) CollectionStats() (*models.CollectionStats, error) {
	stats := &models.CollectionStats{FileTypes: make(map[string]int)}

	err := c.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(chunk_count), 0), COUNT(DISTINCT folder) FROM documents`,
	).Scan(&stats.DocumentCount, &stats.ChunkCount, &stats.FolderCount)
	if err != nil {
		return nil, fmt.Errorf("failed to compute collection stats: %w", err)
	}

	rows, err := c.db.Query(
		`SELECT COALESCE(file_type, 'unknown'), COUNT(*) FROM documents GROUP BY file_type`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to group file types: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ft string
		var n int
		if err := rows.Scan(&ft, &n); err != nil {
			return nil, fmt.Errorf("failed to scan file type: %w", err)
		}
		stats.FileTypes[ft] = n
	}
	return stats, rows.Err()
}
