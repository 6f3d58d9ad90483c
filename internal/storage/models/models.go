package models

import "time"

type Conversation struct {
	ID        string
	UserID    string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Message struct {
	ID             string
	ConversationID string
	Role           string
	Content        string
	CreatedAt      time.Time
}

// DocumentMeta describes one indexed document; the chunk contents live in the
// vector store, this table only backs meta queries and source labels.
type DocumentMeta struct {
	ID         string
	Folder     string
	Filename   string
	Title      string
	FileType   string
	ChunkCount int
	CreatedAt  time.Time
}

type CollectionStats struct {
	DocumentCount int
	ChunkCount    int
	FolderCount   int
	FileTypes     map[string]int
}
