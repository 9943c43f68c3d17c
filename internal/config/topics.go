package config

const (
	// TopicIngestFile carries batches of file paths to index.
	TopicIngestFile = "ingest.task.file"

	// TopicChatTurn carries completed turns for the external audit collaborator.
	TopicChatTurn = "chat.turn"
)
