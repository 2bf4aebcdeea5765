package task

import (
	"time"
)

// Request is what a client submits.
type Request struct {
	SourceCID    string
	MediaFormats string // raw JSON list, empty means the default formats file
	Encrypted    bool
	GPU          bool
}

// Task is a queued transcoding request. Only the worker touches it after
// it has been enqueued.
type Task struct {
	ID           string    `json:"id"`
	SourceCID    string    `json:"sourceCid"`
	MediaFormats string    `json:"-"`
	Encrypted    bool      `json:"isEncrypted"`
	GPU          bool      `json:"isGpu"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Job is one format of a task handed to the Transcoder.
type Job struct {
	TaskID     string
	Index      int
	SourcePath string
	Format     Format
	Encrypted  bool
	GPU        bool
}

// QueryResult is the answer to a status query.
type QueryResult struct {
	// Metadata is the serialized result list, or InProgressMessage.
	Metadata string `json:"metadata"`
	Progress int    `json:"progress"`
}

const InProgressMessage = "Transcoding in progress"
