package models

import (
	"time"

	"github.com/google/uuid"
)

// SpreadsheetSource identifies the column that holds the taxonomy category names.
type SpreadsheetSource struct {
	SpreadsheetID string `json:"spreadsheet_id"`
	WorksheetName string `json:"worksheet_name"`
	ColumnIndex   int    `json:"worksheet_col_index"` // 1-based
	Header        bool   `json:"header"`
}

// Task tracks one asynchronous index build.
type Task struct {
	ID        uuid.UUID         `db:"task_id" json:"task_id"`
	Status    TaskStatus        `db:"status" json:"status"`
	Message   *string           `db:"message" json:"message"`
	Source    SpreadsheetSource `db:"params" json:"-"`
	CreatedAt time.Time         `db:"created_at" json:"created_time"`
	UpdatedAt time.Time         `db:"updated_at" json:"updated_time"`
}

// Generation is one complete build of the category index.
type Generation struct {
	ID         uuid.UUID       `db:"generation_id" json:"generation_id"`
	TaskID     uuid.UUID       `db:"task_id" json:"task_id"`
	State      GenerationState `db:"state" json:"state"`
	Model      string          `db:"model" json:"model"`
	Dimension  int             `db:"dimension" json:"dimension"`
	Size       int             `db:"size" json:"size"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
	PromotedAt *time.Time      `db:"promoted_at" json:"promoted_at,omitempty"`
}

// Category is a taxonomy label and its embedding within one generation.
type Category struct {
	GenerationID uuid.UUID `db:"generation_id" json:"-"`
	Position     int       `db:"position" json:"position"`
	Name         string    `db:"name" json:"name"`
	Embedding    []float32 `db:"embedding" json:"-"`
}

// MaxResultCategories is the most categories a classification result carries.
const MaxResultCategories = 10

// CategoryScore is a single ranked match.
type CategoryScore struct {
	Name       string  `json:"name"`
	Similarity float64 `json:"similarity"`
}

// ItemError is reported inline for a classification input that could not be processed.
type ItemError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ClassificationResult is the outcome for one classify input, in input order.
type ClassificationResult struct {
	QueryIdentifier  string          `json:"query_identifier"`
	Text             *string         `json:"text,omitempty"`
	MediaURI         *string         `json:"media_uri,omitempty"`
	MediaDescription *string         `json:"media_description,omitempty"`
	Categories       []CategoryScore `json:"categories"`
	Embedding        []float32       `json:"embedding,omitempty"`
	Error            *ItemError      `json:"error,omitempty"`
}
