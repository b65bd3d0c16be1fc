package apihandlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// flexInt accepts 3 or "3".
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexInt(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("expected an integer, got %s", b)
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("expected an integer, got %q", s)
	}
	*f = flexInt(n)
	return nil
}

// flexBool accepts true or strings such as "True" and "false".
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	var v bool
	if err := json.Unmarshal(b, &v); err == nil {
		*f = flexBool(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("expected a boolean, got %s", b)
	}
	v, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("expected a boolean, got %q", s)
	}
	*f = flexBool(v)
	return nil
}

// stringList accepts a single string or a list of strings.
type stringList []string

func (l *stringList) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*l = nil
		return nil
	}
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*l = stringList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return fmt.Errorf("expected a string or a list of strings, got %s", b)
	}
	*l = many
	return nil
}

type GenerateTaxonomyRequest struct {
	SpreadsheetID string    `json:"spreadsheet_id"`
	WorksheetName string    `json:"worksheet_name"`
	ColumnIndex   flexInt   `json:"worksheet_col_index"`
	Header        *flexBool `json:"header"`
}

type GenerateTaxonomyResponse struct {
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
}

type ClassifyRequest struct {
	Text       stringList `json:"text"`
	MediaURI   stringList `json:"media_uri"`
	Embeddings flexBool   `json:"embeddings"`
}

type HealthResponse struct {
	Status       string  `json:"status"`
	Database     string  `json:"database"`
	GenerationID *string `json:"generation_id"`
	Categories   int     `json:"categories"`
}
