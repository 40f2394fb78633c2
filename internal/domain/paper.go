package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// StringArray is a custom type for storing string arrays as JSON in the database.
type StringArray []string

// Value implements the driver.Valuer interface for database serialization.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = StringArray{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan StringArray")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, a)
}

// Paper is catalog metadata for a paper, collected from search results
// and metadata lookups.
type Paper struct {
	ID         string      `gorm:"type:text;primaryKey" json:"id"`
	Title      string      `gorm:"type:text" json:"title"`
	Authors    StringArray `gorm:"type:text" json:"authors"`
	Abstract   string      `gorm:"type:text" json:"abstract"`
	Categories StringArray `gorm:"type:text" json:"categories"`
	Published  string      `gorm:"type:text" json:"published,omitempty"`
	PDFURL     string      `gorm:"column:pdf_url" json:"pdf_url"`
	Links      StringArray `gorm:"type:text" json:"links,omitempty"`
	CreatedAt  time.Time   `json:"-"`
	UpdatedAt  time.Time   `json:"-"`
}

// TableName returns the database table name for Paper.
func (Paper) TableName() string {
	return "papers"
}

// SearchResult is one paper returned by a search, with its ranking score.
type SearchResult struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Authors     []string `json:"authors"`
	Abstract    string   `json:"abstract"`
	Categories  []string `json:"categories"`
	Published   string   `json:"published"`
	URL         string   `json:"url"`
	ResourceURI string   `json:"resource_uri"`
	Score       float64  `json:"score"`
}

// ToPaper converts a search result into catalog metadata.
func (r SearchResult) ToPaper() *Paper {
	return &Paper{
		ID:         r.ID,
		Title:      r.Title,
		Authors:    StringArray(r.Authors),
		Abstract:   r.Abstract,
		Categories: StringArray(r.Categories),
		Published:  r.Published,
		PDFURL:     r.URL,
	}
}
