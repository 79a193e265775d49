package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Default design canvas used by the template editor.
const (
	DefaultCanvasWidth  = 1600
	DefaultCanvasHeight = 1131
)

// CanvasSpec is the logical coordinate space fields are positioned in.
type CanvasSpec struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Value implements driver.Valuer for JSONB storage.
func (c CanvasSpec) Value() (driver.Value, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for JSONB storage.
func (c *CanvasSpec) Scan(src interface{}) error {
	return scanJSON(src, c)
}

// Normalized returns the canvas with the editor defaults filled in.
func (c CanvasSpec) Normalized() CanvasSpec {
	if c.Width <= 0 {
		c.Width = DefaultCanvasWidth
	}
	if c.Height <= 0 {
		c.Height = DefaultCanvasHeight
	}
	return c
}

// TemplateField is one positioned element of a certificate design.
type TemplateField struct {
	ID         string  `json:"id,omitempty"`
	Type       string  `json:"type"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Text       string  `json:"text"`
	FontSize   float64 `json:"fontSize"`
	FontFamily string  `json:"fontFamily"`
	FontStyle  string  `json:"fontStyle"`
	Fill       string  `json:"fill"`
	Align      string  `json:"align"`
}

// TemplateFields is stored as a JSONB array.
type TemplateFields []TemplateField

// Value implements driver.Valuer.
func (f TemplateFields) Value() (driver.Value, error) {
	if f == nil {
		return "[]", nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (f *TemplateFields) Scan(src interface{}) error {
	return scanJSON(src, f)
}

// CertificateTemplate is a background image plus positioned text fields.
type CertificateTemplate struct {
	ID                 string         `db:"id" json:"id"`
	Name               string         `db:"name" json:"name"`
	Description        string         `db:"description" json:"description"`
	BackgroundImageURL string         `db:"background_image_url" json:"background_image_url"`
	Canvas             CanvasSpec     `db:"canvas" json:"canvas"`
	Fields             TemplateFields `db:"fields" json:"fields"`
	Active             bool           `db:"active" json:"active"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at" json:"updated_at"`
}

// CertificateTemplateRequest is used for both create and full update.
type CertificateTemplateRequest struct {
	Name               string         `json:"name" validate:"required,max=200"`
	Description        string         `json:"description"`
	BackgroundImageURL string         `json:"background_image_url" validate:"omitempty,url"`
	Canvas             CanvasSpec     `json:"canvas"`
	Fields             TemplateFields `json:"fields"`
	Active             *bool          `json:"active,omitempty"`
}

// PreviewCertificateRequest renders a template with sample values.
type PreviewCertificateRequest struct {
	Variables map[string]string `json:"variables"`
}

func scanJSON(src interface{}, dest interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dest)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported json source %T", src)
	}
}
