package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"

	"github.com/contentpilot/intake/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func cloneExtra(extra map[string]string) map[string]string {
	if len(extra) == 0 {
		return nil
	}
	return maps.Clone(extra)
}

// encodeExtra serializes answers without a dedicated column for the extra column.
func encodeExtra(extra map[string]string) (interface{}, error) {
	if len(extra) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(extra)
	if err != nil {
		return nil, fmt.Errorf("failed to encode extra answers: %w", err)
	}
	return string(b), nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const profileColumns = `id, "userId", name, "isDefault", "projectType", niche, "targetAudience",
	"contentTypes", "primaryGoal", "brandVoice", language, extra, "createdAt", "updatedAt"`

// scanProfile scans a Profile selected with profileColumns.
func scanProfile(row rowScanner) (models.Profile, error) {
	var p models.Profile
	var extraJSON sql.NullString
	err := row.Scan(
		&p.ID, &p.UserID, &p.Name, &p.IsDefault, &p.ProjectType, &p.Niche, &p.TargetAudience,
		&p.ContentTypes, &p.PrimaryGoal, &p.BrandVoice, &p.Language, &extraJSON, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return p, err
	}
	if extraJSON.Valid && extraJSON.String != "" {
		if err := json.Unmarshal([]byte(extraJSON.String), &p.Extra); err != nil {
			slog.Error("scanProfile: extra column unmarshal failed", "error", err, "profileID", p.ID)
			// Continue without extra answers rather than failing
			p.Extra = nil
		}
	}
	return p, nil
}

// scanProfiles drains rows into a slice.
func scanProfiles(rows *sql.Rows) ([]models.Profile, error) {
	defer rows.Close()
	var out []models.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate profile rows: %w", err)
	}
	return out, nil
}
