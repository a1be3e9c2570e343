package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pilot-net/alert-relay/internal/types"
)

// =============================================================================
// ROUTING CONFIGURATION (singleton row)
// =============================================================================

// LoadConfig returns the persisted config, or nil if no row has ever been
// written.
func (s *Store) LoadConfig(ctx context.Context) (types.Config, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT config FROM alerts_config WHERE id = 1`).Scan(&data)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load config: %w", err)
	}
	var cfg types.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("store: decode config: %w", err)
	}
	return cfg, nil
}

// SaveConfig upserts the singleton config row.
func (s *Store) SaveConfig(ctx context.Context, cfg types.Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("store: encode config: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO alerts_config (id, config, updated_at)
		VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET config = EXCLUDED.config, updated_at = NOW()
	`, data)
	if err != nil {
		return fmt.Errorf("store: save config: %w", err)
	}
	return nil
}

// =============================================================================
// TROUBLESHOOTING GUIDES
// =============================================================================

// GetGuide returns the guide for ruleName, or nil if none is configured.
func (s *Store) GetGuide(ctx context.Context, ruleName string) (*types.TroubleshootingGuide, error) {
	var content string
	err := s.pool.QueryRow(ctx, `SELECT content FROM troubleshooting_guides WHERE rule_name = $1`, ruleName).Scan(&content)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get guide %q: %w", ruleName, err)
	}
	return &types.TroubleshootingGuide{RuleName: ruleName, Content: content}, nil
}

// ListGuides returns every configured guide.
func (s *Store) ListGuides(ctx context.Context) ([]types.TroubleshootingGuide, error) {
	rows, err := s.pool.Query(ctx, `SELECT rule_name, content FROM troubleshooting_guides ORDER BY rule_name`)
	if err != nil {
		return nil, fmt.Errorf("store: list guides: %w", err)
	}
	defer rows.Close()

	var out []types.TroubleshootingGuide
	for rows.Next() {
		var g types.TroubleshootingGuide
		if err := rows.Scan(&g.RuleName, &g.Content); err != nil {
			return nil, fmt.Errorf("store: scan guide: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// PutGuide upserts a guide by rule name.
func (s *Store) PutGuide(ctx context.Context, g types.TroubleshootingGuide) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO troubleshooting_guides (rule_name, content, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (rule_name) DO UPDATE SET content = EXCLUDED.content, updated_at = NOW()
	`, g.RuleName, g.Content)
	if err != nil {
		return fmt.Errorf("store: put guide %q: %w", g.RuleName, err)
	}
	return nil
}
