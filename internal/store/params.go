package store

import "fmt"

// ParamsMirror persists the filter-params mirror in the filter_params table,
// implementing the same contract as the in-memory mirror. Missing keys mean
// defaults; writing an empty value deletes the key.
type ParamsMirror struct {
	store *Store
}

// Params returns the persisted filter-params mirror backed by this store.
func (s *Store) Params() *ParamsMirror {
	return &ParamsMirror{store: s}
}

func (p *ParamsMirror) Read() (map[string]string, error) {
	p.store.mu.RLock()
	defer p.store.mu.RUnlock()

	rows, err := p.store.db.Query("SELECT key, value FROM filter_params")
	if err != nil {
		return nil, fmt.Errorf("read filter params: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (p *ParamsMirror) Write(patch map[string]string) error {
	p.store.mu.Lock()
	defer p.store.mu.Unlock()

	tx, err := p.store.db.Begin()
	if err != nil {
		return fmt.Errorf("write filter params: %w", err)
	}
	defer tx.Rollback()

	for k, v := range patch {
		if v == "" {
			if _, err := tx.Exec("DELETE FROM filter_params WHERE key = ?", k); err != nil {
				return err
			}
			continue
		}
		_, err := tx.Exec(`
			INSERT INTO filter_params (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, k, v)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (p *ParamsMirror) Clear() error {
	p.store.mu.Lock()
	defer p.store.mu.Unlock()

	_, err := p.store.db.Exec("DELETE FROM filter_params")
	return err
}
