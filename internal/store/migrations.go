package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Animations that have been active at least once
		`CREATE TABLE IF NOT EXISTS animations (
			id TEXT PRIMARY KEY,
			last_used_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Parameter values last applied to each animation, JSON encoded
		`CREATE TABLE IF NOT EXISTS animation_parameters (
			animation_id TEXT NOT NULL REFERENCES animations(id) ON DELETE CASCADE,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (animation_id, key)
		)`,

		// Settings table - application state as key-value pairs
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_animation_parameters_animation_id ON animation_parameters(animation_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
