package markov

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// ErrModelNotFound is returned when a named model does not exist in the store.
var ErrModelNotFound = errors.New("markov: model not found")

// SetupSchema initializes the tables used by Store in the provided database.
// This function should be called once on a new database before a Store is
// created. It is idempotent and safe to call on an already-initialized database.
func SetupSchema(db *sql.DB) error {

	const (
		schemaModels = `
CREATE TABLE IF NOT EXISTS markov_models (
    model_id INTEGER PRIMARY KEY,
    model_name TEXT NOT NULL UNIQUE,
    model_order INTEGER NOT NULL,
    normalizer TEXT NOT NULL
);
`
		schemaVocab = `
CREATE TABLE IF NOT EXISTS markov_vocabulary (
    model_id INTEGER NOT NULL,
    token_id INTEGER NOT NULL,
    token_text TEXT NOT NULL,
    PRIMARY KEY (model_id, token_id)
);
`
		schemaKeys = `
CREATE TABLE IF NOT EXISTS markov_keys (
    model_id INTEGER NOT NULL,
    key_id INTEGER NOT NULL,
    key_text TEXT NOT NULL,
    PRIMARY KEY (model_id, key_id)
);
`
		schemaStarts = `
CREATE TABLE IF NOT EXISTS markov_starts (
    model_id INTEGER NOT NULL,
    seq INTEGER NOT NULL,
    token_ids TEXT NOT NULL,
    frequency INTEGER NOT NULL,
    PRIMARY KEY (model_id, seq)
);
`
		schemaChains = `
CREATE TABLE IF NOT EXISTS markov_chains (
    model_id INTEGER NOT NULL,
    seq INTEGER NOT NULL,
    prefix TEXT NOT NULL,
    next_token_id INTEGER NOT NULL,
    frequency INTEGER NOT NULL,
    PRIMARY KEY (model_id, seq)
);
`
	)

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}

	// If the transaction succeeds, tx.Commit() will be called first, and the rollback will do nothing. If it fails, this will clean up.
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	for _, schema := range []string{schemaModels, schemaVocab, schemaKeys, schemaStarts, schemaChains} {
		if _, err = tx.Exec(schema); err != nil {
			return fmt.Errorf("could not create schema: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}

	return nil
}

// ModelInfo describes a model held by a Store.
type ModelInfo struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	Order      int    `json:"order"`
	Normalizer string `json:"normalizer"`
}

// Store persists trained chains in a SQLite database so a service can start
// without rebuilding from the corpus. It holds prepared SQL statements for
// efficient database interaction.
type Store struct {
	db               *sql.DB
	stmtGetModelInfo *sql.Stmt
	stmtGetModels    *sql.Stmt
	stmtAddModel     *sql.Stmt
	stmtInsertVocab  *sql.Stmt
	stmtInsertKey    *sql.Stmt
	stmtInsertStart  *sql.Stmt
	stmtInsertLink   *sql.Stmt
	stmtGetVocab     *sql.Stmt
	stmtGetKeys      *sql.Stmt
	stmtGetStarts    *sql.Stmt
	stmtGetChains    *sql.Stmt
	logger           *slog.Logger
}

// NewStore creates and returns a new Store. It pre-compiles all necessary SQL
// statements, returning an error if any preparation fails.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{
		db:     db,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	statements := []struct {
		dst   **sql.Stmt
		query string
	}{
		{&s.stmtGetModelInfo, `SELECT model_id, model_name, model_order, normalizer FROM markov_models WHERE model_name = ?;`},
		{&s.stmtGetModels, `SELECT model_id, model_name, model_order, normalizer FROM markov_models ORDER BY model_name;`},
		{&s.stmtAddModel, `INSERT INTO markov_models (model_name, model_order, normalizer) VALUES (?, ?, ?) RETURNING model_id;`},
		{&s.stmtInsertVocab, `INSERT INTO markov_vocabulary (model_id, token_id, token_text) VALUES (?, ?, ?);`},
		{&s.stmtInsertKey, `INSERT INTO markov_keys (model_id, key_id, key_text) VALUES (?, ?, ?);`},
		{&s.stmtInsertStart, `INSERT INTO markov_starts (model_id, seq, token_ids, frequency) VALUES (?, ?, ?, ?);`},
		{&s.stmtInsertLink, `INSERT INTO markov_chains (model_id, seq, prefix, next_token_id, frequency) VALUES (?, ?, ?, ?, ?);`},
		{&s.stmtGetVocab, `SELECT token_text FROM markov_vocabulary WHERE model_id = ? ORDER BY token_id;`},
		{&s.stmtGetKeys, `SELECT key_text FROM markov_keys WHERE model_id = ? ORDER BY key_id;`},
		{&s.stmtGetStarts, `SELECT token_ids, frequency FROM markov_starts WHERE model_id = ? ORDER BY seq;`},
		{&s.stmtGetChains, `SELECT prefix, next_token_id, frequency FROM markov_chains WHERE model_id = ? ORDER BY seq;`},
	}
	for _, st := range statements {
		stmt, err := db.Prepare(st.query)
		if err != nil {
			s.Close()
			return nil, err
		}
		*st.dst = stmt
	}

	return s, nil
}

// Close releases all prepared SQL statements held by the Store. It should be
// called when the Store is no longer needed to free up database resources.
func (s *Store) Close() {
	for _, stmt := range []*sql.Stmt{
		s.stmtGetModelInfo, s.stmtGetModels, s.stmtAddModel,
		s.stmtInsertVocab, s.stmtInsertKey, s.stmtInsertStart, s.stmtInsertLink,
		s.stmtGetVocab, s.stmtGetKeys, s.stmtGetStarts, s.stmtGetChains,
	} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
}

// SetLogger sets the logger for the Store. By default, all logs are discarded.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// GetModelInfo retrieves the details of a model by its name.
func (s *Store) GetModelInfo(ctx context.Context, name string) (ModelInfo, error) {
	var info ModelInfo
	err := s.stmtGetModelInfo.QueryRowContext(ctx, name).Scan(&info.ID, &info.Name, &info.Order, &info.Normalizer)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ModelInfo{}, fmt.Errorf("%w: '%s'", ErrModelNotFound, name)
		}
		return ModelInfo{}, err
	}
	return info, nil
}

// ListModels returns every model in the store, ordered by name.
func (s *Store) ListModels(ctx context.Context) ([]ModelInfo, error) {
	rows, err := s.stmtGetModels.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var models []ModelInfo
	for rows.Next() {
		var info ModelInfo
		if err := rows.Scan(&info.ID, &info.Name, &info.Order, &info.Normalizer); err != nil {
			return nil, err
		}
		models = append(models, info)
	}
	return models, rows.Err()
}

// SaveChain writes chain under name, replacing any model previously saved
// under the same name. The write happens in a single transaction.
func (s *Store) SaveChain(ctx context.Context, name string, chain *Chain) error {
	m := chain.Export(name)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if err := removeModelTx(ctx, tx, name); err != nil && !errors.Is(err, ErrModelNotFound) {
		return err
	}

	var modelID int
	if err := tx.StmtContext(ctx, s.stmtAddModel).QueryRowContext(ctx, m.Name, m.Order, m.Normalizer).Scan(&modelID); err != nil {
		return fmt.Errorf("could not insert model: %w", err)
	}

	insertVocab := tx.StmtContext(ctx, s.stmtInsertVocab)
	for id, text := range m.Vocabulary {
		if _, err := insertVocab.ExecContext(ctx, modelID, id, text); err != nil {
			return fmt.Errorf("could not insert vocabulary: %w", err)
		}
	}

	insertKey := tx.StmtContext(ctx, s.stmtInsertKey)
	for id, text := range m.Keys {
		if _, err := insertKey.ExecContext(ctx, modelID, id, text); err != nil {
			return fmt.Errorf("could not insert key: %w", err)
		}
	}

	insertStart := tx.StmtContext(ctx, s.stmtInsertStart)
	for seq, start := range m.Starts {
		if _, err := insertStart.ExecContext(ctx, modelID, seq, idsKey(start.TokenIDs), start.Frequency); err != nil {
			return fmt.Errorf("could not insert chain start: %w", err)
		}
	}

	insertLink := tx.StmtContext(ctx, s.stmtInsertLink)
	for seq, link := range m.Chains {
		if _, err := insertLink.ExecContext(ctx, modelID, seq, idsKey(link.Prefix), link.NextTokenID, link.Frequency); err != nil {
			return fmt.Errorf("could not insert chain: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}

	s.logger.InfoContext(ctx, "Model saved",
		slog.String("model_name", name),
		slog.Int("vocab_items", len(m.Vocabulary)),
		slog.Int("starts", len(m.Starts)),
		slog.Int("chains", len(m.Chains)),
	)
	return nil
}

// LoadChain reads the model saved under name and rebuilds its chain. Options
// are passed to FromExport; WithNormalizer is required for models saved with a
// custom normalizer.
func (s *Store) LoadChain(ctx context.Context, name string, opts ...BuildOption) (*Chain, error) {
	info, err := s.GetModelInfo(ctx, name)
	if err != nil {
		return nil, err
	}

	m := &ExportedModel{Name: info.Name, Order: info.Order, Normalizer: info.Normalizer}

	if m.Vocabulary, err = s.queryStrings(ctx, s.stmtGetVocab, info.ID); err != nil {
		return nil, fmt.Errorf("could not query vocabulary: %w", err)
	}
	if m.Keys, err = s.queryStrings(ctx, s.stmtGetKeys, info.ID); err != nil {
		return nil, fmt.Errorf("could not query keys: %w", err)
	}

	startRows, err := s.stmtGetStarts.QueryContext(ctx, info.ID)
	if err != nil {
		return nil, fmt.Errorf("could not query chain starts: %w", err)
	}
	for startRows.Next() {
		var ids string
		var start ExportedStart
		if err := startRows.Scan(&ids, &start.Frequency); err != nil {
			_ = startRows.Close()
			return nil, err
		}
		start.TokenIDs = parseIDs(ids)
		m.Starts = append(m.Starts, start)
	}
	_ = startRows.Close()
	if err := startRows.Err(); err != nil {
		return nil, err
	}

	chainRows, err := s.stmtGetChains.QueryContext(ctx, info.ID)
	if err != nil {
		return nil, fmt.Errorf("could not query chains: %w", err)
	}
	for chainRows.Next() {
		var prefix string
		var link ExportedChain
		if err := chainRows.Scan(&prefix, &link.NextTokenID, &link.Frequency); err != nil {
			_ = chainRows.Close()
			return nil, err
		}
		link.Prefix = parseIDs(prefix)
		m.Chains = append(m.Chains, link)
	}
	_ = chainRows.Close()
	if err := chainRows.Err(); err != nil {
		return nil, err
	}

	chain, err := FromExport(m, opts...)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Model loaded",
		slog.String("model_name", name),
		slog.Int("order", info.Order),
		slog.Int("chains", len(m.Chains)),
	)
	return chain, nil
}

// RemoveModel deletes a model and all its associated data from the store.
func (s *Store) RemoveModel(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if err := removeModelTx(ctx, tx, name); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Model removed", slog.String("model_name", name))
	return nil
}

func removeModelTx(ctx context.Context, tx *sql.Tx, name string) error {
	var modelID int
	err := tx.QueryRowContext(ctx, `SELECT model_id FROM markov_models WHERE model_name = ?;`, name).Scan(&modelID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: '%s'", ErrModelNotFound, name)
		}
		return err
	}

	for _, table := range []string{"markov_chains", "markov_starts", "markov_keys", "markov_vocabulary", "markov_models"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE model_id = ?;`, modelID); err != nil {
			return fmt.Errorf("could not delete from %s: %w", table, err)
		}
	}
	return nil
}

func (s *Store) queryStrings(ctx context.Context, stmt *sql.Stmt, modelID int) ([]string, error) {
	rows, err := stmt.QueryContext(ctx, modelID)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var out []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, err
		}
		out = append(out, text)
	}
	return out, rows.Err()
}
