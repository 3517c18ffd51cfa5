package infra

import (
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	sqlcipher "github.com/mutecomm/go-sqlcipher/v4"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
)

// Ensure sqlcipher driver is registered.
var _ = sqlcipher.ErrBusy

const (
	storeDBName = "settings.db"

	settingEnabled     = "extension_enabled"
	settingBreakActive = "break_active"
	settingBreakEndMs  = "break_end_ms"

	metaRevision    = "revision"
	metaNextGroupID = "next_group_id"
)

// EncryptedStore implements domain.ConfigStore using a SQLCipher encrypted
// SQLite database. Every write runs in one transaction that also bumps the
// revision, so readers never see a half-applied change.
type EncryptedStore struct {
	db     *sql.DB
	dbPath string
	logger *zap.Logger
}

// OpenStore opens the encrypted settings store under dataDir with the key
// from its key file.
func OpenStore(dataDir string, logger *zap.Logger) (*EncryptedStore, error) {
	return OpenStoreWithKey(dataDir, NewKeyFile(dataDir), logger)
}

// OpenStoreWithKey opens the store under dataDir with a key from keys.
func OpenStoreWithKey(dataDir string, keys domain.KeySource, logger *zap.Logger) (*EncryptedStore, error) {
	key, err := keys.Ensure()
	if err != nil {
		return nil, fmt.Errorf("failed to get settings key: %w", err)
	}
	return NewEncryptedStore(dataDir, key, logger)
}

// NewEncryptedStore opens (or creates) the encrypted settings database.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func NewEncryptedStore(dataDir string, key []byte, logger *zap.Logger) (*EncryptedStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, storeDBName)
	keyHex := hex.EncodeToString(key)

	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, keyHex)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}

	// A wrong key only surfaces on first use.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	s := &EncryptedStore{db: db, dbPath: dbPath, logger: logger}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return s, nil
}

func (s *EncryptedStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rule_groups (
		id TEXT PRIMARY KEY,
		position INTEGER NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		enabled INTEGER NOT NULL,
		mode TEXT NOT NULL,
		patterns TEXT NOT NULL,
		windows TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR IGNORE INTO settings (key, value) VALUES ('extension_enabled', '1');
	INSERT OR IGNORE INTO meta (key, value) VALUES ('revision', '0');
	INSERT OR IGNORE INTO meta (key, value) VALUES ('next_group_id', '1');
	`
	_, err := s.db.Exec(schema)
	return err
}

// Load returns a consistent snapshot of the whole configuration.
func (s *EncryptedStore) Load() (domain.Configuration, error) {
	var cfg domain.Configuration

	tx, err := s.db.Begin()
	if err != nil {
		return cfg, fmt.Errorf("failed to begin read: %w", err)
	}
	defer tx.Rollback()

	settings, err := readKV(tx, "settings")
	if err != nil {
		return cfg, fmt.Errorf("failed to read settings: %w", err)
	}
	cfg.ExtensionEnabled = settings[settingEnabled] == "1"
	cfg.Break = s.decodeBreak(settings)

	rev, err := readRevision(tx)
	if err != nil {
		return cfg, err
	}
	cfg.Revision = rev

	rows, err := tx.Query(`SELECT id, name, enabled, mode, patterns, windows FROM rule_groups ORDER BY position`)
	if err != nil {
		return cfg, fmt.Errorf("failed to read rule groups: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			g                  domain.RuleGroup
			enabled            int
			mode               string
			patterns, windowsJ string
		)
		if err := rows.Scan(&g.ID, &g.Name, &enabled, &mode, &patterns, &windowsJ); err != nil {
			return cfg, fmt.Errorf("failed to scan rule group: %w", err)
		}
		g.Enabled = enabled == 1
		// Stored verbatim; an unknown mode stays visible so the evaluator
		// can skip the group and report it.
		g.Mode = domain.Mode(mode)
		if err := decodeLists(&g, patterns, windowsJ); err != nil {
			// Kept in place so its position and ID survive; the evaluator
			// skips it and reports it.
			g.Patterns, g.Windows = nil, nil
			g.Malformed = err.Error()
			s.logger.Warn("stored rule group is corrupt",
				zap.String("group_id", g.ID),
				zap.Error(err))
		}
		cfg.RuleGroups = append(cfg.RuleGroups, g)
	}
	if err := rows.Err(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// decodeBreak reads the break settings. An unreadable end time leaves no
// break in effect.
func (s *EncryptedStore) decodeBreak(settings map[string]string) domain.BreakState {
	var b domain.BreakState
	v := settings[settingBreakEndMs]
	if v == "" {
		return b
	}
	end, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		s.logger.Warn("ignoring corrupt break end time",
			zap.String("value", v),
			zap.Error(err))
		return b
	}
	b.Active = settings[settingBreakActive] == "1"
	b.EndTimeEpochMs = end
	return b
}

func decodeLists(g *domain.RuleGroup, patterns, windows string) error {
	if err := json.Unmarshal([]byte(patterns), &g.Patterns); err != nil {
		return fmt.Errorf("failed to decode patterns: %w", err)
	}
	var stored []storedWindow
	if err := json.Unmarshal([]byte(windows), &stored); err != nil {
		return fmt.Errorf("failed to decode windows: %w", err)
	}
	for _, w := range stored {
		g.Windows = append(g.Windows, domain.TimeWindow{Start: w.Start, End: w.End})
	}
	return nil
}

// Revision returns the current revision.
func (s *EncryptedStore) Revision() (uint64, error) {
	return readRevision(s.db)
}

// SetEnabled flips the global enable flag.
func (s *EncryptedStore) SetEnabled(enabled bool) error {
	return s.update(func(tx *sql.Tx) error {
		return putKV(tx, "settings", settingEnabled, boolString(enabled))
	})
}

// SetBreak persists the break state.
func (s *EncryptedStore) SetBreak(state domain.BreakState) error {
	return s.update(func(tx *sql.Tx) error {
		if err := putKV(tx, "settings", settingBreakActive, boolString(state.Active)); err != nil {
			return err
		}
		return putKV(tx, "settings", settingBreakEndMs, strconv.FormatInt(state.EndTimeEpochMs, 10))
	})
}

// StartBreak stores state unless a break is already in effect at now. The
// check and the write share one transaction.
func (s *EncryptedStore) StartBreak(state domain.BreakState, now time.Time) (domain.BreakState, error) {
	var current domain.BreakState
	err := s.update(func(tx *sql.Tx) error {
		settings, err := readKV(tx, "settings")
		if err != nil {
			return fmt.Errorf("failed to read settings: %w", err)
		}
		if b := s.decodeBreak(settings); b.InEffect(now) {
			current = b
			return domain.ErrBreakActive
		}
		if err := putKV(tx, "settings", settingBreakActive, boolString(state.Active)); err != nil {
			return err
		}
		return putKV(tx, "settings", settingBreakEndMs, strconv.FormatInt(state.EndTimeEpochMs, 10))
	})
	return current, err
}

// AddGroup appends a group at the end of the list and assigns its ID.
func (s *EncryptedStore) AddGroup(group domain.RuleGroup) (domain.RuleGroup, error) {
	err := s.update(func(tx *sql.Tx) error {
		id, err := nextGroupID(tx)
		if err != nil {
			return err
		}
		group.ID = id

		var pos int
		if err := tx.QueryRow(`SELECT COALESCE(MAX(position), -1) + 1 FROM rule_groups`).Scan(&pos); err != nil {
			return err
		}
		return insertGroup(tx, group, pos)
	})
	if err != nil {
		return domain.RuleGroup{}, err
	}
	return group, nil
}

// UpdateGroup replaces the group with the same ID, keeping its position.
func (s *EncryptedStore) UpdateGroup(group domain.RuleGroup) error {
	return s.update(func(tx *sql.Tx) error {
		patterns, windows, err := encodeGroup(group)
		if err != nil {
			return err
		}
		res, err := tx.Exec(`
			UPDATE rule_groups SET name = ?, enabled = ?, mode = ?, patterns = ?, windows = ?
			WHERE id = ?`,
			group.Name, boolInt(group.Enabled), string(group.Mode), patterns, windows, group.ID,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", domain.ErrGroupNotFound, group.ID)
		}
		return nil
	})
}

// RemoveGroup deletes a group by ID.
func (s *EncryptedStore) RemoveGroup(id string) error {
	return s.update(func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM rule_groups WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", domain.ErrGroupNotFound, id)
		}
		return nil
	})
}

// ReplaceGroups atomically swaps the whole group list. Groups without an ID
// get a fresh one; duplicate IDs are reassigned.
func (s *EncryptedStore) ReplaceGroups(groups []domain.RuleGroup) error {
	return s.update(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM rule_groups`); err != nil {
			return err
		}
		seen := make(map[string]bool, len(groups))
		for i, g := range groups {
			if g.ID == "" || seen[g.ID] {
				id, err := nextGroupID(tx)
				if err != nil {
					return err
				}
				g.ID = id
			}
			seen[g.ID] = true
			if err := insertGroup(tx, g, i); err != nil {
				return err
			}
		}
		return nil
	})
}

// Path returns the database file path.
func (s *EncryptedStore) Path() string {
	return s.dbPath
}

// Close releases the database connection.
func (s *EncryptedStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// update bumps the revision and runs fn in the same transaction. The bump
// comes first so the write lock is held before fn reads anything; a failed
// fn rolls it back.
func (s *EncryptedStore) update(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE meta SET value = CAST(value AS INTEGER) + 1 WHERE key = ?`, metaRevision); err != nil {
		return fmt.Errorf("failed to bump revision: %w", err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

type queryer interface {
	QueryRow(query string, args ...any) *sql.Row
	Query(query string, args ...any) (*sql.Rows, error)
}

func readRevision(q queryer) (uint64, error) {
	var v string
	err := q.QueryRow(`SELECT value FROM meta WHERE key = ?`, metaRevision).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read revision: %w", err)
	}
	rev, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt revision %q: %w", v, err)
	}
	return rev, nil
}

func readKV(q queryer, table string) (map[string]string, error) {
	rows, err := q.Query(`SELECT key, value FROM ` + table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	kv := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		kv[k] = v
	}
	return kv, rows.Err()
}

func putKV(tx *sql.Tx, table, key, value string) error {
	_, err := tx.Exec(`INSERT OR REPLACE INTO `+table+` (key, value) VALUES (?, ?)`, key, value)
	return err
}

func nextGroupID(tx *sql.Tx) (string, error) {
	var n int
	if err := tx.QueryRow(`SELECT CAST(value AS INTEGER) FROM meta WHERE key = ?`, metaNextGroupID).Scan(&n); err != nil {
		return "", fmt.Errorf("failed to allocate group id: %w", err)
	}
	// Imported groups keep their IDs, so the counter may trail them.
	for {
		var taken int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM rule_groups WHERE id = ?`, "g"+strconv.Itoa(n)).Scan(&taken); err != nil {
			return "", fmt.Errorf("failed to allocate group id: %w", err)
		}
		if taken == 0 {
			break
		}
		n++
	}
	if err := putKV(tx, "meta", metaNextGroupID, strconv.Itoa(n+1)); err != nil {
		return "", fmt.Errorf("failed to allocate group id: %w", err)
	}
	return "g" + strconv.Itoa(n), nil
}

func insertGroup(tx *sql.Tx, g domain.RuleGroup, pos int) error {
	patterns, windows, err := encodeGroup(g)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`
		INSERT INTO rule_groups (id, position, name, enabled, mode, patterns, windows)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		g.ID, pos, g.Name, boolInt(g.Enabled), string(g.Mode), patterns, windows,
	)
	if err != nil {
		return fmt.Errorf("failed to insert group %s: %w", g.ID, err)
	}
	return nil
}

// storedWindow keeps raw minutes so an out-of-range window survives a round
// trip and is skipped by the evaluator instead of failing Load.
type storedWindow struct {
	Start int `json:"s"`
	End   int `json:"e"`
}

func encodeGroup(g domain.RuleGroup) (string, string, error) {
	if g.Malformed != "" {
		return "", "", fmt.Errorf("group %s is corrupt and cannot be saved: %s", g.ID, g.Malformed)
	}
	patterns := g.Patterns
	if patterns == nil {
		patterns = []string{}
	}
	p, err := json.Marshal(patterns)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode patterns: %w", err)
	}
	windows := make([]storedWindow, 0, len(g.Windows))
	for _, tw := range g.Windows {
		windows = append(windows, storedWindow{Start: tw.Start, End: tw.End})
	}
	w, err := json.Marshal(windows)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode windows: %w", err)
	}
	return string(p), string(w), nil
}

func boolString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Ensure EncryptedStore implements domain.ConfigStore.
var _ domain.ConfigStore = (*EncryptedStore)(nil)
