package infra

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
)

// newTestStore creates an encrypted store in a temp directory for testing.
func newTestStore(t *testing.T) (*EncryptedStore, string, []byte) {
	t.Helper()
	dataDir := t.TempDir()
	key, err := newSettingsKey()
	require.NoError(t, err)

	store, err := NewEncryptedStore(dataDir, key, zap.NewNop())
	require.NoError(t, err)

	t.Cleanup(func() { store.Close() })
	return store, dataDir, key
}

func workGroup() domain.RuleGroup {
	return domain.RuleGroup{
		Name:     "work",
		Enabled:  true,
		Mode:     domain.ModeAllow,
		Patterns: []string{"*.golang.org", "github.com"},
		Windows:  []domain.TimeWindow{{Start: 9 * 60, End: 17 * 60}},
	}
}

func nightGroup() domain.RuleGroup {
	return domain.RuleGroup{
		Name:     "night",
		Enabled:  true,
		Mode:     domain.ModeDeny,
		Patterns: []string{"youtube.com"},
		Windows:  []domain.TimeWindow{{Start: 22 * 60, End: 2 * 60}},
	}
}

func TestEncryptedStore_Defaults(t *testing.T) {
	store, _, _ := newTestStore(t)

	cfg, err := store.Load()
	require.NoError(t, err)

	assert.True(t, cfg.ExtensionEnabled)
	assert.Empty(t, cfg.RuleGroups)
	assert.Equal(t, domain.BreakState{}, cfg.Break)
	assert.Equal(t, uint64(0), cfg.Revision)
}

func TestEncryptedStore_AddGroupAssignsIDsInOrder(t *testing.T) {
	store, _, _ := newTestStore(t)

	g1, err := store.AddGroup(workGroup())
	require.NoError(t, err)
	g2, err := store.AddGroup(nightGroup())
	require.NoError(t, err)

	assert.Equal(t, "g1", g1.ID)
	assert.Equal(t, "g2", g2.ID)

	cfg, err := store.Load()
	require.NoError(t, err)
	require.Len(t, cfg.RuleGroups, 2)
	assert.Equal(t, g1, cfg.RuleGroups[0])
	assert.Equal(t, g2, cfg.RuleGroups[1])
}

func TestEncryptedStore_RevisionBumpsOnEveryWrite(t *testing.T) {
	store, _, _ := newTestStore(t)

	writes := []func() error{
		func() error { return store.SetEnabled(false) },
		func() error { return store.SetBreak(domain.BreakState{Active: true, EndTimeEpochMs: 42}) },
		func() error { _, err := store.AddGroup(workGroup()); return err },
		func() error { return store.ReplaceGroups(nil) },
	}

	for i, write := range writes {
		require.NoError(t, write())
		rev, err := store.Revision()
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), rev)
	}
}

func TestEncryptedStore_FailedWriteKeepsRevision(t *testing.T) {
	store, _, _ := newTestStore(t)

	err := store.RemoveGroup("missing")
	assert.ErrorIs(t, err, domain.ErrGroupNotFound)

	err = store.UpdateGroup(domain.RuleGroup{ID: "missing", Mode: domain.ModeDeny})
	assert.ErrorIs(t, err, domain.ErrGroupNotFound)

	rev, err := store.Revision()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), rev)
}

func TestEncryptedStore_UpdateAndRemove(t *testing.T) {
	store, _, _ := newTestStore(t)

	g1, err := store.AddGroup(workGroup())
	require.NoError(t, err)
	g2, err := store.AddGroup(nightGroup())
	require.NoError(t, err)

	g1.Enabled = false
	g1.Patterns = append(g1.Patterns, "pkg.go.dev")
	require.NoError(t, store.UpdateGroup(g1))

	cfg, err := store.Load()
	require.NoError(t, err)
	require.Len(t, cfg.RuleGroups, 2)
	assert.Equal(t, g1, cfg.RuleGroups[0], "update keeps position")

	require.NoError(t, store.RemoveGroup(g1.ID))
	cfg, err = store.Load()
	require.NoError(t, err)
	require.Len(t, cfg.RuleGroups, 1)
	assert.Equal(t, g2.ID, cfg.RuleGroups[0].ID)
}

func TestEncryptedStore_BreakRoundTrip(t *testing.T) {
	store, _, _ := newTestStore(t)
	state := domain.BreakState{Active: true, EndTimeEpochMs: 1748865600000}

	require.NoError(t, store.SetBreak(state))
	cfg, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, state, cfg.Break)

	require.NoError(t, store.SetBreak(domain.BreakState{}))
	cfg, err = store.Load()
	require.NoError(t, err)
	assert.Equal(t, domain.BreakState{}, cfg.Break)
}

func TestEncryptedStore_StartBreak(t *testing.T) {
	store, _, _ := newTestStore(t)
	now := time.UnixMilli(1748865600000)
	first := domain.BreakState{Active: true, EndTimeEpochMs: now.Add(10 * time.Minute).UnixMilli()}

	current, err := store.StartBreak(first, now)
	require.NoError(t, err)
	assert.Equal(t, domain.BreakState{}, current)

	second := domain.BreakState{Active: true, EndTimeEpochMs: now.Add(30 * time.Minute).UnixMilli()}
	current, err = store.StartBreak(second, now.Add(time.Minute))
	assert.ErrorIs(t, err, domain.ErrBreakActive)
	assert.Equal(t, first, current)

	rev, err := store.Revision()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rev, "a refused start leaves the revision alone")

	// Once the first break has run out a new one may start.
	later := now.Add(11 * time.Minute)
	third := domain.BreakState{Active: true, EndTimeEpochMs: later.Add(5 * time.Minute).UnixMilli()}
	_, err = store.StartBreak(third, later)
	require.NoError(t, err)

	cfg, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, third, cfg.Break)
}

func TestEncryptedStore_ConcurrentStartBreakAdmitsOne(t *testing.T) {
	store, _, _ := newTestStore(t)
	now := time.UnixMilli(1748865600000)

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		started int
		refused int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(minutes int) {
			defer wg.Done()
			state := domain.BreakState{Active: true, EndTimeEpochMs: now.Add(time.Duration(minutes) * time.Minute).UnixMilli()}
			_, err := store.StartBreak(state, now)
			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, domain.ErrBreakActive) {
				refused++
				return
			}
			assert.NoError(t, err)
			started++
		}(i + 1)
	}
	wg.Wait()

	assert.Equal(t, 1, started)
	assert.Equal(t, callers-1, refused)
}

func TestEncryptedStore_CorruptGroupRowIsMarked(t *testing.T) {
	store, _, _ := newTestStore(t)

	bad, err := store.AddGroup(workGroup())
	require.NoError(t, err)
	good, err := store.AddGroup(nightGroup())
	require.NoError(t, err)

	_, err = store.db.Exec(`UPDATE rule_groups SET patterns = '{oops' WHERE id = ?`, bad.ID)
	require.NoError(t, err)

	cfg, err := store.Load()
	require.NoError(t, err, "one corrupt row must not fail the whole load")
	require.Len(t, cfg.RuleGroups, 2)

	corrupt := cfg.RuleGroups[0]
	assert.Equal(t, bad.ID, corrupt.ID)
	assert.Nil(t, corrupt.Patterns)
	assert.Contains(t, corrupt.Malformed, "failed to decode patterns")
	assert.Error(t, corrupt.Validate())
	assert.Equal(t, good, cfg.RuleGroups[1])

	// A corrupt group cannot be written back as if it were empty.
	assert.Error(t, store.UpdateGroup(corrupt))
}

func TestEncryptedStore_CorruptWindowsRowIsMarked(t *testing.T) {
	store, _, _ := newTestStore(t)

	g, err := store.AddGroup(nightGroup())
	require.NoError(t, err)
	_, err = store.db.Exec(`UPDATE rule_groups SET windows = 'null,' WHERE id = ?`, g.ID)
	require.NoError(t, err)

	cfg, err := store.Load()
	require.NoError(t, err)
	require.Len(t, cfg.RuleGroups, 1)
	assert.Contains(t, cfg.RuleGroups[0].Malformed, "failed to decode windows")
}

func TestEncryptedStore_CorruptBreakEndIsInactive(t *testing.T) {
	store, _, _ := newTestStore(t)
	require.NoError(t, store.SetBreak(domain.BreakState{Active: true, EndTimeEpochMs: 1748865600000}))

	_, err := store.db.Exec(`UPDATE settings SET value = 'soon' WHERE key = ?`, settingBreakEndMs)
	require.NoError(t, err)

	cfg, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, domain.BreakState{}, cfg.Break)

	// A new break can replace the unreadable one.
	now := time.UnixMilli(1748865600000)
	state := domain.BreakState{Active: true, EndTimeEpochMs: now.Add(time.Minute).UnixMilli()}
	_, err = store.StartBreak(state, now)
	require.NoError(t, err)
}

func TestEncryptedStore_ReplaceGroups(t *testing.T) {
	store, _, _ := newTestStore(t)

	_, err := store.AddGroup(workGroup())
	require.NoError(t, err)

	imported := []domain.RuleGroup{nightGroup(), workGroup(), workGroup()}
	imported[0].ID = "g7"
	imported[1].ID = "g7"
	require.NoError(t, store.ReplaceGroups(imported))

	cfg, err := store.Load()
	require.NoError(t, err)
	require.Len(t, cfg.RuleGroups, 3)
	assert.Equal(t, "g7", cfg.RuleGroups[0].ID)
	assert.Equal(t, "night", cfg.RuleGroups[0].Name)

	ids := map[string]bool{}
	for _, g := range cfg.RuleGroups {
		assert.NotEmpty(t, g.ID)
		assert.False(t, ids[g.ID], "duplicate id %s", g.ID)
		ids[g.ID] = true
	}

	// The ID counter skips IDs taken by imported groups.
	added, err := store.AddGroup(nightGroup())
	require.NoError(t, err)
	assert.False(t, ids[added.ID])
}

func TestEncryptedStore_MalformedGroupSurvives(t *testing.T) {
	store, _, _ := newTestStore(t)

	bad := domain.RuleGroup{
		Enabled:  true,
		Mode:     domain.Mode("SOMETIMES"),
		Patterns: []string{"a.com"},
		Windows:  []domain.TimeWindow{{Start: 0, End: 5000}},
	}
	_, err := store.AddGroup(bad)
	require.NoError(t, err)

	cfg, err := store.Load()
	require.NoError(t, err)
	require.Len(t, cfg.RuleGroups, 1)
	assert.Equal(t, 5000, cfg.RuleGroups[0].Windows[0].End)
	assert.Error(t, cfg.RuleGroups[0].Validate())
}

func TestEncryptedStore_PersistsAcrossReopen(t *testing.T) {
	store, dataDir, key := newTestStore(t)

	g, err := store.AddGroup(workGroup())
	require.NoError(t, err)
	require.NoError(t, store.SetEnabled(false))
	require.NoError(t, store.Close())

	reopened, err := NewEncryptedStore(dataDir, key, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()

	cfg, err := reopened.Load()
	require.NoError(t, err)
	assert.False(t, cfg.ExtensionEnabled)
	assert.Equal(t, []domain.RuleGroup{g}, cfg.RuleGroups)
	assert.Equal(t, uint64(2), cfg.Revision)
}

func TestEncryptedStore_WrongKeyFails(t *testing.T) {
	store, dataDir, _ := newTestStore(t)
	_, err := store.AddGroup(workGroup())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	otherKey, err := newSettingsKey()
	require.NoError(t, err)

	_, err = NewEncryptedStore(dataDir, otherKey, zap.NewNop())
	assert.Error(t, err)
}

func TestEncryptedStore_FileIsEncrypted(t *testing.T) {
	store, dataDir, _ := newTestStore(t)

	g := workGroup()
	g.Patterns = []string{"very-distinctive-hostname.example"}
	_, err := store.AddGroup(g)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	raw, err := os.ReadFile(filepath.Join(dataDir, storeDBName))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "very-distinctive-hostname")
	assert.NotContains(t, string(raw), "SQLite format 3")
}

func TestEncryptedStore_Path(t *testing.T) {
	store, dataDir, _ := newTestStore(t)
	assert.Equal(t, filepath.Join(dataDir, storeDBName), store.Path())
}

func TestOpenStore_ReusesKeyFile(t *testing.T) {
	dataDir := t.TempDir()

	store, err := OpenStore(dataDir, zap.NewNop())
	require.NoError(t, err)
	_, err = store.AddGroup(workGroup())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = OpenStore(dataDir, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	cfg, err := store.Load()
	require.NoError(t, err)
	assert.Len(t, cfg.RuleGroups, 1)
}

type failingKeys struct{}

func (failingKeys) Ensure() ([]byte, error) { return nil, errors.New("keychain locked") }

func TestOpenStoreWithKey_KeyError(t *testing.T) {
	_, err := OpenStoreWithKey(t.TempDir(), failingKeys{}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keychain locked")
}
