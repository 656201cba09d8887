package ota

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/solatis/aadnode/internal/core/db"
	"github.com/solatis/aadnode/internal/core/nvs"
	"github.com/solatis/aadnode/internal/types"
)

type partitionEnv struct {
	dir     string
	queries *db.Queries
	store   *nvs.Store
}

func newPartitionEnv(t *testing.T) *partitionEnv {
	t.Helper()
	dir := t.TempDir()
	database, err := db.Open("sqlite://" + filepath.Join(dir, "agent.db"))
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.MigrateUp(database); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}
	q, err := db.LoadQueries(database)
	if err != nil {
		t.Fatalf("LoadQueries() error = %v", err)
	}
	return &partitionEnv{dir: filepath.Join(dir, "slots"), queries: q, store: nvs.New(q)}
}

func (e *partitionEnv) boot(t *testing.T) *FilePartitions {
	t.Helper()
	p, err := OpenPartitions(e.dir, e.queries, e.store, 1, Factory{Version: "1.0.0", Project: "AAD"})
	if err != nil {
		t.Fatalf("OpenPartitions() error = %v", err)
	}
	return p
}

func install(t *testing.T, p *FilePartitions, img []byte) {
	t.Helper()
	u, err := p.BeginUpdate()
	if err != nil {
		t.Fatalf("BeginUpdate() error = %v", err)
	}
	for chunk := range slices.Chunk(img, 1000) {
		if _, err := u.Write(chunk); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if _, err := u.Finish(); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
}

func TestFilePartitions_UpdateAndConfirm(t *testing.T) {
	env := newPartitionEnv(t)

	p := env.boot(t)
	if r := p.Running(); r.Name != SlotFactory || r.Version != "1.0.0" {
		t.Fatalf("first boot running = %+v", r)
	}
	if p.SecureVersionMin() != 1 {
		t.Errorf("SecureVersionMin() = %d", p.SecureVersionMin())
	}

	install(t, p, testImage("1.1.0", 1))

	p = env.boot(t)
	r := p.Running()
	if r.Name != SlotOTA0 || r.Version != "1.1.0" || r.State != StatePendingVerify || r.BootAttempts != 1 {
		t.Fatalf("after update running = %+v", r)
	}
	if state, _ := p.RunningState(); state != StatePendingVerify {
		t.Errorf("RunningState() = %s", state)
	}
	if err := p.MarkRunningValid(); err != nil {
		t.Fatalf("MarkRunningValid() error = %v", err)
	}

	p = env.boot(t)
	if r := p.Running(); r.Name != SlotOTA0 || r.State != StateValid {
		t.Errorf("after confirm running = %+v", r)
	}

	// The next image goes to the other slot.
	install(t, p, testImage("1.2.0", 1))
	p = env.boot(t)
	if r := p.Running(); r.Name != SlotOTA1 || r.Version != "1.2.0" {
		t.Errorf("second update running = %+v", r)
	}

	slots, err := p.Slots()
	if err != nil || len(slots) != 3 {
		t.Fatalf("Slots() = %+v, %v", slots, err)
	}
}

func TestFilePartitions_RollbackUnconfirmed(t *testing.T) {
	env := newPartitionEnv(t)
	p := env.boot(t)
	install(t, p, testImage("1.1.0", 1))

	p = env.boot(t) // pending_verify, never confirmed
	if p.Running().Name != SlotOTA0 {
		t.Fatalf("running = %+v", p.Running())
	}

	p = env.boot(t)
	if r := p.Running(); r.Name != SlotFactory || r.Version != "1.0.0" {
		t.Errorf("after rollback running = %+v", r)
	}
	slots, _ := p.Slots()
	for _, s := range slots {
		if s.Name == SlotOTA0 && s.State != StateAborted {
			t.Errorf("ota_0 state = %s, want aborted", s.State)
		}
	}
}

func TestFilePartitions_InvalidImage(t *testing.T) {
	env := newPartitionEnv(t)
	p := env.boot(t)

	img := testImage("1.1.0", 1)
	img[PrefixSize+1] ^= 0xff
	u, err := p.BeginUpdate()
	if err != nil {
		t.Fatalf("BeginUpdate() error = %v", err)
	}
	u.Write(img)
	if _, err := u.Finish(); !errors.Is(err, types.ErrImageInvalid) {
		t.Fatalf("Finish() error = %v, want ErrImageInvalid", err)
	}

	entries, _ := os.ReadDir(env.dir)
	if len(entries) != 0 {
		t.Errorf("slot dir not empty after failed finish: %v", entries)
	}
	if r := env.boot(t).Running(); r.Name != SlotFactory {
		t.Errorf("running = %+v, want factory", r)
	}
}

func TestFilePartitions_Abort(t *testing.T) {
	env := newPartitionEnv(t)
	p := env.boot(t)
	u, _ := p.BeginUpdate()
	u.Write([]byte{ImageMagic})
	if err := u.Abort(); err != nil {
		t.Fatalf("Abort() error = %v", err)
	}
	if err := u.Abort(); err != nil {
		t.Errorf("second Abort() error = %v", err)
	}
	if _, err := u.Write([]byte{1}); err == nil {
		t.Error("Write() after Abort succeeded")
	}
}
