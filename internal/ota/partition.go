package ota

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/solatis/aadnode/internal/core/nvs"
	"github.com/solatis/aadnode/internal/types"
)

// ImageState is the boot state of a partition slot.
type ImageState string

const (
	StateNew           ImageState = "new"
	StatePendingVerify ImageState = "pending_verify"
	StateValid         ImageState = "valid"
	StateInvalid       ImageState = "invalid"
	StateAborted       ImageState = "aborted"
	StateUndefined     ImageState = "undefined"
)

// Slot names.
const (
	SlotFactory = "factory"
	SlotOTA0    = "ota_0"
	SlotOTA1    = "ota_1"
)

const (
	keyBoot     = "boot"
	keyPrevious = "previous"
)

// Slot is one row of the partitions table.
type Slot struct {
	Name          string     `db:"slot"`
	State         ImageState `db:"state"`
	Version       string     `db:"version"`
	Project       string     `db:"project"`
	SecureVersion uint32     `db:"secure_version"`
	Size          int64      `db:"size"`
	SHA256        string     `db:"sha256"`
	BootAttempts  int        `db:"boot_attempts"`
}

// Partitions is the firmware slot layer the OTA manager drives.
type Partitions interface {
	// Running describes the slot selected at boot.
	Running() Slot
	RunningState() (ImageState, error)
	MarkRunningValid() error
	// SecureVersionMin is the hardware anti-rollback floor.
	SecureVersionMin() uint32
	BeginUpdate() (Update, error)
}

// Update receives one image. Finish validates it and selects it for the next
// boot; Abort discards it.
type Update interface {
	io.Writer
	Finish() (AppDescriptor, error)
	Abort() error
}

// FilePartitions keeps slot images as files under a directory and their
// state in SQL. The boot selection lives in the otadata namespace.
type FilePartitions struct {
	mu        sync.Mutex
	dir       string
	queries   nvs.Queries
	boot      SettingsStore
	minSecure uint32
	running   Slot
	now       func() time.Time
}

// Factory describes the built-in image.
type Factory struct {
	Version       string
	Project       string
	SecureVersion uint32
}

// OpenPartitions prepares dir and runs the boot selection.
func OpenPartitions(dir string, q nvs.Queries, boot SettingsStore, minSecure uint32, factory Factory) (*FilePartitions, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create partition dir: %w", err)
	}
	p := &FilePartitions{dir: dir, queries: q, boot: boot, minSecure: minSecure, now: time.Now}
	if err := p.ensureFactory(factory); err != nil {
		return nil, err
	}
	if err := p.selectBoot(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *FilePartitions) path(slot string) string {
	return filepath.Join(p.dir, slot+".bin")
}

func (p *FilePartitions) get(name string) (Slot, error) {
	var s Slot
	err := p.queries.Get("get-partition", &s, name)
	if errors.Is(err, sql.ErrNoRows) {
		return s, fmt.Errorf("partition %s: %w", name, types.ErrNotFound)
	}
	if err != nil {
		return s, fmt.Errorf("failed to read partition %s: %w", name, err)
	}
	return s, nil
}

func (p *FilePartitions) put(s Slot) error {
	_, err := p.queries.Exec("upsert-partition", s.Name, string(s.State), s.Version, s.Project,
		s.SecureVersion, s.Size, s.SHA256, s.BootAttempts, p.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to write partition %s: %w", s.Name, err)
	}
	return nil
}

func (p *FilePartitions) setState(name string, state ImageState, attempts int) error {
	_, err := p.queries.Exec("update-partition-state", string(state), attempts, p.now().UTC(), name)
	if err != nil {
		return fmt.Errorf("failed to update partition %s: %w", name, err)
	}
	return nil
}

func (p *FilePartitions) ensureFactory(f Factory) error {
	s, err := p.get(SlotFactory)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return err
	}
	if err == nil && s.Version == f.Version && s.Project == f.Project {
		return nil
	}
	return p.put(Slot{
		Name:          SlotFactory,
		State:         StateUndefined,
		Version:       f.Version,
		Project:       f.Project,
		SecureVersion: f.SecureVersion,
	})
}

func (p *FilePartitions) bootValue(key string) string {
	v, err := p.boot.GetString(nvs.NamespaceBoot, key)
	if err != nil || v == "" {
		return SlotFactory
	}
	return v
}

// selectBoot is the bootloader: a fresh image is tried once, an image that
// was tried and never confirmed is rolled back.
func (p *FilePartitions) selectBoot() error {
	name := p.bootValue(keyBoot)
	s, err := p.get(name)
	if err != nil {
		log.Warn().Err(err).Str("slot", name).Msg("Boot slot unreadable, using factory")
		return p.bootFactory()
	}
	if name != SlotFactory {
		if _, err := os.Stat(p.path(name)); err != nil {
			log.Warn().Err(err).Str("slot", name).Msg("Boot image missing, marking invalid")
			if err := p.setState(name, StateInvalid, s.BootAttempts); err != nil {
				return err
			}
			return p.rollback()
		}
	}

	switch s.State {
	case StateNew:
		s.State = StatePendingVerify
		s.BootAttempts++
		if err := p.setState(name, s.State, s.BootAttempts); err != nil {
			return err
		}
	case StatePendingVerify:
		log.Warn().Str("slot", name).Msg("Image was not confirmed, rolling back")
		if err := p.setState(name, StateAborted, s.BootAttempts); err != nil {
			return err
		}
		return p.rollback()
	case StateInvalid, StateAborted:
		return p.rollback()
	}

	p.running = s
	log.Info().Str("slot", s.Name).Str("version", s.Version).Str("state", string(s.State)).Msg("Booted")
	return nil
}

func (p *FilePartitions) rollback() error {
	prev := p.bootValue(keyPrevious)
	if err := p.boot.SetString(nvs.NamespaceBoot, keyBoot, prev); err != nil {
		return fmt.Errorf("failed to select boot slot: %w", err)
	}
	if err := p.boot.SetString(nvs.NamespaceBoot, keyPrevious, SlotFactory); err != nil {
		return fmt.Errorf("failed to select boot slot: %w", err)
	}
	if prev == SlotFactory {
		return p.bootFactory()
	}
	return p.selectBoot()
}

func (p *FilePartitions) bootFactory() error {
	s, err := p.get(SlotFactory)
	if err != nil {
		return err
	}
	p.running = s
	log.Info().Str("slot", s.Name).Str("version", s.Version).Msg("Booted")
	return nil
}

func (p *FilePartitions) Running() Slot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *FilePartitions) RunningState() (ImageState, error) {
	p.mu.Lock()
	name := p.running.Name
	p.mu.Unlock()
	s, err := p.get(name)
	if err != nil {
		return StateUndefined, err
	}
	return s.State, nil
}

func (p *FilePartitions) MarkRunningValid() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.setState(p.running.Name, StateValid, 0); err != nil {
		return err
	}
	p.running.State = StateValid
	p.running.BootAttempts = 0
	return nil
}

func (p *FilePartitions) SecureVersionMin() uint32 {
	return p.minSecure
}

// Slots lists every known slot.
func (p *FilePartitions) Slots() ([]Slot, error) {
	var out []Slot
	if err := p.queries.Select("list-partitions", &out); err != nil {
		return nil, fmt.Errorf("failed to list partitions: %w", err)
	}
	return out, nil
}

// next is the slot an update is written to: never the running one.
func (p *FilePartitions) next() string {
	if p.running.Name == SlotOTA0 {
		return SlotOTA1
	}
	return SlotOTA0
}

func (p *FilePartitions) BeginUpdate() (Update, error) {
	p.mu.Lock()
	slot := p.next()
	p.mu.Unlock()

	f, err := os.Create(p.path(slot) + ".part")
	if err != nil {
		return nil, fmt.Errorf("failed to open slot %s: %w", slot, err)
	}
	return &fileUpdate{parts: p, slot: slot, f: f, hash: sha256.New()}, nil
}

type fileUpdate struct {
	parts *FilePartitions
	slot  string
	f     *os.File
	hash  hash.Hash
	size  int64
	done  bool
}

func (u *fileUpdate) Write(b []byte) (int, error) {
	if u.done {
		return 0, os.ErrClosed
	}
	n, err := u.f.Write(b)
	u.hash.Write(b[:n])
	u.size += int64(n)
	return n, err
}

func (u *fileUpdate) Abort() error {
	if u.done {
		return nil
	}
	u.done = true
	u.f.Close()
	return os.Remove(u.f.Name())
}

func (u *fileUpdate) Finish() (AppDescriptor, error) {
	if u.done {
		return AppDescriptor{}, os.ErrClosed
	}
	desc, err := ValidateImage(u.f, u.size)
	if err != nil {
		u.Abort()
		return desc, err
	}
	u.done = true
	if err := u.f.Close(); err != nil {
		os.Remove(u.f.Name())
		return desc, fmt.Errorf("failed to close slot %s: %w", u.slot, err)
	}

	p := u.parts
	if err := os.Rename(u.f.Name(), p.path(u.slot)); err != nil {
		return desc, fmt.Errorf("failed to commit slot %s: %w", u.slot, err)
	}
	err = p.put(Slot{
		Name:          u.slot,
		State:         StateNew,
		Version:       desc.Version,
		Project:       desc.ProjectName,
		SecureVersion: desc.SecureVersion,
		Size:          u.size,
		SHA256:        hex.EncodeToString(u.hash.Sum(nil)),
	})
	if err != nil {
		return desc, err
	}

	p.mu.Lock()
	running := p.running.Name
	p.mu.Unlock()
	if err := p.boot.SetString(nvs.NamespaceBoot, keyPrevious, running); err != nil {
		return desc, fmt.Errorf("failed to select boot slot: %w", err)
	}
	if err := p.boot.SetString(nvs.NamespaceBoot, keyBoot, u.slot); err != nil {
		return desc, fmt.Errorf("failed to select boot slot: %w", err)
	}
	return desc, nil
}
