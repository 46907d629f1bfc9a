package agenda

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/research-kb/internal/apperr"
)

const idLen = 12

func newID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:idLen/2])
}

func checkID(id string) error {
	if len(id) != idLen {
		return apperr.Validationf("invalid agenda id %q", id)
	}
	if _, err := hex.DecodeString(id); err != nil {
		return apperr.Validationf("invalid agenda id %q", id)
	}
	return nil
}

func (s *Service) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// load reads an agenda. Callers hold s.mu.
func (s *Service) load(id string) (*Agenda, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperr.NotFound("agenda", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "agenda: read %s", id)
	}
	var a Agenda
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, eris.Wrapf(err, "agenda: decode %s", id)
	}
	return &a, nil
}

// save stamps and writes an agenda through a temp file so readers never see
// a partial document. Callers hold s.mu.
func (s *Service) save(a *Agenda) error {
	a.UpdatedAt = s.now()
	a.Stats = statsOf(a.Items)

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return eris.Wrap(err, "agenda: create dir")
	}
	raw, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return eris.Wrap(err, "agenda: encode")
	}
	tmp, err := os.CreateTemp(s.dir, a.ID+".*.tmp")
	if err != nil {
		return eris.Wrap(err, "agenda: create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "agenda: write temp file")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "agenda: close temp file")
	}
	if err := os.Rename(tmp.Name(), s.path(a.ID)); err != nil {
		return eris.Wrap(err, "agenda: replace file")
	}
	return nil
}

// List returns a summary of every agenda, most recently updated first.
// Unreadable files are skipped.
func (s *Service) List() ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []Summary{}, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "agenda: list dir")
	}

	out := []Summary{}
	for _, e := range entries {
		id, ok := strings.CutSuffix(e.Name(), ".json")
		if e.IsDir() || !ok {
			continue
		}
		a, err := s.load(id)
		if err != nil {
			zap.L().Warn("agenda: skipping unreadable file", zap.String("file", e.Name()), zap.Error(err))
			continue
		}
		out = append(out, Summary{
			ID:          a.ID,
			Name:        a.Name,
			ProjectName: a.ProjectName,
			TaskType:    a.TaskType,
			Stats:       a.Stats,
			CreatedAt:   a.CreatedAt,
			UpdatedAt:   a.UpdatedAt,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// Get returns the agenda with id.
func (s *Service) Get(id string) (*Agenda, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(id)
}

// Delete removes the agenda file.
func (s *Service) Delete(id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return apperr.NotFound("agenda", id)
	}
	if err != nil {
		return eris.Wrapf(err, "agenda: delete %s", id)
	}
	return nil
}

// update loads an agenda, applies fn and saves the result under one lock.
func (s *Service) update(id string, fn func(a *Agenda) error) (*Agenda, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.load(id)
	if err != nil {
		return nil, err
	}
	if err := fn(a); err != nil {
		return nil, err
	}
	if err := s.save(a); err != nil {
		return nil, err
	}
	return a, nil
}
