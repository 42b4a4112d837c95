package emotion

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/harunnryd/sapa/pkg/errorsx"
)

// Table is the process-wide set of profiles. It is built once by LoadTable
// and only read afterwards, so lookups need no locking.
type Table struct {
	profiles map[string]Profile
	names    []string
}

// LoadTable builds profiles from presets and the *.wav files in dir. The
// profile name of a recording is its lowercased file stem. A preset without
// a recording stays parameter-only; a recording without a preset uses the
// default parameters. defaultReference, when set, backs every profile that
// has no recording of its own. A missing dir is not an error.
func LoadTable(dir string, presets map[string]map[string]float64, defaultReference string) (*Table, error) {
	if presets == nil {
		presets = DefaultPresets()
	}
	refs, err := scanReferences(dir)
	if err != nil {
		return nil, errorsx.Configuration(err)
	}

	var fallback []byte
	if p := strings.TrimSpace(defaultReference); p != "" {
		b, err := os.ReadFile(p)
		if err != nil {
			slog.Warn("emotion_default_reference_unreadable", "path", p, "error", err.Error())
		} else {
			fallback = b
		}
	}

	t := &Table{profiles: make(map[string]Profile)}
	add := func(name string, overrides map[string]float64) error {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			return nil
		}
		params := mergeParams(overrides)
		if err := validateParams(name, params); err != nil {
			return errorsx.Configuration(err)
		}
		p := Profile{Name: name, Params: params}
		if path, ok := refs[name]; ok {
			b, err := os.ReadFile(path)
			if err != nil {
				slog.Warn("emotion_reference_unreadable", "profile", name, "path", path, "error", err.Error())
			} else {
				p.ReferencePath = path
				p.Reference = b
			}
		}
		if !p.HasReference() && len(fallback) > 0 {
			p.ReferencePath = defaultReference
			p.Reference = fallback
		}
		t.profiles[name] = p
		return nil
	}

	for name, params := range presets {
		if err := add(name, params); err != nil {
			return nil, err
		}
	}
	for name := range refs {
		if _, ok := t.profiles[name]; ok {
			continue
		}
		if err := add(name, nil); err != nil {
			return nil, err
		}
	}
	if _, ok := t.profiles[Neutral]; !ok {
		if err := add(Neutral, nil); err != nil {
			return nil, err
		}
	}

	for name := range t.profiles {
		t.names = append(t.names, name)
	}
	sort.Strings(t.names)
	return t, nil
}

// NewTable builds a table from ready profiles. It is meant for tests and
// embedders that load profiles elsewhere; neutral is added when missing.
func NewTable(profiles ...Profile) *Table {
	t := &Table{profiles: make(map[string]Profile, len(profiles)+1)}
	for _, p := range profiles {
		p.Name = strings.ToLower(strings.TrimSpace(p.Name))
		if p.Name == "" {
			continue
		}
		p.Params = mergeParams(p.Params)
		t.profiles[p.Name] = p
	}
	if _, ok := t.profiles[Neutral]; !ok {
		t.profiles[Neutral] = Profile{Name: Neutral, Params: DefaultParams()}
	}
	for name := range t.profiles {
		t.names = append(t.names, name)
	}
	sort.Strings(t.names)
	return t
}

func (t *Table) Lookup(name string) (Profile, bool) {
	p, ok := t.profiles[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// Neutral always succeeds.
func (t *Table) Neutral() Profile {
	return t.profiles[Neutral]
}

func (t *Table) Names() []string {
	return append([]string(nil), t.names...)
}

func scanReferences(dir string) (map[string]string, error) {
	refs := make(map[string]string)
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return refs, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Info("emotion_dir_missing", "dir", dir)
			return refs, nil
		}
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".wav") {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		refs[strings.ToLower(stem)] = filepath.Join(dir, e.Name())
	}
	return refs, nil
}
