package config

import (
	"io"
	"os"

	"github.com/Unknwon/goconfig"
	"github.com/sirupsen/logrus"
)

// Load reads an INI-shaped configuration document from path and returns a
// frozen Store. This stands in for NsConfigEval's Tcl boot script: instead
// of ns_section/ns_param commands run against an embedded interpreter, a
// declarative [section] / key = value document is parsed once at startup —
// the alternative spec.md §9 explicitly allows ("may equivalently parse a
// declarative format").
func Load(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadReader(f)
}

// LoadReader is Load against an already-open reader, useful for tests and
// for configuration embedded in a binary.
func LoadReader(r io.Reader) (*Store, error) {
	cfg, err := goconfig.LoadFromReader(r)
	if err != nil {
		return nil, err
	}

	st := NewStore()
	for _, name := range cfg.SectionStrings() {
		pairs, err := cfg.GetSection(name)
		if err != nil {
			logrus.WithField("section", name).WithError(err).Warn("config: unreadable section, skipping")
			continue
		}
		sec := st.section(name, true)
		for k, v := range pairs {
			sec.set(k, v)
		}
	}
	return st, nil
}

// Builder incrementally populates a Store, mirroring the ns_section /
// ns_param boot-script commands directly: Section switches the "current"
// section (creating it if new), Param inserts into whatever section was
// last selected. Builder is mainly useful for tests and for programs that
// construct configuration in Go rather than from a file.
type Builder struct {
	store   *Store
	current *Section
}

// NewBuilder returns a Builder over a fresh, empty Store.
func NewBuilder() *Builder {
	return &Builder{store: NewStore()}
}

// Section sets the current section, creating it if it does not exist yet.
func (b *Builder) Section(name string) *Builder {
	b.current = b.store.section(name, true)
	return b
}

// Param inserts key/value into the current section. It panics if no section
// has been selected yet, matching ns_param's "fails if no current section"
// rule — callers are expected to call Section first, as a boot script must
// call ns_section before any ns_param.
func (b *Builder) Param(key, value string) *Builder {
	if b.current == nil {
		panic("config: Param called before Section")
	}
	b.current.set(key, value)
	return b
}

// Build returns the populated Store. The Builder must not be used
// afterwards.
func (b *Builder) Build() *Store {
	return b.store
}
