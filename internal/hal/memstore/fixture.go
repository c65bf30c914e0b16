package memstore

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/drblury/haltalk/internal/hal"
)

// Fixture is the YAML layout accepted by LoadFixture. It lets the demo
// command and tests describe a populated store declaratively.
type Fixture struct {
	Signals    []FixtureSignal    `yaml:"signals"`
	Components []FixtureComponent `yaml:"components"`
	Groups     []FixtureGroup     `yaml:"groups"`
	Threads    []FixtureThread    `yaml:"threads"`
	Rings      []FixtureRing      `yaml:"rings"`
}

type FixtureSignal struct {
	Name  string `yaml:"name"`
	Type  string `yaml:"type"`
	Value any    `yaml:"value"`
}

type FixturePin struct {
	Name   string `yaml:"name"`
	Type   string `yaml:"type"`
	Dir    string `yaml:"dir"`
	Signal string `yaml:"signal"`
	Value  any    `yaml:"value"`
}

type FixtureParam struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Writable bool   `yaml:"writable"`
}

type FixtureComponent struct {
	Name         string         `yaml:"name"`
	Kind         string         `yaml:"kind"`
	ScanMS       int            `yaml:"scan_ms"`
	AcceptValues bool           `yaml:"accept_values_on_bind"`
	Pins         []FixturePin   `yaml:"pins"`
	Params       []FixtureParam `yaml:"params"`
}

type FixtureGroup struct {
	Name    string               `yaml:"name"`
	ScanMS  int                  `yaml:"scan_ms"`
	Members []FixtureGroupMember `yaml:"members"`
}

type FixtureGroupMember struct {
	Signal  string  `yaml:"signal"`
	Group   string  `yaml:"group"`
	Epsilon float64 `yaml:"epsilon"`
}

type FixtureThread struct {
	Name      string   `yaml:"name"`
	PeriodNS  int64    `yaml:"period_ns"`
	CPU       int      `yaml:"cpu"`
	Functions []string `yaml:"functions"`
}

type FixtureRing struct {
	Name   string `yaml:"name"`
	Size   int    `yaml:"size"`
	Stream bool   `yaml:"stream"`
}

// LoadFixtureFile reads a YAML fixture from path.
func LoadFixtureFile(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadFixture(f)
}

// LoadFixture builds a store from a YAML fixture. Signals are created first,
// then components (linking pins as declared), then groups.
func LoadFixture(r io.Reader) (*Store, error) {
	var fx Fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fx); err != nil && err != io.EOF {
		return nil, fmt.Errorf("memstore: decode fixture: %w", err)
	}
	s := New()
	if err := s.Apply(fx); err != nil {
		return nil, err
	}
	return s, nil
}

// Apply adds the fixture's objects to the store.
func (s *Store) Apply(fx Fixture) error {
	for _, fs := range fx.Signals {
		t, err := hal.ParseType(fs.Type)
		if err != nil {
			return fmt.Errorf("signal %q: %w", fs.Name, err)
		}
		if _, err := s.NewSignal(fs.Name, t); err != nil {
			return err
		}
		if fs.Value != nil {
			v, err := ParseValue(t, fs.Value)
			if err != nil {
				return fmt.Errorf("signal %q: %w", fs.Name, err)
			}
			if err := s.WriteSignal(fs.Name, v); err != nil {
				return err
			}
		}
	}

	for _, fc := range fx.Components {
		if err := s.applyComponent(fc); err != nil {
			return fmt.Errorf("component %q: %w", fc.Name, err)
		}
	}

	for _, fg := range fx.Groups {
		members := make([]hal.GroupMember, 0, len(fg.Members))
		for _, m := range fg.Members {
			switch {
			case m.Group != "":
				members = append(members, hal.GroupMember{Kind: hal.MemberGroup, Name: m.Group})
			case m.Signal != "":
				members = append(members, hal.GroupMember{Kind: hal.MemberSignal, Name: m.Signal, Epsilon: m.Epsilon})
			default:
				return fmt.Errorf("group %q: member needs a signal or group", fg.Name)
			}
		}
		if err := s.NewGroup(fg.Name, time.Duration(fg.ScanMS)*time.Millisecond, members...); err != nil {
			return err
		}
	}

	for _, ft := range fx.Threads {
		s.AddThread(hal.Thread{Name: ft.Name, Period: time.Duration(ft.PeriodNS), CPU: ft.CPU, Functions: ft.Functions})
	}
	for _, fr := range fx.Rings {
		s.AddRing(hal.Ring{Name: fr.Name, Size: fr.Size, Stream: fr.Stream})
	}
	return nil
}

func (s *Store) applyComponent(fc FixtureComponent) error {
	kind := hal.KindRT
	if fc.Kind != "" {
		if err := kind.UnmarshalText([]byte(fc.Kind)); err != nil {
			return err
		}
	}

	s.mu.Lock()
	_, err := s.addComponent(hal.ComponentSpec{
		Name:               fc.Name,
		ScanInterval:       time.Duration(fc.ScanMS) * time.Millisecond,
		AcceptValuesOnBind: fc.AcceptValues,
	}, kind)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	for _, fp := range fc.Pins {
		t, err := hal.ParseType(fp.Type)
		if err != nil {
			return fmt.Errorf("pin %q: %w", fp.Name, err)
		}
		dir, err := hal.ParseDirection(fp.Dir)
		if err != nil {
			return fmt.Errorf("pin %q: %w", fp.Name, err)
		}
		spec := hal.PinSpec{Name: fp.Name, Type: t, Dir: dir}
		if fp.Value != nil {
			v, err := ParseValue(t, fp.Value)
			if err != nil {
				return fmt.Errorf("pin %q: %w", fp.Name, err)
			}
			spec.Value = &v
		}
		if _, err := s.NewPin(fc.Name, spec); err != nil {
			return err
		}
		if fp.Signal != "" {
			if err := s.Link(fp.Name, fp.Signal); err != nil {
				return err
			}
		}
	}

	for _, fp := range fc.Params {
		t, err := hal.ParseType(fp.Type)
		if err != nil {
			return fmt.Errorf("param %q: %w", fp.Name, err)
		}
		dir := hal.ParamRO
		if fp.Writable {
			dir = hal.ParamRW
		}
		if _, err := s.NewParam(fc.Name, fp.Name, t, dir); err != nil {
			return err
		}
	}
	return s.Ready(fc.Name)
}

// ParseValue converts a decoded YAML scalar into a value of type t.
func ParseValue(t hal.Type, raw any) (hal.Value, error) {
	switch t {
	case hal.TypeBit:
		b, ok := raw.(bool)
		if !ok {
			return hal.Value{}, fmt.Errorf("want bool, got %T", raw)
		}
		return hal.BitValue(b), nil
	case hal.TypeFloat:
		switch n := raw.(type) {
		case float64:
			return hal.FloatValue(n), nil
		case int:
			return hal.FloatValue(float64(n)), nil
		}
	case hal.TypeS32, hal.TypeU32, hal.TypeS64, hal.TypeU64:
		n, ok := raw.(int)
		if !ok {
			return hal.Value{}, fmt.Errorf("want integer, got %T", raw)
		}
		switch t {
		case hal.TypeS32:
			return hal.S32Value(int32(n)), nil
		case hal.TypeU32:
			if n < 0 {
				return hal.Value{}, fmt.Errorf("negative value %d for %s", n, t)
			}
			return hal.U32Value(uint32(n)), nil
		case hal.TypeS64:
			return hal.S64Value(int64(n)), nil
		default:
			if n < 0 {
				return hal.Value{}, fmt.Errorf("negative value %d for %s", n, t)
			}
			return hal.U64Value(uint64(n)), nil
		}
	}
	return hal.Value{}, fmt.Errorf("cannot use %T as %s", raw, t)
}
