package units

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/danieljhkim/unitforge/internal/hash"
	"github.com/danieljhkim/unitforge/internal/sequence"
)

// DefinitionFile is the file name of a unit definition inside its directory.
const DefinitionFile = "unit.yaml"

// Definition is the on-disk form of a unit.
type Definition struct {
	Name     string `yaml:"name" validate:"required,identifier"`
	Version  string `yaml:"version" validate:"required"`
	Revision int    `yaml:"revision" validate:"min=0"`

	Description string `yaml:"description,omitempty"`
	License     string `yaml:"license,omitempty"`
	Maintainer  string `yaml:"maintainer,omitempty"`
	Category    string `yaml:"category,omitempty"`
	Homepage    string `yaml:"homepage,omitempty" validate:"omitempty,url"`
	SCM         string `yaml:"scm,omitempty"`
	SCMWeb      string `yaml:"scm_web,omitempty" validate:"omitempty,url"`

	Depends        []DependencyEntry `yaml:"depends,omitempty" validate:"dive"`
	RuntimeDepends []DependencyEntry `yaml:"runtime_depends,omitempty" validate:"dive"`

	Sources []SourceEntry `yaml:"sources,omitempty" validate:"dive"`
	Patches []string      `yaml:"patches,omitempty" validate:"dive,required"`

	Vars   map[string]string `yaml:"vars,omitempty"`
	Groups []string          `yaml:"groups,omitempty" validate:"dive,required"`

	Build BuildEntry `yaml:"build,omitempty"`

	// Hooks maps "pre-<operation>"/"post-<operation>" to a shell command.
	Hooks map[string]string `yaml:"hooks,omitempty" validate:"dive,keys,hookname,endkeys,required"`

	// Sequences replaces the action list of the named sequences.
	Sequences map[string][]string `yaml:"sequences,omitempty" validate:"dive,keys,sequence,endkeys,dive,action"`
}

// DependencyEntry is written either as "name", "name version" or a mapping.
type DependencyEntry struct {
	Name    string `yaml:"name" validate:"required,identifier"`
	Version string `yaml:"version,omitempty"`
}

// UnmarshalYAML accepts the scalar and mapping forms.
func (d *DependencyEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		fields := strings.Fields(node.Value)
		switch len(fields) {
		case 1:
			d.Name = fields[0]
		case 2:
			d.Name, d.Version = fields[0], fields[1]
		default:
			return fmt.Errorf("line %d: dependency %q must be \"name\" or \"name version\"", node.Line, node.Value)
		}
		return nil
	}
	type plain DependencyEntry
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*d = DependencyEntry(p)
	return nil
}

// SourceEntry is one upstream artifact.
type SourceEntry struct {
	URL       string            `yaml:"url" validate:"required"`
	Filename  string            `yaml:"filename,omitempty"`
	Checksums map[string]string `yaml:"checksums,omitempty" validate:"dive,keys,algorithm,endkeys,hexadecimal"`
}

// BuildEntry holds the build tool command lines.
type BuildEntry struct {
	Configure string `yaml:"configure,omitempty"`
	Build     string `yaml:"build,omitempty"`
	Destroot  string `yaml:"destroot,omitempty"`
	Clean     string `yaml:"clean,omitempty"`
	Distclean string `yaml:"distclean,omitempty"`
}

// HookOperations lists the operations hooks may attach to.
var HookOperations = []string{
	"download", "extract", "patch", "unpatch", "configure", "build", "destroot",
	"activate", "deactivate", "clean", "distclean",
	"delete_download", "delete_source", "delete_build", "delete_destroot",
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	must(v.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
		return isIdentifier(fl.Field().String())
	}))
	must(v.RegisterValidation("hookname", func(fl validator.FieldLevel) bool {
		return isHookName(fl.Field().String())
	}))
	must(v.RegisterValidation("algorithm", func(fl validator.FieldLevel) bool {
		return hash.Supported(fl.Field().String())
	}))
	table := sequence.DefaultTable()
	must(v.RegisterValidation("sequence", func(fl validator.FieldLevel) bool {
		_, ok := table.Lookup(fl.Field().String())
		return ok
	}))
	must(v.RegisterValidation("action", func(fl validator.FieldLevel) bool {
		return sequence.IsAction(fl.Field().String())
	}))
	return v
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

// Validate checks the definition and returns every problem found.
func (d *Definition) Validate() error {
	err := validate.Struct(d)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", strings.TrimPrefix(fe.Namespace(), "Definition."), fe.Tag()))
	}
	sort.Strings(msgs)
	return fmt.Errorf("invalid unit definition: %s", strings.Join(msgs, "; "))
}

func isIdentifier(s string) bool {
	if s == "" || len(s) > 255 || s == "." || s == ".." {
		return false
	}
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.', c == '+':
		default:
			return false
		}
	}
	return true
}

func isHookName(s string) bool {
	when, op, ok := strings.Cut(s, "-")
	if !ok || (when != "pre" && when != "post") {
		return false
	}
	for _, known := range HookOperations {
		if op == known {
			return true
		}
	}
	return false
}
