package persona

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Load reads a persona override from a YAML file. Fields left empty in the
// file keep their built-in defaults, so an override can replace just the
// title lists or just the rubric. An empty path returns the defaults.
func Load(path string) (*Persona, error) {
	def := Default()
	if path == "" {
		return def, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "persona: read %s", path)
	}

	// The YAML has a top-level "persona" key
	var wrapper struct {
		Persona Persona `yaml:"persona"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "persona: parse config")
	}

	p := &wrapper.Persona
	if len(p.TargetTitles) == 0 {
		p.TargetTitles = def.TargetTitles
	}
	if len(p.NegativeTitles) == 0 {
		p.NegativeTitles = def.NegativeTitles
	}
	if len(p.PositiveKeywords) == 0 {
		p.PositiveKeywords = def.PositiveKeywords
	}
	if p.Rubric == "" {
		p.Rubric = def.Rubric
	}

	return p, nil
}
