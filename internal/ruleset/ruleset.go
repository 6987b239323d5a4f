// Package ruleset reads rule definitions from YAML files for bulk import.
package ruleset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/vndarlan/chegou-autoads/internal/engine"
)

// File is the layout of a rules file:
//
//	rules:
//	  - name: pause expensive
//	    primary_metric: cpa
//	    primary_operator: ">"
//	    primary_value: 25
//	    action_type: pause_campaign
//	    execution_mode: automatic
//	    execution_interval_hours: 6
type File struct {
	Rules []engine.RuleDraft `yaml:"rules"`
}

func Load(path string) (File, error) {
	f, err := os.Open(path)
	if err != nil {
		return File{}, fmt.Errorf("failed to open rules file %s: %w", path, err)
	}
	defer f.Close()

	out, err := Decode(f)
	if err != nil {
		return File{}, fmt.Errorf("failed to decode rules file %s: %w", path, err)
	}
	return out, nil
}

// Decode parses a rules document. Unknown keys are rejected so typos do not silently drop fields.
func Decode(r io.Reader) (File, error) {
	var out File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&out); err != nil {
		if errors.Is(err, io.EOF) {
			return File{}, nil
		}
		return File{}, err
	}
	return out, nil
}

type Creator interface {
	CreateRule(ctx context.Context, d engine.RuleDraft) (string, error)
}

// Result is the outcome of importing one rule.
type Result struct {
	Index int
	Name  string
	ID    string
	Err   error
}

// Import creates every rule of the file. A rejected rule does not stop the others.
func Import(ctx context.Context, c Creator, f File) []Result {
	out := make([]Result, 0, len(f.Rules))
	for n, d := range f.Rules {
		res := Result{Index: n, Name: d.Name}
		res.ID, res.Err = c.CreateRule(ctx, d)
		if res.Err != nil {
			log.Warn().Err(res.Err).Int("index", n).Str("name", d.Name).Msg("rule rejected")
		} else {
			log.Info().Str("rule_id", res.ID).Str("name", d.Name).Msg("rule imported")
		}
		out = append(out, res)
	}
	return out
}

// Failed counts the rejected rules.
func Failed(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}
