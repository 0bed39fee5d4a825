// Package toolchain adapts an external compiler process to the compile
// function interface. The compiler is any command that compiles the given
// sources, writes class files, and prints a JSON compile report on stdout;
// the adapter replays the report into the analysis callback.
package toolchain

import (
	"encoding/json"
	"fmt"

	"github.com/incbuild/incc/pkg/analysis"
)

// Report is the JSON document an external compiler emits for one compile
// step.
type Report struct {
	Sources []SourceReport `json:"sources"`
}

// SourceReport covers one compiled source file.
type SourceReport struct {
	Path        string          `json:"path"`
	Classes     []ClassReport   `json:"classes,omitempty"`
	Problems    []ProblemReport `json:"problems,omitempty"`
	MainClasses []string        `json:"mainClasses,omitempty"`
}

// ClassReport covers one top-level definition and its artifacts.
type ClassReport struct {
	Name           string            `json:"name"`
	Kind           string            `json:"kind"` // class, trait, module, packageModule
	HasMacro       bool              `json:"hasMacro,omitempty"`
	Public         []MemberReport    `json:"public,omitempty"`
	Private        []MemberReport    `json:"private,omitempty"`
	SealedChildren []string          `json:"sealedChildren,omitempty"`
	Binary         string            `json:"binary,omitempty"` // binary class name, empty for local-only
	File           string            `json:"file,omitempty"`   // emitted class file
	LocalFiles     []string          `json:"localFiles,omitempty"`
	UsedNames      []UsedNameReport  `json:"usedNames,omitempty"`
	InternalDeps   []DepReport       `json:"internalDeps,omitempty"`
	BinaryDeps     []BinaryDepReport `json:"binaryDeps,omitempty"`
}

// ProblemReport is one compiler diagnostic.
type ProblemReport struct {
	Category string `json:"category,omitempty"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
	Message  string `json:"message"`
	Severity string `json:"severity,omitempty"` // info, warn, error
	Reported bool   `json:"reported,omitempty"`
}

// MemberReport is one named member with its serialized shape.
type MemberReport struct {
	Name  string `json:"name"`
	Scope string `json:"scope,omitempty"` // default, implicit, patmat
	Shape string `json:"shape"`
}

// UsedNameReport is one referenced name with its scopes.
type UsedNameReport struct {
	Name   string   `json:"name"`
	Scopes []string `json:"scopes,omitempty"`
}

// DepReport is a dependency on another class of this compile unit.
type DepReport struct {
	On      string `json:"on"`
	Context string `json:"context,omitempty"` // memberRef, inheritance, localInheritance
}

// BinaryDepReport is a dependency on a binary class name, with the class
// file it resolved to.
type BinaryDepReport struct {
	File    string `json:"file"`
	Binary  string `json:"binary"`
	Context string `json:"context,omitempty"`
}

// ParseReport decodes a compiler report, rejecting unknown definition kinds
// and dependency contexts early so bad integrations fail loudly.
func ParseReport(data []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding compile report: %w", err)
	}
	for _, src := range r.Sources {
		if src.Path == "" {
			return nil, fmt.Errorf("compile report entry without path")
		}
		for _, c := range src.Classes {
			if _, err := parseKind(c.Kind); err != nil {
				return nil, fmt.Errorf("class %s: %w", c.Name, err)
			}
			for _, d := range c.InternalDeps {
				if _, err := parseContext(d.Context); err != nil {
					return nil, fmt.Errorf("class %s: %w", c.Name, err)
				}
			}
			for _, d := range c.BinaryDeps {
				if _, err := parseContext(d.Context); err != nil {
					return nil, fmt.Errorf("class %s: %w", c.Name, err)
				}
			}
		}
	}
	return &r, nil
}

func parseKind(s string) (analysis.DefinitionKind, error) {
	switch s {
	case "", "class":
		return analysis.ClassDef, nil
	case "trait":
		return analysis.Trait, nil
	case "module":
		return analysis.Module, nil
	case "packageModule":
		return analysis.PackageModule, nil
	default:
		return 0, fmt.Errorf("unknown definition kind %q", s)
	}
}

func parseContext(s string) (analysis.DependencyContext, error) {
	switch s {
	case "", "memberRef":
		return analysis.DependencyByMemberRef, nil
	case "inheritance":
		return analysis.DependencyByInheritance, nil
	case "localInheritance":
		return analysis.LocalDependencyByInheritance, nil
	default:
		return 0, fmt.Errorf("unknown dependency context %q", s)
	}
}

func parseScopes(ss []string) analysis.ScopeSet {
	var out analysis.ScopeSet
	for _, s := range ss {
		switch s {
		case "implicit":
			out |= analysis.ScopeImplicit
		case "patmat":
			out |= analysis.ScopePatMatTarget
		default:
			out |= analysis.ScopeDefault
		}
	}
	if out == 0 {
		out = analysis.ScopeDefault
	}
	return out
}

func parseScope(s string) analysis.ScopeSet {
	if s == "" {
		return analysis.ScopeDefault
	}
	return parseScopes([]string{s})
}

func parseSeverity(s string) analysis.Severity {
	switch s {
	case "error":
		return analysis.SeverityError
	case "warn":
		return analysis.SeverityWarn
	default:
		return analysis.SeverityInfo
	}
}
