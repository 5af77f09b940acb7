// Copyright (C) 2026 Faultline HQ (engineering@faultlinehq.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cfa

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProgramSpec is the YAML/JSON description of a program CFA consumed
// by the CLI and the HTTP API.
//
// Example:
//
//	name: contradiction
//	entry: L0
//	errors: [err]
//	edges:
//	  - {from: L0, to: L1, stmt: "a > b"}
//	  - {from: L1, to: err, stmt: "b > a"}
type ProgramSpec struct {
	// Name identifies the program in logs, caches, and reports.
	Name string `yaml:"name" json:"name" validate:"required"`

	// Entry is the label of the entry node.
	Entry string `yaml:"entry" json:"entry" validate:"required"`

	// Errors lists the labels of error locations.
	Errors []string `yaml:"errors" json:"errors" validate:"required,min=1"`

	// Edges lists all control edges. Nodes are declared implicitly by
	// first appearance.
	Edges []EdgeSpec `yaml:"edges" json:"edges" validate:"required,min=1,dive"`
}

// EdgeSpec is one edge of a ProgramSpec.
type EdgeSpec struct {
	From string `yaml:"from" json:"from" validate:"required"`
	To   string `yaml:"to" json:"to" validate:"required"`
	Stmt string `yaml:"stmt" json:"stmt"`
}

// LoadProgram reads and parses a program spec from a YAML file.
func LoadProgram(path string) (*ProgramSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read program: %w", err)
	}
	var spec ProgramSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse program: %w", err)
	}
	return &spec, nil
}

// Build converts the spec into a Graph and ErrorSpec.
//
// Node IDs are assigned by first appearance: the entry label first,
// then edge endpoints in declaration order. Statements are parsed with
// ParseStatement; a parse failure aborts the build.
func (p *ProgramSpec) Build() (*Graph, *ErrorSpec, error) {
	if len(p.Edges) == 0 {
		return nil, nil, ErrEmptyProgram
	}

	ids := make(map[string]NodeID)
	var nodes []*Node
	intern := func(label string) NodeID {
		if id, ok := ids[label]; ok {
			return id
		}
		id := NodeID(len(nodes))
		ids[label] = id
		nodes = append(nodes, &Node{ID: id, Label: label})
		return id
	}

	entry := intern(p.Entry)

	edges := make([]*Edge, 0, len(p.Edges))
	for i, es := range p.Edges {
		op, err := ParseStatement(es.Stmt)
		if err != nil {
			return nil, nil, fmt.Errorf("edge %d (%s -> %s): %w", i, es.From, es.To, err)
		}
		edges = append(edges, &Edge{
			From: intern(es.From),
			To:   intern(es.To),
			Op:   op,
			Text: es.Stmt,
		})
	}

	for _, label := range p.Errors {
		if _, ok := ids[label]; !ok {
			return nil, nil, fmt.Errorf("%w: error label %q", ErrUnknownNode, label)
		}
	}

	g, err := NewGraph(entry, nodes, edges)
	if err != nil {
		return nil, nil, err
	}
	return g, NewErrorSpec(p.Errors...), nil
}

// Hash returns a stable content hash of the spec, used as the verdict
// cache key.
func (p *ProgramSpec) Hash() string {
	var sb strings.Builder
	sb.WriteString(p.Name)
	sb.WriteByte('\n')
	sb.WriteString(p.Entry)
	sb.WriteByte('\n')
	errs := append([]string(nil), p.Errors...)
	sort.Strings(errs)
	for _, e := range errs {
		sb.WriteString(e)
		sb.WriteByte('\n')
	}
	for _, e := range p.Edges {
		fmt.Fprintf(&sb, "%s|%s|%s\n", e.From, e.To, e.Stmt)
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}
