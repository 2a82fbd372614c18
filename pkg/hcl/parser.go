package hcl

import (
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"

	"github.com/leowmjw/go-temporal-emissions/pkg/pipeline"
)

// HCLRunFile is the shape of a run request document. Top-level attributes
// apply to every run block that does not set them; a document without run
// blocks describes a single run.
type HCLRunFile struct {
	Entities   []string `hcl:"entities,optional"`
	Categories []string `hcl:"categories,optional"`
	Pull       *bool    `hcl:"pull,optional"`
	Resume     *bool    `hcl:"resume,optional"`
	Model      *string  `hcl:"model,optional"`
	Runs       []HCLRun `hcl:"run,block"`
}

// HCLRun is one labelled run block
type HCLRun struct {
	ID         string   `hcl:"id,label"`
	Entities   []string `hcl:"entities,optional"`
	Categories []string `hcl:"categories,optional"`
	Pull       *bool    `hcl:"pull,optional"`
	Resume     *bool    `hcl:"resume,optional"`
	Model      *string  `hcl:"model,optional"`
}

// ParseRunRequest parses a document that describes exactly one run
func ParseRunRequest(src []byte) (*pipeline.Request, error) {
	runs, err := ParseRunRequests(src, "run.hcl")
	if err != nil {
		return nil, err
	}
	if len(runs) != 1 {
		return nil, fmt.Errorf("expected one run, found %d", len(runs))
	}
	return &runs[0], nil
}

// ParseRunRequests parses a document that may hold several run blocks
func ParseRunRequests(src []byte, filename string) ([]pipeline.Request, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL: %s", diags.Error())
	}
	return decodeRunFile(file)
}

func decodeRunFile(file *hcl.File) ([]pipeline.Request, error) {
	var doc HCLRunFile
	diags := gohcl.DecodeBody(file.Body, evalContext(), &doc)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL body: %s", diags.Error())
	}
	return convertRunFile(&doc)
}

func convertRunFile(doc *HCLRunFile) ([]pipeline.Request, error) {
	defaults := pipeline.Request{
		Entities:   normalizeCodes(doc.Entities),
		Categories: doc.Categories,
		Pull:       deref(doc.Pull),
		Resume:     deref(doc.Resume),
	}
	if doc.Model != nil {
		defaults.Model = *doc.Model
	}
	if len(doc.Runs) == 0 {
		return []pipeline.Request{defaults}, nil
	}

	seen := make(map[string]bool, len(doc.Runs))
	requests := make([]pipeline.Request, 0, len(doc.Runs))
	for _, run := range doc.Runs {
		if seen[run.ID] {
			return nil, fmt.Errorf("duplicate run %q", run.ID)
		}
		seen[run.ID] = true

		req := defaults
		req.RunID = run.ID
		if run.Entities != nil {
			req.Entities = normalizeCodes(run.Entities)
		}
		if run.Categories != nil {
			req.Categories = run.Categories
		}
		if run.Pull != nil {
			req.Pull = *run.Pull
		}
		if run.Resume != nil {
			req.Resume = *run.Resume
		}
		if run.Model != nil {
			req.Model = *run.Model
		}
		requests = append(requests, req)
	}
	return requests, nil
}

// evalContext exposes a few string and list helpers to run documents
func evalContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{},
		Functions: map[string]function.Function{
			"upper":    stdlib.UpperFunc,
			"lower":    stdlib.LowerFunc,
			"concat":   stdlib.ConcatFunc,
			"distinct": stdlib.DistinctFunc,
		},
	}
}

func normalizeCodes(codes []string) []string {
	if codes == nil {
		return nil
	}
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = strings.ToUpper(strings.TrimSpace(c))
	}
	return out
}

func deref(b *bool) bool {
	return b != nil && *b
}

// IsHCL attempts to detect if the given content is in HCL format
func IsHCL(content []byte) bool {
	_, diags := hclsyntax.ParseConfig(content, "", hcl.Pos{Line: 1, Column: 1})
	return !diags.HasErrors()
}
