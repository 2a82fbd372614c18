package hcl

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/leowmjw/go-temporal-emissions/pkg/pipeline"
)

// MergeHCLFiles combines multiple HCL files into a single HCL file body,
// the way Terraform loads the .tf files of a directory. Files are read in
// the order given.
func MergeHCLFiles(filePaths []string) (*hcl.File, error) {
	parser := hclparse.NewParser()
	var merged bytes.Buffer

	for _, path := range filePaths {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read file %s: %w", path, err)
		}
		merged.Write(content)
		merged.WriteString("\n")
	}

	file, diags := parser.ParseHCL(merged.Bytes(), "merged.hcl")
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse merged HCL content: %s", diags.Error())
	}
	return file, nil
}

// ParseRunDirectory parses every .hcl file directly under dir as one run
// document. Shared defaults can live in their own file next to the run
// blocks.
func ParseRunDirectory(dir string) ([]pipeline.Request, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !IsHCLBasedOnExtension(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no HCL files found in directory %s", dir)
	}
	sort.Strings(files)

	file, err := MergeHCLFiles(files)
	if err != nil {
		return nil, err
	}
	return decodeRunFile(file)
}
