package main

import (
	"path/filepath"
	"strings"

	"github.com/c360/semtwin/config"
	"github.com/c360/semtwin/criterion"
)

// loadSelectors reads a JSON or YAML selector document
func loadSelectors(path string) ([]criterion.ResourceSelector, error) {
	data, err := config.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return criterion.ParseSelectorsYAML(data)
	}
	return criterion.ParseSelectors(data)
}

// compileFile loads and compiles a selector document into one criterion
func compileFile(path string) (criterion.Criterion, []criterion.ResourceSelector, error) {
	selectors, err := loadSelectors(path)
	if err != nil {
		return nil, nil, err
	}
	c, err := criterion.CompileSelectors(selectors)
	if err != nil {
		return nil, nil, err
	}
	return c, selectors, nil
}
