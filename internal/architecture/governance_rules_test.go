package architecture_test

import (
	"io/fs"
	"path/filepath"
	"runtime"
	"strings"
)

const modulePath = "service-agent"

type layerRule struct {
	sourcePrefix string
	forbidden    []string
	hint         string
}

func internalPkg(name string) string { return modulePath + "/internal/" + name }

var architectureRules = []layerRule{
	{
		sourcePrefix: internalPkg("domain"),
		forbidden: []string{
			internalPkg("api"),
			internalPkg("app"),
			internalPkg("config"),
			internalPkg("db"),
			internalPkg("executor"),
			internalPkg("middleware"),
			internalPkg("registry"),
			internalPkg("service"),
			modulePath + "/cmd",
		},
		hint: "domain may only import domain",
	},
	{
		sourcePrefix: internalPkg("service"),
		forbidden: []string{
			internalPkg("api"),
			internalPkg("app"),
			internalPkg("db"),
			internalPkg("executor"),
			internalPkg("middleware"),
			internalPkg("registry"),
			modulePath + "/cmd",
		},
		hint: "service should depend on domain and service-local packages",
	},
	{
		sourcePrefix: internalPkg("api"),
		forbidden: []string{
			internalPkg("app"),
			internalPkg("config"),
			internalPkg("db"),
			internalPkg("executor"),
			internalPkg("registry"),
			modulePath + "/cmd",
		},
		hint: "api should depend on service, middleware and domain packages",
	},
	{
		sourcePrefix: internalPkg("db"),
		forbidden: []string{
			internalPkg("api"),
			internalPkg("app"),
			internalPkg("executor"),
			internalPkg("middleware"),
			internalPkg("registry"),
			internalPkg("service"),
			modulePath + "/cmd",
		},
		hint: "db should depend on domain and db-local packages",
	},
	{
		sourcePrefix: internalPkg("middleware"),
		forbidden: []string{
			internalPkg("api"),
			internalPkg("db"),
			internalPkg("executor"),
			internalPkg("registry"),
			internalPkg("service"),
		},
		hint: "middleware should depend on domain and middleware-local packages",
	},
	{
		sourcePrefix: internalPkg("executor"),
		forbidden: []string{
			internalPkg("api"),
			internalPkg("app"),
			internalPkg("db"),
			internalPkg("middleware"),
			internalPkg("registry"),
			internalPkg("service"),
		},
		hint: "executor adapts docker and git to domain ports",
	},
	{
		sourcePrefix: internalPkg("registry"),
		forbidden: []string{
			internalPkg("api"),
			internalPkg("app"),
			internalPkg("db"),
			internalPkg("executor"),
			internalPkg("middleware"),
			internalPkg("service"),
		},
		hint: "registry should depend on domain only",
	},
}

func collectGoFiles(root string) ([]string, error) {
	files := make([]string, 0)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".go") {
			files = append(files, filepath.ToSlash(path))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func repoRootDir() string {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "."
	}
	return filepath.Clean(filepath.Join(filepath.Dir(file), "..", ".."))
}

func internalRootDir() string {
	return filepath.Join(repoRootDir(), "internal")
}

func findRule(sourcePkg string) (layerRule, bool) {
	for _, rule := range architectureRules {
		if hasPathPrefix(sourcePkg, rule.sourcePrefix) {
			return rule, true
		}
	}
	return layerRule{}, false
}

func matchingForbiddenPrefix(importPath string, forbidden []string) string {
	for _, prefix := range forbidden {
		if hasPathPrefix(importPath, prefix) {
			return prefix
		}
	}
	return ""
}

func hasPathPrefix(value string, prefix string) bool {
	return value == prefix || strings.HasPrefix(value, prefix+"/")
}

func packageImportPath(file string) string {
	path := filepath.ToSlash(file)
	if idx := strings.Index(path, "/internal/"); idx >= 0 {
		return modulePath + filepath.ToSlash(filepath.Dir(path[idx:]))
	}
	return modulePath + "/" + filepath.ToSlash(filepath.Dir(path))
}

func isTestFile(path string) bool {
	return strings.HasSuffix(filepath.Base(path), "_test.go")
}

func relToRepoRoot(path string) string {
	rel, err := filepath.Rel(repoRootDir(), path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
