package tool

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	FileLimit = 100
)

var ignorePatterns = []string{
	"node_modules",
	".git",
	"dist",
	"build",
	"vendor",
	"bin",
	".idea",
	".vscode",
	"coverage",
	"tmp",
	".cache",
	".venv",
}

// ListTool creates the directory listing tool.
func ListTool() *Definition {
	return &Definition{
		Name:        "list",
		Description: "Lists files in a directory as an indented tree. Omit path to list the workspace root. Common build and dependency directories are skipped.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "The directory to list, absolute or relative to the workspace root",
				},
				"ignore": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Extra glob patterns to ignore",
				},
			},
		},
		Execute: executeList,
	}
}

func executeList(ctx context.Context, env Env, args gjson.Result) (Result, error) {
	searchPath := resolve(env, args.Get("path").String())

	info, err := os.Stat(searchPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{}, fmt.Errorf("path not found: %s", searchPath)
		}
		return Result{}, fmt.Errorf("failed to stat path: %w", err)
	}
	if !info.IsDir() {
		return Result{}, fmt.Errorf("path is not a directory: %s", searchPath)
	}

	ignoreList := append([]string(nil), ignorePatterns...)
	for _, p := range args.Get("ignore").Array() {
		ignoreList = append(ignoreList, p.String())
	}

	var files []string
	err = filepath.WalkDir(searchPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		rel, err := filepath.Rel(searchPath, path)
		if err != nil || rel == "." {
			return nil
		}
		if shouldIgnore(rel, ignoreList) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			files = append(files, filepath.ToSlash(rel))
			if len(files) >= FileLimit {
				return filepath.SkipAll
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to walk directory: %w", err)
	}

	dirs := map[string]bool{".": true}
	filesByDir := make(map[string][]string)
	for _, file := range files {
		dir := filepath.ToSlash(filepath.Dir(file))
		if dir != "." {
			parts := strings.Split(dir, "/")
			for i := 1; i <= len(parts); i++ {
				dirs[strings.Join(parts[:i], "/")] = true
			}
		}
		filesByDir[dir] = append(filesByDir[dir], filepath.Base(file))
	}

	output := searchPath + "/\n" + renderDir(".", 0, dirs, filesByDir)
	if len(files) >= FileLimit {
		output += fmt.Sprintf("\n(Showing the first %d files)\n", FileLimit)
	}

	return Result{
		Title:  relTitle(env, searchPath),
		Output: output,
	}, nil
}

func shouldIgnore(path string, ignoreList []string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		for _, pattern := range ignoreList {
			if matched, _ := filepath.Match(pattern, part); matched || part == pattern {
				return true
			}
		}
	}
	return false
}

func renderDir(dirPath string, depth int, dirs map[string]bool, filesByDir map[string][]string) string {
	var output strings.Builder
	if depth > 0 {
		fmt.Fprintf(&output, "%s%s/\n", strings.Repeat("  ", depth), filepath.Base(dirPath))
	}

	var children []string
	for d := range dirs {
		if d != dirPath && filepath.ToSlash(filepath.Dir(d)) == dirPath {
			children = append(children, d)
		}
	}
	sort.Strings(children)

	// subdirectories first, then files
	for _, child := range children {
		output.WriteString(renderDir(child, depth+1, dirs, filesByDir))
	}
	childIndent := strings.Repeat("  ", depth+1)
	fileList := append([]string(nil), filesByDir[dirPath]...)
	sort.Strings(fileList)
	for _, file := range fileList {
		fmt.Fprintf(&output, "%s%s\n", childIndent, file)
	}

	return output.String()
}

// resolve makes path absolute against the workspace root.
func resolve(env Env, path string) string {
	if path == "" {
		return env.Root
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(env.Root, path)
}

func relTitle(env Env, path string) string {
	rel, err := filepath.Rel(env.Root, path)
	if err != nil {
		return path
	}
	return rel
}
