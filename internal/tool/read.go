package tool

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	DefaultReadLimit = 2000
	MaxLineLength    = 2000
)

// ReadTool creates the file reading tool.
func ReadTool() *Definition {
	return &Definition{
		Name: "read",
		Description: `Read a text file from the workspace.

Usage:
- file_path may be absolute or relative to the workspace root
- By default, it reads up to 2000 lines starting from the beginning of the file
- offset and limit select a window of lines in long files
- Lines longer than 2000 characters are truncated
- Lines are numbered starting at 1`,
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"file_path": map[string]any{
					"type":        "string",
					"description": "The path of the file to read",
				},
				"offset": map[string]any{
					"type":        "number",
					"description": "Number of lines to skip before reading",
				},
				"limit": map[string]any{
					"type":        "number",
					"description": "The number of lines to read",
				},
			},
			"required": []string{"file_path"},
		},
		Execute: executeRead,
	}
}

func executeRead(ctx context.Context, env Env, args gjson.Result) (Result, error) {
	raw := args.Get("file_path").String()
	if raw == "" {
		return Result{}, fmt.Errorf("file_path parameter is required")
	}
	filePath := resolve(env, raw)

	offset := int(args.Get("offset").Int())
	if offset < 0 {
		offset = 0
	}
	limit := DefaultReadLimit
	if l := args.Get("limit"); l.Exists() && l.Int() > 0 {
		limit = int(l.Int())
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{}, fmt.Errorf("file not found: %s", filePath)
		}
		return Result{}, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return Result{}, fmt.Errorf("path is a directory, not a file: %s", filePath)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return Result{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var output strings.Builder
	lineNum, linesRead := 0, 0
	more := false
	for scanner.Scan() {
		lineNum++
		if lineNum <= offset {
			continue
		}
		if linesRead >= limit {
			more = true
			break
		}
		if lineNum%256 == 0 && ctx.Err() != nil {
			return Result{}, ctx.Err()
		}

		line := scanner.Text()
		if len(line) > MaxLineLength {
			line = line[:MaxLineLength] + "..."
		}
		fmt.Fprintf(&output, "%05d| %s\n", lineNum, line)
		linesRead++
	}
	if err := scanner.Err(); err != nil {
		return Result{}, fmt.Errorf("error reading file: %w", err)
	}

	if more {
		fmt.Fprintf(&output, "\n(File has more lines. Use 'offset' to read beyond line %d)\n", offset+linesRead)
	}

	title := relTitle(env, filePath)
	if offset > 0 || more {
		title = fmt.Sprintf("%s (lines %d-%d)", title, offset+1, offset+linesRead)
	}

	return Result{
		Title:  title,
		Output: output.String(),
	}, nil
}
