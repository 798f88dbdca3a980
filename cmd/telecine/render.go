package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"telecine/internal/queue"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func colorForState(state queue.FileState) string {
	switch state {
	case queue.FileCompleted:
		return ansiGreen
	case queue.FileFailed:
		return ansiRed
	case queue.FileSkipped:
		return ansiYellow
	case queue.FileCopying, queue.FileProcessing, queue.FileOrganizing:
		return ansiBlue
	default:
		return ""
	}
}

func renderState(state queue.FileState, colorize bool) string {
	label := string(state)
	if !colorize {
		return label
	}
	color := colorForState(state)
	if color == "" {
		return label
	}
	return color + label + ansiReset
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func truncateText(value string, limit int) string {
	value = strings.TrimSpace(value)
	if limit <= 3 || len(value) <= limit {
		return value
	}
	return value[:limit-3] + "..."
}
