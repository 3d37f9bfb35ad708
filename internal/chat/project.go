package chat

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrFileNotFound indicates no file exists at the given path.
	ErrFileNotFound = errors.New("file not found")

	// ErrNotAFile indicates the path resolves to a directory node.
	ErrNotAFile = errors.New("not a file")

	// ErrNotADirectory indicates a path segment traverses a file node.
	ErrNotADirectory = errors.New("not a directory")

	// ErrInvalidPath indicates an empty or malformed file path.
	ErrInvalidPath = errors.New("invalid path")
)

// FileNode is one entry in a project tree. A node is either a file
// (Children nil, Content holds the text) or a directory (Children non-nil).
type FileNode struct {
	Name     string               `json:"name"`
	Content  string               `json:"content,omitempty"`
	Children map[string]*FileNode `json:"children,omitempty"`
}

// IsDir reports whether the node is a directory.
func (n *FileNode) IsDir() bool {
	return n.Children != nil
}

// Project is the file workspace attached to canvas and code sessions.
type Project struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Files       map[string]*FileNode `json:"files"`
}

// NewProject creates an empty project.
func NewProject() *Project {
	return &Project{
		ID:          uuid.NewString(),
		Name:        "New Project",
		Description: "Generated project workspace",
		Files:       map[string]*FileNode{},
	}
}

// WriteFile returns a new tree with the file at path set to content.
// The input tree is never modified: nodes along the path are copied,
// everything else is shared with the original (callers holding references to
// the old tree keep seeing the old state). Missing intermediate directories
// are created; writing through an existing file returns ErrNotADirectory.
func WriteFile(files map[string]*FileNode, path, content string) (map[string]*FileNode, error) {
	segments, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	return writeSegments(files, segments, content)
}

func writeSegments(files map[string]*FileNode, segments []string, content string) (map[string]*FileNode, error) {
	name := segments[0]

	next := make(map[string]*FileNode, len(files)+1)
	for k, v := range files {
		next[k] = v
	}

	if len(segments) == 1 {
		if existing, ok := next[name]; ok && existing.IsDir() {
			return nil, fmt.Errorf("%w: %q is a directory", ErrNotAFile, name)
		}
		next[name] = &FileNode{Name: name, Content: content}
		return next, nil
	}

	child, ok := next[name]
	switch {
	case !ok:
		child = &FileNode{Name: name, Children: map[string]*FileNode{}}
	case !child.IsDir():
		return nil, fmt.Errorf("%w: %q is a file", ErrNotADirectory, name)
	}

	grandchildren, err := writeSegments(child.Children, segments[1:], content)
	if err != nil {
		return nil, err
	}
	next[name] = &FileNode{Name: name, Children: grandchildren}
	return next, nil
}

// ReadFile returns the content of the file at path.
func ReadFile(files map[string]*FileNode, path string) (string, error) {
	segments, err := splitPath(path)
	if err != nil {
		return "", err
	}

	for i, name := range segments {
		node, ok := files[name]
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		if i == len(segments)-1 {
			if node.IsDir() {
				return "", fmt.Errorf("%w: %s", ErrNotAFile, path)
			}
			return node.Content, nil
		}
		if !node.IsDir() {
			return "", fmt.Errorf("%w: %s", ErrNotADirectory, name)
		}
		files = node.Children
	}
	return "", fmt.Errorf("%w: %s", ErrFileNotFound, path)
}

func splitPath(path string) ([]string, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	segments := strings.Split(trimmed, "/")
	for _, seg := range segments {
		if seg == "" {
			return nil, fmt.Errorf("%w: %q has empty segment", ErrInvalidPath, path)
		}
	}
	return segments, nil
}
