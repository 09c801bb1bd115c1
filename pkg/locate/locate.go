// Package locate finds a Steam game's install directory without the user
// having to type a path, by parsing Steam's VDF library-folder manifests.
//
// Grounded on original_source/crates/steam/src/vdf.rs: a tiny recursive,
// quoted-key/value format ("key" "value" or "key" { ... }) Steam uses for
// libraryfolders.vdf and each app's appmanifest_<id>.acf.
package locate

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// vdfNode is a parsed VDF object: each key maps to either a leaf string
// value or a nested object.
type vdfNode struct {
	values map[string]string
	nested map[string]*vdfNode
}

func newVDFNode() *vdfNode {
	return &vdfNode{values: map[string]string{}, nested: map[string]*vdfNode{}}
}

// parseVDF parses Steam's VDF text format from r.
func parseVDF(r *bufio.Reader) (*vdfNode, error) {
	root := newVDFNode()
	if err := parseVDFInto(r, root); err != nil {
		return nil, err
	}
	return root, nil
}

func parseVDFInto(r *bufio.Reader, node *vdfNode) error {
	for {
		key, ok, err := nextVDFToken(r)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if key == "}" {
			return nil
		}

		val, ok, err := nextVDFToken(r)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("locate: vdf: unexpected eof after key %q", key)
		}
		if val == "{" {
			child := newVDFNode()
			if err := parseVDFInto(r, child); err != nil {
				return err
			}
			node.nested[key] = child
			continue
		}
		node.values[key] = val
	}
}

// nextVDFToken returns the next quoted string or brace token, skipping
// whitespace and "//" comments.
func nextVDFToken(r *bufio.Reader) (string, bool, error) {
	for {
		c, _, err := r.ReadRune()
		if err != nil {
			return "", false, nil
		}
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			continue
		case c == '/':
			next, _, _ := r.ReadRune()
			if next == '/' {
				r.ReadString('\n')
				continue
			}
			return "", false, fmt.Errorf("locate: vdf: unexpected '/' not starting a comment")
		case c == '{' || c == '}':
			return string(c), true, nil
		case c == '"':
			var sb strings.Builder
			for {
				c2, _, err := r.ReadRune()
				if err != nil {
					return "", false, fmt.Errorf("locate: vdf: unterminated quoted string")
				}
				if c2 == '\\' {
					esc, _, err := r.ReadRune()
					if err != nil {
						return "", false, fmt.Errorf("locate: vdf: unterminated escape")
					}
					sb.WriteRune(esc)
					continue
				}
				if c2 == '"' {
					return sb.String(), true, nil
				}
				sb.WriteRune(c2)
			}
		default:
			return "", false, fmt.Errorf("locate: vdf: unexpected character %q", c)
		}
	}
}

// LibraryFolders parses a libraryfolders.vdf file and returns every
// library root path it lists.
func LibraryFolders(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("locate: opening %s: %w", path, err)
	}
	defer f.Close()

	root, err := parseVDF(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("locate: parsing %s: %w", path, err)
	}

	folders, ok := root.nested["libraryfolders"]
	if !ok {
		return nil, fmt.Errorf("locate: %s has no libraryfolders object", path)
	}

	var out []string
	for key, child := range folders.nested {
		if _, err := strconv.Atoi(key); err != nil {
			continue
		}
		if p, ok := child.values["path"]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// FindApp searches every Steam library under steamRoot for appID's install
// directory by reading each library's steamapps/appmanifest_<appID>.acf.
func FindApp(steamRoot string, appID int) (string, error) {
	libs, err := LibraryFolders(filepath.Join(steamRoot, "steamapps", "libraryfolders.vdf"))
	if err != nil {
		return "", err
	}
	libs = append([]string{steamRoot}, libs...)

	manifestName := fmt.Sprintf("appmanifest_%d.acf", appID)
	for _, lib := range libs {
		manifestPath := filepath.Join(lib, "steamapps", manifestName)
		f, err := os.Open(manifestPath)
		if err != nil {
			continue
		}
		root, err := parseVDF(bufio.NewReader(f))
		f.Close()
		if err != nil {
			continue
		}
		state, ok := root.nested["AppState"]
		if !ok {
			continue
		}
		installDir, ok := state.values["installdir"]
		if !ok {
			continue
		}
		return filepath.Join(lib, "steamapps", "common", installDir), nil
	}
	return "", fmt.Errorf("locate: app %d not found in any Steam library under %s", appID, steamRoot)
}
