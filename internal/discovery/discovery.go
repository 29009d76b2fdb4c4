// Package discovery walks a quests root and lists its exercise files in a
// stable quest, subcategory, file order.
package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/swamp-dev/sqlquest/internal/evaluation"
)

// maxDescription bounds the description taken from a file's header comment.
const maxDescription = 300

// Subcategory is a directory of files inside a quest. Files placed directly
// in the quest directory belong to a subcategory with an empty name.
type Subcategory struct {
	Name  string
	Dir   string
	Files []*evaluation.SQLFile
}

// Quest is a top-level directory under the quests root.
type Quest struct {
	Name          string
	Dir           string
	Subcategories []Subcategory
}

// Files returns every file of the quest in discovery order.
func (q *Quest) Files() []*evaluation.SQLFile {
	var files []*evaluation.SQLFile
	for _, sc := range q.Subcategories {
		files = append(files, sc.Files...)
	}
	return files
}

// FileCount returns the number of files in the quest.
func (q *Quest) FileCount() int {
	n := 0
	for _, sc := range q.Subcategories {
		n += len(sc.Files)
	}
	return n
}

// Discoverer lists quests under a root.
type Discoverer struct {
	exclude    []string
	classifier *Classifier
}

// New creates a discoverer. exclude holds filepath.Match patterns tested
// against each directory and file name.
func New(exclude []string) *Discoverer {
	return &Discoverer{exclude: exclude, classifier: NewClassifier()}
}

// Discover lists the quests under root with the default discoverer.
func Discover(root string, exclude []string) ([]Quest, error) {
	return New(exclude).Discover(root)
}

// Discover returns the quests under root sorted by name. Quests without any
// .sql files are omitted.
func (d *Discoverer) Discover(root string) ([]Quest, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", evaluation.ErrDiscovery, root, err)
	}

	var quests []Quest
	for _, e := range entries {
		if !e.IsDir() || d.excluded(e.Name()) {
			continue
		}
		q, err := d.quest(root, e.Name())
		if err != nil {
			return nil, err
		}
		if q.FileCount() > 0 {
			quests = append(quests, *q)
		}
	}
	return quests, nil
}

// Quest loads a single quest directory under root.
func (d *Discoverer) Quest(root, name string) (*Quest, error) {
	return d.quest(root, name)
}

func (d *Discoverer) quest(root, name string) (*Quest, error) {
	dir := filepath.Join(root, name)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: reading quest %s: %v", evaluation.ErrDiscovery, name, err)
	}

	q := &Quest{Name: name, Dir: dir}
	top := Subcategory{Dir: dir}

	for _, e := range entries {
		if d.excluded(e.Name()) {
			continue
		}
		if e.IsDir() {
			sc, err := d.subcategory(root, name, e.Name())
			if err != nil {
				return nil, err
			}
			if len(sc.Files) > 0 {
				q.Subcategories = append(q.Subcategories, *sc)
			}
			continue
		}
		if isSQL(e.Name()) {
			f, err := d.describe(root, filepath.Join(dir, e.Name()))
			if err != nil {
				return nil, err
			}
			top.Files = append(top.Files, f)
		}
	}

	if len(top.Files) > 0 {
		q.Subcategories = append([]Subcategory{top}, q.Subcategories...)
	}
	return q, nil
}

// subcategory collects .sql files anywhere below quest/name.
func (d *Discoverer) subcategory(root, quest, name string) (*Subcategory, error) {
	dir := filepath.Join(root, quest, name)
	sc := &Subcategory{Name: name, Dir: dir}

	err := filepath.WalkDir(dir, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != dir && d.excluded(entry.Name()) {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if entry.IsDir() || !isSQL(entry.Name()) {
			return nil
		}
		f, err := d.describe(root, path)
		if err != nil {
			return err
		}
		sc.Files = append(sc.Files, f)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: walking %s: %v", evaluation.ErrDiscovery, dir, err)
	}

	sort.Slice(sc.Files, func(i, j int) bool {
		return sc.Files[i].RelPath < sc.Files[j].RelPath
	})
	return sc, nil
}

// Describe builds the SQLFile for a single path under root.
func Describe(root, path string) (*evaluation.SQLFile, error) {
	return New(nil).describe(root, path)
}

func (d *Discoverer) describe(root, path string) (*evaluation.SQLFile, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving root: %v", evaluation.ErrDiscovery, err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving %s: %v", evaluation.ErrDiscovery, path, err)
	}

	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("%w: %s is outside %s", evaluation.ErrDiscovery, path, root)
	}
	rel = filepath.ToSlash(rel)

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", evaluation.ErrDiscovery, err)
	}
	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", evaluation.ErrDiscovery, err)
	}

	f := &evaluation.SQLFile{
		Path:        absPath,
		RelPath:     rel,
		Name:        filepath.Base(absPath),
		Difficulty:  d.classifier.Classify(rel, string(content)),
		Description: headerComment(string(content)),
		ModTime:     info.ModTime(),
	}

	parts := strings.Split(rel, "/")
	if len(parts) > 1 {
		f.Quest = parts[0]
	}
	if len(parts) > 2 {
		f.Subcategory = parts[1]
	}
	return f, nil
}

func (d *Discoverer) excluded(name string) bool {
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
		return true
	}
	for _, pattern := range d.exclude {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

func isSQL(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".sql")
}

// headerComment joins the leading "--" comment lines of a file.
func headerComment(content string) string {
	var parts []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			if len(parts) > 0 {
				break
			}
			continue
		}
		if !strings.HasPrefix(line, "--") {
			break
		}
		text := strings.TrimSpace(strings.TrimLeft(line, "-"))
		if text != "" {
			parts = append(parts, text)
		}
	}

	desc := strings.Join(parts, " ")
	if len(desc) > maxDescription {
		desc = strings.TrimSpace(desc[:maxDescription]) + "..."
	}
	return desc
}
