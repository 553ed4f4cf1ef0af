package migration

import (
	"crypto/sha256"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var migrationFilePattern = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_]+)\.sql$`)

// Scanner discovers migration files inside an fs.FS directory.
type Scanner struct {
	files fs.FS
	dir   string
}

// NewScanner returns a scanner for dir within files.
func NewScanner(files fs.FS, dir string) *Scanner {
	if dir == "" {
		dir = "."
	}
	return &Scanner{files: files, dir: dir}
}

// Scan returns every migration in ascending version order. Files that do not
// end in .sql are ignored; malformed .sql names are an error.
func (s *Scanner) Scan() ([]Migration, error) {
	entries, err := fs.ReadDir(s.files, s.dir)
	if err != nil {
		return nil, newMigrationError("", s.dir, "read directory", err)
	}

	migrations := make([]Migration, 0, len(entries))
	seen := make(map[string]string, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		migration, err := s.parse(entry.Name())
		if err != nil {
			return nil, err
		}
		if previous, ok := seen[migration.Version]; ok {
			return nil, newMigrationError(migration.Version, migration.FilePath, "scan",
				fmt.Errorf("%w: also defined by %s", ErrDuplicateVersion, previous))
		}
		seen[migration.Version] = migration.FilePath
		migrations = append(migrations, migration)
	}

	sort.Slice(migrations, func(i, j int) bool {
		vi, _ := strconv.Atoi(migrations[i].Version)
		vj, _ := strconv.Atoi(migrations[j].Version)
		return vi < vj
	})
	return migrations, nil
}

func (s *Scanner) parse(name string) (Migration, error) {
	filePath := path.Join(s.dir, name)
	matches := migrationFilePattern.FindStringSubmatch(name)
	if len(matches) != 3 {
		return Migration{}, newMigrationError("", filePath, "validate filename",
			fmt.Errorf("%w: %q does not match {version}_{description}.sql", ErrInvalidMigrationFile, name))
	}

	content, err := fs.ReadFile(s.files, filePath)
	if err != nil {
		return Migration{}, newMigrationError(matches[1], filePath, "read file", err)
	}
	sqlContent := string(content)
	if strings.TrimSpace(sqlContent) == "" {
		return Migration{}, newMigrationError(matches[1], filePath, "validate content",
			fmt.Errorf("%w: migration file is empty", ErrInvalidMigrationFile))
	}

	description := descriptionFromContent(sqlContent)
	if description == "" {
		description = strings.ReplaceAll(matches[2], "_", " ")
	}

	return Migration{
		Version:     matches[1],
		Description: description,
		SQL:         sqlContent,
		FilePath:    filePath,
		Checksum:    fmt.Sprintf("%x", sha256.Sum256(content)),
	}, nil
}

// descriptionFromContent reads a leading "-- Description: ..." comment.
func descriptionFromContent(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "--") {
			break
		}
		if strings.HasPrefix(line, "-- Description:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "-- Description:"))
		}
	}
	return ""
}
