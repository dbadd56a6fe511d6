package repository

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/octobees/vcardsync/internal/dto"
	"github.com/octobees/vcardsync/internal/entity"
)

const (
	csvDir           = "csv"
	masterFile       = "results_master.csv"
	withEmailFile    = "vcards_with_email.csv"
	withoutEmailFile = "vcards_without_email.csv"

	emailAttachmentDir   = "vcards_email"
	noEmailAttachmentDir = "vcards_noemail"

	phoneSeparator = ", "
	anyLocation    = "all"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

var (
	masterHeader = []string{"id", "updated_at", "company", "first_name", "last_name", "address", "phones", "email", "vcard_path"}
	exportHeader = []string{"company", "first_name", "last_name", "address", "phones", "email", "vcard_path"}
)

// WriteSummary reports what a Write produced.
type WriteSummary struct {
	Total        int    `json:"total"`
	WithEmail    int    `json:"with_email"`
	WithoutEmail int    `json:"without_email"`
	MasterPath   string `json:"master_path"`
}

// SnapshotStore reads and writes the CSV snapshot of one query/location pair.
type SnapshotStore struct {
	root string
}

// NewSnapshotStore roots the layout at <outputDir>/<term>/<location>.
func NewSnapshotStore(outputDir string, query dto.SearchQuery) *SnapshotStore {
	location := query.Location
	if strings.TrimSpace(location) == "" {
		location = anyLocation
	}
	return &SnapshotStore{
		root: filepath.Join(outputDir, dirName(query.Term), dirName(location)),
	}
}

// Root is the directory every relative attachment path is resolved against.
func (s *SnapshotStore) Root() string {
	return s.root
}

// MasterPath is the location of the master snapshot.
func (s *SnapshotStore) MasterPath() string {
	return filepath.Join(s.root, csvDir, masterFile)
}

// AttachmentDir returns the folder for a contact of the given classification.
func (s *SnapshotStore) AttachmentDir(hasEmail bool) string {
	if hasEmail {
		return emailAttachmentDir
	}
	return noEmailAttachmentDir
}

// Exists reports whether rel names a regular file under the root.
func (s *SnapshotStore) Exists(rel string) bool {
	if strings.TrimSpace(rel) == "" {
		return false
	}
	info, err := os.Stat(s.abs(rel))
	return err == nil && info.Mode().IsRegular()
}

// Remove deletes a recorded attachment. A missing file is not an error.
func (s *SnapshotStore) Remove(rel string) error {
	if strings.TrimSpace(rel) == "" {
		return nil
	}
	if err := os.Remove(s.abs(rel)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove attachment: %w", err)
	}
	return nil
}

func (s *SnapshotStore) abs(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

// Load reads the master snapshot. A missing file yields an empty snapshot.
func (s *SnapshotStore) Load() (map[string]entity.Contact, error) {
	contacts := make(map[string]entity.Contact)

	f, err := os.Open(s.MasterPath())
	if errors.Is(err, os.ErrNotExist) {
		return contacts, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open master snapshot: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	if prefix, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(prefix, utf8BOM) {
		br.Discard(len(utf8BOM))
	}

	reader := csv.NewReader(br)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return contacts, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read master header: %w", err)
	}
	index, err := buildHeaderIndex(header)
	if err != nil {
		return nil, err
	}

	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read master row: %w", err)
		}

		field := func(name string) string {
			i, ok := index[name]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}

		id := field("id")
		if id == "" {
			continue
		}
		contacts[id] = entity.Contact{
			ID:             id,
			UpdatedAt:      field("updated_at"),
			Company:        field("company"),
			FirstName:      field("first_name"),
			LastName:       field("last_name"),
			Address:        field("address"),
			Phones:         splitPhones(field("phones")),
			Email:          field("email"),
			AttachmentPath: field("vcard_path"),
		}
	}

	return contacts, nil
}

// Write replaces the master snapshot and both classified exports. Rows are
// ordered by id.
func (s *SnapshotStore) Write(contacts map[string]entity.Contact) (WriteSummary, error) {
	ids := make([]string, 0, len(contacts))
	for id := range contacts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	master := make([][]string, 0, len(ids))
	var withEmail, withoutEmail [][]string
	for _, id := range ids {
		c := contacts[id]
		phones := strings.Join(c.Phones, phoneSeparator)
		master = append(master, []string{c.ID, c.UpdatedAt, c.Company, c.FirstName, c.LastName, c.Address, phones, c.Email, c.AttachmentPath})
		export := []string{c.Company, c.FirstName, c.LastName, c.Address, phones, c.Email, c.AttachmentPath}
		if c.HasEmail() {
			withEmail = append(withEmail, export)
		} else {
			withoutEmail = append(withoutEmail, export)
		}
	}

	dir := filepath.Join(s.root, csvDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return WriteSummary{}, fmt.Errorf("create snapshot dir: %w", err)
	}
	if err := writeCSV(filepath.Join(dir, masterFile), masterHeader, master); err != nil {
		return WriteSummary{}, err
	}
	if err := writeCSV(filepath.Join(dir, withEmailFile), exportHeader, withEmail); err != nil {
		return WriteSummary{}, err
	}
	if err := writeCSV(filepath.Join(dir, withoutEmailFile), exportHeader, withoutEmail); err != nil {
		return WriteSummary{}, err
	}

	return WriteSummary{
		Total:        len(master),
		WithEmail:    len(withEmail),
		WithoutEmail: len(withoutEmail),
		MasterPath:   s.MasterPath(),
	}, nil
}

func writeCSV(path string, header []string, rows [][]string) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", filepath.Base(path), err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(utf8BOM); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	w := csv.NewWriter(tmp)
	if err = w.Write(header); err != nil {
		return fmt.Errorf("write %s header: %w", filepath.Base(path), err)
	}
	if err = w.WriteAll(rows); err != nil {
		return fmt.Errorf("write %s rows: %w", filepath.Base(path), err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

func buildHeaderIndex(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, col := range header {
		index[strings.ToLower(strings.TrimSpace(col))] = i
	}
	if _, ok := index["id"]; !ok {
		return nil, fmt.Errorf("master snapshot is missing the id column")
	}
	return index, nil
}

func splitPhones(raw string) []string {
	if raw == "" {
		return nil
	}
	var phones []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			phones = append(phones, p)
		}
	}
	return phones
}

// SanitizeFilename replaces characters that are unsafe in file names with '_'.
func SanitizeFilename(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', ':', '"', '/', '\\', '|', '?', '*':
			return '_'
		}
		if r < 0x20 {
			return '_'
		}
		return r
	}, name)
}

func dirName(raw string) string {
	name := SanitizeFilename(strings.ToLower(strings.TrimSpace(raw)))
	if name == "" || name == "." || name == ".." {
		return "_"
	}
	return name
}
