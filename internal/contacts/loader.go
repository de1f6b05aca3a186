package contacts

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/emersion/go-vcard"
	"gopkg.in/yaml.v3"

	"call-triage/internal/models"
)

// ErrUnsupportedFile is returned for contact files that are neither vCard nor YAML.
var ErrUnsupportedFile = errors.New("unsupported contact file")

type yamlContact struct {
	Name   string   `yaml:"name"`
	Group  string   `yaml:"group"`
	Phones []string `yaml:"phones"`
}

type yamlContactFile struct {
	Contacts []yamlContact `yaml:"contacts"`
}

// LoadFile parses a .vcf or .yaml/.yml contact file into a phone -> contact map.
func LoadFile(path string) (map[string]models.Contact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".vcf", ".vcard":
		return ParseVCard(bytes.NewReader(data))
	case ".yaml", ".yml":
		return ParseYAML(data)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, path)
}

// ParseVCard reads every card in r. Each TEL value becomes a key; the group is
// the first CATEGORIES value, lowercased.
func ParseVCard(r io.Reader) (map[string]models.Contact, error) {
	entries := make(map[string]models.Contact)
	dec := vcard.NewDecoder(r)
	for {
		card, err := dec.Decode()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decode vcard: %w", err)
		}

		contact := models.Contact{
			Name:  strings.TrimSpace(card.PreferredValue(vcard.FieldFormattedName)),
			Group: firstCategory(card.Value(vcard.FieldCategories)),
		}
		for _, tel := range card.Values(vcard.FieldTelephone) {
			phone := Normalize(strings.TrimPrefix(tel, "tel:"))
			if phone != "" {
				entries[phone] = contact
			}
		}
	}
	return entries, nil
}

// ParseYAML reads a document of the form
//
//	contacts:
//	  - name: Alice
//	    group: family
//	    phones: ["138 0013 8000"]
func ParseYAML(data []byte) (map[string]models.Contact, error) {
	var doc yamlContactFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode contacts yaml: %w", err)
	}

	entries := make(map[string]models.Contact)
	for _, c := range doc.Contacts {
		contact := models.Contact{
			Name:  strings.TrimSpace(c.Name),
			Group: strings.ToLower(strings.TrimSpace(c.Group)),
		}
		for _, phone := range c.Phones {
			if key := Normalize(phone); key != "" {
				entries[key] = contact
			}
		}
	}
	return entries, nil
}

func firstCategory(value string) string {
	if value == "" {
		return ""
	}
	first, _, _ := strings.Cut(value, ",")
	return strings.ToLower(strings.TrimSpace(first))
}
