package contacts

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"call-triage/internal/models"
)

const sampleVCard = "BEGIN:VCARD\r\n" +
	"VERSION:3.0\r\n" +
	"FN:Alice Zhang\r\n" +
	"TEL;TYPE=CELL:138-0013-8000\r\n" +
	"TEL;TYPE=WORK:010 8888 6666\r\n" +
	"CATEGORIES:Family,Work\r\n" +
	"END:VCARD\r\n" +
	"BEGIN:VCARD\r\n" +
	"VERSION:3.0\r\n" +
	"FN:Courier Desk\r\n" +
	"TEL:95338\r\n" +
	"END:VCARD\r\n"

func TestNormalize(t *testing.T) {
	assert.Equal(t, "13800138000", Normalize("138-0013 8000"))
	assert.Equal(t, "13800138000", Normalize(" 138\t0013-8000 "))
	assert.Equal(t, "", Normalize(" - "))
}

func TestParseVCard(t *testing.T) {
	entries, err := ParseVCard(strings.NewReader(sampleVCard))
	require.NoError(t, err)

	assert.Equal(t, models.Contact{Name: "Alice Zhang", Group: "family"}, entries["13800138000"])
	assert.Equal(t, models.Contact{Name: "Alice Zhang", Group: "family"}, entries["01088886666"])
	assert.Equal(t, models.Contact{Name: "Courier Desk"}, entries["95338"])
	assert.Len(t, entries, 3)
}

func TestParseYAML(t *testing.T) {
	doc := "contacts:\n" +
		"  - name: Bob\n" +
		"    group: Friend\n" +
		"    phones: [\"139 1111-2222\", \"5551234\"]\n"

	entries, err := ParseYAML([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, models.Contact{Name: "Bob", Group: "friend"}, entries["13911112222"])
	assert.Equal(t, models.Contact{Name: "Bob", Group: "friend"}, entries["5551234"])

	_, err = ParseYAML([]byte("contacts: [unterminated"))
	assert.Error(t, err)
}

func TestLoadFileRejectsUnknownExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.csv")
	writeContactFile(t, path, "name,phone\n")

	_, err := LoadFile(path)
	assert.ErrorIs(t, err, ErrUnsupportedFile)
}

func TestOpenLooksUpNormalisedNumbers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.vcf")
	writeContactFile(t, path, sampleVCard)

	dir, err := Open(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dir.Close() })

	contact, ok := dir.Lookup("138 0013-8000")
	require.True(t, ok)
	assert.Equal(t, "Alice Zhang", contact.Name)

	_, ok = dir.Lookup(models.UnknownPhone)
	assert.False(t, ok)
	_, ok = dir.Lookup("")
	assert.False(t, ok)
	assert.Equal(t, 3, dir.Len())

	_, err = Open(filepath.Join(t.TempDir(), "missing.vcf"), nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWatchReloadsAndNotifies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.yaml")
	writeContactFile(t, path, "contacts:\n  - name: Alice\n    phones: [\"13800138000\"]\n")

	var reloads atomic.Int32
	dir, err := Watch(path, 20*time.Millisecond, nil, func(*Directory) { reloads.Add(1) })
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, dir.Close()) })

	_, ok := dir.Lookup("13800138000")
	require.True(t, ok)

	writeContactFile(t, path, "contacts:\n  - name: Bob\n    phones: [\"13911112222\"]\n")
	waitFor(t, func() bool {
		_, ok := dir.Lookup("13911112222")
		return ok
	}, "reload with new contact")
	waitFor(t, func() bool { return reloads.Load() > 0 }, "reload callback")

	_, ok = dir.Lookup("13800138000")
	assert.False(t, ok)
}

func TestWatchKeepsEntriesOnParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.yaml")
	writeContactFile(t, path, "contacts:\n  - name: Alice\n    phones: [\"13800138000\"]\n")

	dir, err := Watch(path, 5*time.Millisecond, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dir.Close() })

	writeContactFile(t, path, "contacts: [unterminated")
	time.Sleep(100 * time.Millisecond)

	_, ok := dir.Lookup("13800138000")
	assert.True(t, ok)
}

func TestWatchHandlesFileRemoval(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.vcf")
	writeContactFile(t, path, sampleVCard)

	dir, err := Watch(path, 5*time.Millisecond, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dir.Close() })

	require.NoError(t, os.Remove(path))
	waitFor(t, func() bool { return dir.Len() == 0 }, "empty directory after removal")
}

func TestWatchMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "later.vcf")

	dir, err := Watch(path, 5*time.Millisecond, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dir.Close() })
	assert.Equal(t, 0, dir.Len())

	writeContactFile(t, path, sampleVCard)
	waitFor(t, func() bool { return dir.Len() == 3 }, "pick up created file")
}

func TestFromEntriesNormalisesKeys(t *testing.T) {
	dir := FromEntries(map[string]models.Contact{"138-0013-8000": {Name: "Alice"}})
	_, ok := dir.Lookup("13800138000")
	assert.True(t, ok)
	assert.NoError(t, dir.Close())
}

func writeContactFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write contact file: %v", err)
	}
}

func waitFor(t *testing.T, predicate func() bool, label string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if predicate() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", label)
}
