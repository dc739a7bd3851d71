// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3, see LICENCE file for details.

// Package hostkeys records the host keys presented by SSH servers and
// checks them against a persisted OpenSSH known_hosts file, so that a
// changed key can be told apart from a first contact.
package hostkeys

import (
	"bytes"
	"os"
	"strings"
	"sync"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

var logger = loggo.GetLogger("sshclient.hostkeys")

// Result classifies a known-hosts lookup.
type Result int

const (
	// NotFound means no key is recorded for the host.
	NotFound Result = iota

	// Match means the presented key is recorded for the host.
	Match

	// Mismatch means the host is recorded with a different key. This
	// is the case that may indicate impersonation.
	Mismatch
)

func (r Result) String() string {
	switch r {
	case NotFound:
		return "not found"
	case Match:
		return "match"
	case Mismatch:
		return "mismatch"
	}
	return "unknown"
}

// HostKey describes the public key a server presented during the
// handshake. It is produced once per handshake and immutable
// thereafter.
type HostKey struct {
	// Type is the SSH algorithm name, e.g. "ssh-rsa" or
	// "ssh-ed25519".
	Type string

	// Key is the raw wire-format public key.
	Key []byte

	// MD5 is the legacy colon-separated MD5 fingerprint.
	MD5 string
}

// NewHostKey builds a HostKey record from a parsed public key.
func NewHostKey(key ssh.PublicKey) HostKey {
	return HostKey{
		Type: key.Type(),
		Key:  key.Marshal(),
		MD5:  ssh.FingerprintLegacyMD5(key),
	}
}

// Table is an in-memory known-hosts table, loadable from and
// persistable to an OpenSSH known_hosts file. It is safe for
// concurrent use.
type Table struct {
	mu      sync.Mutex
	entries map[string][]ssh.PublicKey
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{entries: make(map[string][]ssh.PublicKey)}
}

// Load merges the entries of an OpenSSH known_hosts file into the
// table. A missing file is not an error. Unparseable lines are skipped
// with a warning rather than failing the whole load.
func (t *Table) Load(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Annotatef(err, "reading known hosts file %q", path)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		_, hosts, key, _, _, err := ssh.ParseKnownHosts([]byte(line + "\n"))
		if err != nil {
			logger.Warningf("skipping malformed line in %q: %v", path, err)
			continue
		}
		for _, host := range hosts {
			t.addLocked(host, key)
		}
	}
	return nil
}

// Save writes the whole table to path in OpenSSH known_hosts format.
func (t *Table) Save(path string) error {
	t.mu.Lock()
	hosts := set.NewStrings()
	for host := range t.entries {
		hosts.Add(host)
	}
	var lines []string
	for _, host := range hosts.SortedValues() {
		for _, key := range t.entries[host] {
			lines = append(lines, knownhosts.Line([]string{host}, key))
		}
	}
	t.mu.Unlock()

	content := strings.Join(lines, "\n")
	if content != "" {
		content += "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return errors.Annotatef(err, "writing known hosts file %q", path)
	}
	return nil
}

// Add records a key for hostname. The key is given in raw wire format
// together with its algorithm name; an unparseable or mislabelled key
// is refused.
func (t *Table) Add(hostname, keyType string, rawKey []byte) error {
	key, err := ssh.ParsePublicKey(rawKey)
	if err != nil {
		return errors.Annotatef(err, "parsing host key for %q", hostname)
	}
	if keyType != "" && key.Type() != keyType {
		return errors.Errorf("host key for %q is %s, not %s", hostname, key.Type(), keyType)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addLocked(hostname, key)
	return nil
}

// AddHostKey records a HostKey for hostname.
func (t *Table) AddHostKey(hostname string, hostKey HostKey) error {
	return t.Add(hostname, hostKey.Type, hostKey.Key)
}

func (t *Table) addLocked(hostname string, key ssh.PublicKey) {
	raw := key.Marshal()
	for _, existing := range t.entries[hostname] {
		if bytes.Equal(existing.Marshal(), raw) {
			return
		}
	}
	t.entries[hostname] = append(t.entries[hostname], key)
}

// Lookup classifies the raw wire-format key presented by hostname.
func (t *Table) Lookup(hostname string, rawKey []byte) Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := t.entries[hostname]
	if len(keys) == 0 {
		return NotFound
	}
	for _, key := range keys {
		if bytes.Equal(key.Marshal(), rawKey) {
			return Match
		}
	}
	return Mismatch
}

// Len returns the number of recorded (host, key) pairs.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, keys := range t.entries {
		n += len(keys)
	}
	return n
}
