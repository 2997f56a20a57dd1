package retention

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/iwoork/homeforpup-sub006/pkg/logger"
)

// fileLease is a cross-process run lock: a JSON file naming the owner and
// an expiry, created atomically with os.Link.
type fileLease struct {
	path string
	now  func() time.Time
}

type leaseFile struct {
	Owner   string `json:"owner"`
	Expires string `json:"expires"`
}

func newFileLease(dir string) *fileLease {
	return &fileLease{path: filepath.Join(dir, "retention.lock"), now: time.Now}
}

func (l *fileLease) read() (leaseFile, error) {
	var lf leaseFile
	data, err := os.ReadFile(l.path)
	if err != nil {
		return lf, err
	}
	err = json.Unmarshal(data, &lf)
	return lf, err
}

func (l *fileLease) writeTmp(owner string, ttl time.Duration) (string, error) {
	lf := leaseFile{Owner: owner, Expires: l.now().Add(ttl).UTC().Format(time.RFC3339Nano)}
	b, err := json.Marshal(lf)
	if err != nil {
		return "", err
	}
	tmp := l.path + "." + owner + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		logger.Error("lease_tmp_write_failed", "path", tmp, "error", err)
		return "", err
	}
	return tmp, nil
}

// Acquire takes the lease when it is free or expired.
func (l *fileLease) Acquire(owner string, ttl time.Duration) (bool, error) {
	tmp, err := l.writeTmp(owner, ttl)
	if err != nil {
		return false, err
	}
	defer os.Remove(tmp)

	if err := os.Link(tmp, l.path); err == nil {
		logger.Debug("lease_acquired", "path", l.path, "owner", owner)
		return true, nil
	}
	existing, err := l.read()
	if err != nil {
		return false, err
	}
	expires, err := time.Parse(time.RFC3339Nano, existing.Expires)
	if err == nil && expires.After(l.now()) {
		logger.Info("lease_currently_held", "path", l.path, "owner", existing.Owner, "expires", existing.Expires)
		return false, nil
	}
	if err := os.Rename(tmp, l.path); err != nil {
		logger.Error("lease_replace_failed", "path", l.path, "error", err)
		return false, err
	}
	logger.Info("lease_acquired_replaced", "path", l.path, "owner", owner, "previous", existing.Owner)
	return true, nil
}

// Renew pushes the expiry out by ttl; only the owner may renew.
func (l *fileLease) Renew(owner string, ttl time.Duration) error {
	existing, err := l.read()
	if err != nil {
		return err
	}
	if existing.Owner != owner {
		return fmt.Errorf("lease held by %q", existing.Owner)
	}
	tmp, err := l.writeTmp(owner, ttl)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, l.path); err != nil {
		_ = os.Remove(tmp)
		logger.Error("lease_renew_rename_failed", "error", err)
		return err
	}
	return nil
}

func (l *fileLease) Release(owner string) error {
	existing, err := l.read()
	if err != nil {
		return err
	}
	if existing.Owner != owner {
		logger.Error("lease_release_not_owner", "owner", owner, "holder", existing.Owner)
		return fmt.Errorf("lease held by %q", existing.Owner)
	}
	return os.Remove(l.path)
}
