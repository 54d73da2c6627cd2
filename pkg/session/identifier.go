package session

import (
	cryptorand "crypto/rand"
	"crypto/sha256"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/oklog/ulid/v2"
)

var (
	nameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9\-]`)
	ulidEntropy   = ulid.Monotonic(cryptorand.Reader, 0)
)

// DetermineBase derives a human-readable session base name from the working
// directory: the repository name when inside a git checkout, otherwise the
// directory name plus a short path hash.
func DetermineBase(cwd string) string {
	if root := gitRoot(cwd); root != "" {
		return filepath.Base(root)
	}
	return fmt.Sprintf("%s-%s", filepath.Base(cwd), shortHash(cwd))
}

// GenerateID returns a unique session id: sanitized base plus a ulid.
func GenerateID(base string) string {
	base = strings.TrimSpace(base)
	base = strings.ToLower(strings.ReplaceAll(base, " ", "-"))
	base = nameSanitizer.ReplaceAllString(base, "-")
	base = strings.Trim(base, "-")
	if base == "" {
		base = "session"
	}
	id := ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy).String()
	return fmt.Sprintf("%s-%s", base, strings.ToLower(id))
}

func gitRoot(cwd string) string {
	if cwd == "" {
		return ""
	}
	repo, err := git.PlainOpenWithOptions(cwd, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return ""
	}
	wt, err := repo.Worktree()
	if err != nil {
		return ""
	}
	return wt.Filesystem.Root()
}

func shortHash(s string) string {
	h := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", h[:4])
}
