// Package gitinfo reads source revision information used to stamp release
// manifests: HEAD commit, nearest tag and worktree cleanliness.
package gitinfo

import (
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Info describes the source state a release was built from.
type Info struct {
	Commit      string // full HEAD commit hash
	ShortCommit string // first 7 characters
	Tag         string // tag pointing at HEAD, empty if none
	Dirty       bool   // worktree has uncommitted changes
}

// ErrNotARepository is returned when the project root is not inside a git
// repository. Builds still proceed; the manifest just carries no revision.
var ErrNotARepository = errors.New("not a git repository")

// ErrNoCommits is returned for a repository whose HEAD has no commits yet.
// Treated like ErrNotARepository by callers.
var ErrNoCommits = errors.New("repository has no commits")

// Read collects revision info for the repository at root.
func Read(root string) (*Info, error) {
	repo, err := git.PlainOpenWithOptions(root, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, ErrNotARepository
		}
		return nil, fmt.Errorf("open repository: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, ErrNoCommits
		}
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}

	info := &Info{Commit: head.Hash().String()}
	if len(info.Commit) >= 7 {
		info.ShortCommit = info.Commit[:7]
	}

	info.Tag = tagAtHead(repo, head.Hash())

	wt, err := repo.Worktree()
	if err == nil {
		if status, serr := wt.Status(); serr == nil {
			info.Dirty = !status.IsClean()
		}
	}

	return info, nil
}

// tagAtHead returns the name of a tag pointing at the given commit, if any.
// Annotated tags are resolved through their target object.
func tagAtHead(repo *git.Repository, head plumbing.Hash) string {
	tags, err := repo.Tags()
	if err != nil {
		return ""
	}
	defer tags.Close()

	var found string
	_ = tags.ForEach(func(ref *plumbing.Reference) error {
		hash := ref.Hash()
		if obj, terr := repo.TagObject(hash); terr == nil {
			hash = obj.Target
		}
		if hash == head {
			found = ref.Name().Short()
			return errStopIteration
		}
		return nil
	})
	return found
}

var errStopIteration = errors.New("stop")

// Version derives a human version string: the tag when HEAD is tagged,
// otherwise the short commit, with a -dirty suffix for unclean trees.
func (i *Info) Version() string {
	v := i.Tag
	if v == "" {
		v = i.ShortCommit
	}
	if i.Dirty && v != "" {
		v += "-dirty"
	}
	return v
}
