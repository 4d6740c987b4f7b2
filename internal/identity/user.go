package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/metahuman-os/cortex/internal/install"
	"github.com/metahuman-os/cortex/internal/util"
)

// ErrUnknownUser indicates the named user has no profile under the
// installation.
var ErrUnknownUser = errors.New("unknown user")

// DefaultRole is assigned when a user is created without an explicit role.
const DefaultRole = "member"

// User is the persisted identity record at users/<username>/user.json.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Load reads the user record for username under root.
func Load(root, username string) (*User, error) {
	if err := util.ValidateName(username); err != nil {
		return nil, fmt.Errorf("invalid username: %w", err)
	}

	paths := ProfilePaths{Root: root, Username: username}
	data, err := os.ReadFile(paths.UserFile())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownUser, username)
		}
		return nil, fmt.Errorf("reading user record: %w", err)
	}

	var user User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("parsing user record for %s: %w", username, err)
	}
	return &user, nil
}

// Create provisions a profile tree for username under root and writes its
// user record. The username becomes a directory name, so it must pass name
// validation.
func Create(root, username, role string) (*User, error) {
	if err := util.ValidateName(username); err != nil {
		return nil, fmt.Errorf("invalid username: %w", err)
	}
	if role == "" {
		role = DefaultRole
	}

	paths := ProfilePaths{Root: root, Username: username}
	if _, err := os.Stat(paths.UserFile()); err == nil {
		return nil, fmt.Errorf("user %s already exists", username)
	}

	if err := EnsureProfileTree(root, username); err != nil {
		return nil, err
	}

	user := &User{
		ID:        uuid.New().String(),
		Username:  username,
		Role:      role,
		CreatedAt: time.Now().UTC(),
	}
	if err := util.AtomicWriteJSON(paths.UserFile(), user); err != nil {
		return nil, fmt.Errorf("writing user record: %w", err)
	}
	return user, nil
}

// List returns all users with a profile under root, ordered by username.
// Directories without a readable user record are skipped; a half-created
// profile should not break enumeration of the rest.
func List(root string) ([]*User, error) {
	entries, err := os.ReadDir(install.UsersDir(root))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading users directory: %w", err)
	}

	var users []*User
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		user, err := Load(root, entry.Name())
		if err != nil {
			continue
		}
		users = append(users, user)
	}

	sort.Slice(users, func(i, j int) bool {
		return users[i].Username < users[j].Username
	})
	return users, nil
}
