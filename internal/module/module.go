// Package module holds the identity types shared by the catalog, the resolver
// and the installer: owner-qualified module names, releases and their declared
// dependencies.
package module

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/anvil-platform/modforge/internal/semver"
)

// ErrInvalidName is wrapped by InvalidNameError.
var ErrInvalidName = errors.New("invalid module name")

var (
	reOwner = regexp.MustCompile(`^[A-Za-z0-9]+$`)
	reShort = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
)

// Name is an owner-qualified module name. The canonical form is "owner-name".
type Name struct {
	Owner string
	Short string
}

// InvalidNameError is returned for text that has no owner/name separator or
// whose parts are not valid identifiers.
type InvalidNameError struct {
	Text string
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("Could not install module with invalid name: %s", e.Text)
}

func (e *InvalidNameError) Unwrap() error { return ErrInvalidName }

// ParseName accepts "owner-name" and the legacy "owner/name" form. The text is
// split at the first separator of either kind.
func ParseName(text string) (Name, error) {
	i := strings.IndexAny(text, "-/")
	if i <= 0 || i == len(text)-1 {
		return Name{}, &InvalidNameError{Text: text}
	}
	n := Name{Owner: text[:i], Short: text[i+1:]}
	if !reOwner.MatchString(n.Owner) || !reShort.MatchString(n.Short) {
		return Name{}, &InvalidNameError{Text: text}
	}
	return n, nil
}

func MustParseName(text string) Name {
	n, err := ParseName(text)
	if err != nil {
		panic(err)
	}
	return n
}

func (n Name) String() string { return n.Owner + "-" + n.Short }

// ForgeName renders the legacy "owner/name" form used in metadata files.
func (n Name) ForgeName() string { return n.Owner + "/" + n.Short }

func (n Name) IsZero() bool { return n.Owner == "" && n.Short == "" }

// Dependency is one declared requirement of a release.
type Dependency struct {
	Name       Name
	Constraint semver.Constraint
}

func (d Dependency) String() string {
	return fmt.Sprintf("%s %s", d.Name, d.Constraint)
}

// Release is one published version of a module.
type Release struct {
	Name         Name
	Version      semver.Version
	Dependencies []Dependency
	// File is the archive location in the repository.
	File string
}

// ID renders "owner-name@version".
func (r Release) ID() string {
	return fmt.Sprintf("%s@%s", r.Name, r.Version)
}
