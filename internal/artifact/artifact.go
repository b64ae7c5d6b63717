// Package artifact resolves module ids to their markup and style fragments.
package artifact

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ashureev/batteryshell/internal/domain"
)

// Kind names an artifact class.
type Kind string

// Artifact kinds. Behavior is compiled in and resolved by the module table.
const (
	Markup Kind = "markup"
	Style  Kind = "style"
)

// Store fetches artifacts. A missing artifact is reported as domain.ErrArtifactNotFound,
// any other failure as domain.ErrTransport.
type Store interface {
	Fetch(ctx context.Context, kind Kind, id string) ([]byte, error)
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// Layout maps a module id to artifact paths with "{id}" templates.
type Layout struct {
	Markup    string
	Style     string
	Lowercase bool
}

// ViewLayout is the layout of view modules.
var ViewLayout = Layout{Markup: "views/{id}.html", Style: "css/{id}.css"}

// ChipLayout is the layout of chip modules. Chip ids are matched case-insensitively.
var ChipLayout = Layout{Markup: "chips/{id}.html", Style: "chips/{id}.css", Lowercase: true}

// Path returns the artifact path for id.
func (l Layout) Path(kind Kind, id string) (string, error) {
	if !idPattern.MatchString(id) {
		return "", &domain.OpError{Op: "resolve", Target: id, Err: fmt.Errorf("%w: invalid module id", domain.ErrInvalidInput)}
	}
	var tmpl string
	switch kind {
	case Markup:
		tmpl = l.Markup
	case Style:
		tmpl = l.Style
	}
	if tmpl == "" {
		return "", &domain.OpError{Op: "resolve", Target: id, Err: fmt.Errorf("%w: no %s artifact", domain.ErrArtifactNotFound, kind)}
	}
	if l.Lowercase {
		id = strings.ToLower(id)
	}
	return strings.ReplaceAll(tmpl, "{id}", id), nil
}

func notFound(kind Kind, id string, cause error) error {
	return &domain.OpError{Op: "fetch_" + string(kind), Target: id, Err: fmt.Errorf("%w: %v", domain.ErrArtifactNotFound, cause)}
}

func transportErr(kind Kind, id string, cause error) error {
	return &domain.OpError{Op: "fetch_" + string(kind), Target: id, Err: fmt.Errorf("%w: %v", domain.ErrTransport, cause)}
}
