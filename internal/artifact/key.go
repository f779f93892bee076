package artifact

import (
	"path"
	"regexp"
	"strings"

	"github.com/joseph-ayodele/doc-enricher/constants"
	"github.com/joseph-ayodele/doc-enricher/internal/common"
)

// Kind names a class of artifact attached to a document.
type Kind string

const (
	RawText         Kind = "raw_text"
	ProviderFileRef Kind = "provider_file_ref"
	Metadata        Kind = "metadata"
	SEOTerms        Kind = "seo_terms"
	ExecutionLog    Kind = "execution_log"
	AgentRef        Kind = "agent_ref"
)

// Key addresses one artifact of a document. Stage is set only for the
// per-stage kinds (execution_log, agent_ref).
type Key struct {
	Kind  Kind
	Stage string
}

func KeyOf(kind Kind) Key { return Key{Kind: kind} }

func ExecutionLogKey(stage string) Key { return Key{Kind: ExecutionLog, Stage: stage} }

func AgentRefKey(stage string) Key { return Key{Kind: AgentRef, Stage: stage} }

func (k Key) String() string {
	if k.Stage != "" {
		return string(k.Kind) + ":" + k.Stage
	}
	return string(k.Kind)
}

// perStage reports whether the kind is scoped to a stage.
func (k Kind) perStage() bool {
	return k == ExecutionLog || k == AgentRef
}

var stageRe = regexp.MustCompile(`^[a-z0-9_-]+$`)

// Validate checks the key is one the store can lay out on disk.
func (k Key) Validate() error {
	switch k.Kind {
	case RawText, ProviderFileRef, Metadata, SEOTerms:
		if k.Stage != "" {
			return common.ValidationErrorf("artifact kind %q takes no stage", k.Kind)
		}
	case ExecutionLog, AgentRef:
		if !stageRe.MatchString(k.Stage) {
			return common.ValidationErrorf("artifact kind %q needs a stage id, got %q", k.Kind, k.Stage)
		}
	default:
		return common.ValidationErrorf("unknown artifact kind %q", k.Kind)
	}
	return nil
}

// ParseKey accepts "metadata" or "execution_log:seo" forms.
func ParseKey(s string) (Key, error) {
	kind, stage, _ := strings.Cut(strings.TrimSpace(s), ":")
	k := Key{Kind: Kind(kind), Stage: stage}
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}

// relPath is the artifact's location relative to the document directory.
func (k Key) relPath() string {
	switch k.Kind {
	case RawText:
		return "raw_text.txt"
	case ProviderFileRef:
		return "provider_file_ref.txt"
	case Metadata:
		return "metadata.json"
	case SEOTerms:
		return "seo_terms.json"
	case ExecutionLog:
		return path.Join("logs", k.Stage+".json")
	case AgentRef:
		return path.Join("agents", k.Stage+".ref")
	}
	return ""
}

var unsafeDocChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SanitizeDocument reduces a caller-supplied name to a safe basename:
// directory components are dropped and unsafe characters become '_'.
func SanitizeDocument(name string) (string, error) {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	name = unsafeDocChars.ReplaceAllString(name, "_")
	if name == "" || name == "." || name == ".." {
		return "", common.ValidationErrorf("document basename is empty after sanitization")
	}
	if len(name) > constants.MaxDocumentNameLength {
		return "", common.ValidationErrorf("document basename longer than %d characters", constants.MaxDocumentNameLength)
	}
	if strings.HasPrefix(name, ".") {
		return "", common.ValidationErrorf("document basename %q must not start with a dot", name)
	}
	return name, nil
}

func mustDocument(doc string) error {
	clean, err := SanitizeDocument(doc)
	if err != nil {
		return err
	}
	if clean != doc {
		return common.ValidationErrorf("document %q is not a sanitized basename", doc)
	}
	return nil
}
